// Copyright (c) 2017-2018 Intel Corporation
// Copyright (c) 2018 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package config

import "github.com/cailiang831/libvirt/pkg/pciaddr"

// PCIHandle is one assignable PCI device handle: the address is its
// immutable identity, the rest is mutable state the pipeline and the Device
// Primitive Facade update as the device moves through detach/reset/assign.
// It satisfies set.Keyed[pciaddr.Address, *PCIHandle].
type PCIHandle struct {
	Address pciaddr.Address

	Managed    bool
	StubDriver StubDriver

	// UsedBy is populated exactly when this handle is active (I2).
	UsedBy *Owner

	OriginalState OriginalState

	// Network is non-nil when this device is an SR-IOV VF whose parent is
	// a guest network interface.
	Network *NetworkInterface
}

// Key implements set.Keyed.
func (h *PCIHandle) Key() pciaddr.Address { return h.Address }

// Clone implements set.Keyed: a deep copy so ListCopy callers cannot
// mutate registry state out from under the owner.
func (h *PCIHandle) Clone() *PCIHandle {
	clone := *h
	if h.UsedBy != nil {
		owner := *h.UsedBy
		clone.UsedBy = &owner
	}
	if h.Network != nil {
		network := *h.Network
		if h.Network.VLAN != nil {
			vlan := *h.Network.VLAN
			if h.Network.VLAN.Tag != nil {
				tag := *h.Network.VLAN.Tag
				vlan.Tag = &tag
			}
			if h.Network.VLAN.Trunk != nil {
				vlan.Trunk = append([]uint16(nil), h.Network.VLAN.Trunk...)
			}
			network.VLAN = &vlan
		}
		if h.Network.VirtPort != nil {
			vp := *h.Network.VirtPort
			network.VirtPort = &vp
		}
		clone.Network = &network
	}
	return &clone
}

// USBAddress identifies a USB device by bus and device number.
type USBAddress struct {
	Bus    uint8
	Device uint8
}

// USBHandle is the USB equivalent of PCIHandle: same registry pattern, no
// reset, no SR-IOV reconfiguration, no original-state trio (USB devices are
// always treated as already detachable by the host kernel's usbfs layer).
type USBHandle struct {
	Address USBAddress
	UsedBy  *Owner
}

func (h *USBHandle) Key() USBAddress { return h.Address }

func (h *USBHandle) Clone() *USBHandle {
	clone := *h
	if h.UsedBy != nil {
		owner := *h.UsedBy
		clone.UsedBy = &owner
	}
	return &clone
}

// SCSIAddress identifies a SCSI device by host:bus:target:lun.
type SCSIAddress struct {
	Host   uint32
	Bus    uint32
	Target uint32
	LUN    uint64
}

// SCSIHandle is the SCSI equivalent of PCIHandle.
type SCSIHandle struct {
	Address SCSIAddress
	UsedBy  *Owner
}

func (h *SCSIHandle) Key() SCSIAddress { return h.Address }

func (h *SCSIHandle) Clone() *SCSIHandle {
	clone := *h
	if h.UsedBy != nil {
		owner := *h.UsedBy
		clone.UsedBy = &owner
	}
	return &clone
}
