// Copyright (c) 2017-2018 Intel Corporation
// Copyright (c) 2018 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

// Package config holds the data types shared across the host device
// manager: hostdev specifications handed in by the domain-definition
// collaborator, the stub-driver/backend enumerations, and the error
// taxonomy (errors.go).
package config

import "github.com/cailiang831/libvirt/pkg/pciaddr"

// Subsystem is the kind of host device a Hostdev describes.
type Subsystem string

const (
	SubsystemPCI  Subsystem = "pci"
	SubsystemUSB  Subsystem = "usb"
	SubsystemSCSI Subsystem = "scsi"
)

// Backend selects which stub driver a managed PCI device is bound to.
type Backend string

const (
	// BackendVFIO is the modern IOMMU-backed passthrough driver.
	BackendVFIO Backend = "vfio"

	// BackendLegacy uses the older pci-stub placeholder driver.
	BackendLegacy Backend = "kvm"
)

// StubDriver is the name of the kernel driver that owns an assigned PCI
// device while it is held for passthrough.
type StubDriver string

const (
	StubVFIOPCI StubDriver = "vfio-pci"
	StubPCIStub StubDriver = "pci-stub"
)

// DriverFor returns the stub driver a hostdev with the given backend
// preference should be bound to: vfio-pci for the VFIO backend, pci-stub
// otherwise.
func DriverFor(b Backend) StubDriver {
	if b == BackendVFIO {
		return StubVFIOPCI
	}
	return StubPCIStub
}

// VirtPortProfileType enumerates the virtual-port-profile variants a guest
// network interface may request. Only Qbh is implemented; every other arm
// of this otherwise-exhaustive switch produces CONFIG_UNSUPPORTED.
type VirtPortProfileType string

const (
	VirtPortNone          VirtPortProfileType = ""
	VirtPort8021Qbg       VirtPortProfileType = "802.1Qbg"
	VirtPort8021Qbh       VirtPortProfileType = "802.1Qbh"
	VirtPortOpenvswitch   VirtPortProfileType = "openvswitch"
	VirtPortMidonet       VirtPortProfileType = "midonet"
)

// VirtPortProfile is the guest-requested switch association for an SR-IOV
// VF's network interface.
type VirtPortProfile struct {
	Type         VirtPortProfileType
	ManagerID    uint8
	TypeID       uint32
	TypeIDVer    uint8
	InstanceUUID string // the VF's association instance, 36-byte UUID string
}

// VLANConfig describes the VLAN programming requested for an SR-IOV VF.
// Trunk and Tag are mutually exclusive; both are mutually exclusive with a
// non-empty VirtPortProfile (spec: "VLAN trunking and direct VLAN setting
// combined with a virt-port profile both fail with CONFIG_UNSUPPORTED").
type VLANConfig struct {
	Tag   *uint16
	Trunk []uint16
}

// NetworkInterface is the parent-device info of a PCI hostdev whose
// function backs a guest network interface.
type NetworkInterface struct {
	MACAddress  string
	VLAN        *VLANConfig
	VirtPort    *VirtPortProfile
	IsVF        bool
}

// Hostdev is one device entry from the domain-definition collaborator: a
// single PCI/USB/SCSI function requested for passthrough, plus its
// management and network-configuration metadata.
type Hostdev struct {
	Subsystem Subsystem
	Address   pciaddr.Address // meaningful when Subsystem == SubsystemPCI

	Managed bool
	Backend Backend

	// Network is non-nil when this PCI hostdev's parent device is a guest
	// network interface (SR-IOV VF passthrough).
	Network *NetworkInterface

	// OriginalState is populated by PreparePCI on success so the caller
	// can persist it. ReattachPCI does not read it: it uses the trio held
	// by the handle in the active-PCI registry.
	OriginalState OriginalState
}

// OriginalState is the original-state trio captured at detach time so that
// reattach restores the exact prior kernel-level condition of the slot.
type OriginalState struct {
	UnbindFromStub bool
	RemoveSlot     bool
	Reprobe        bool
}

// Owner identifies the guest that currently owns an active device handle.
type Owner struct {
	Driver string
	Domain string
}

// Equal reports whether o and other identify the same guest.
func (o Owner) Equal(other Owner) bool {
	return o.Driver == other.Driver && o.Domain == other.Domain
}
