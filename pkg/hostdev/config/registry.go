// Copyright (c) 2017-2018 Intel Corporation
// Copyright (c) 2018 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package config

import (
	"github.com/cailiang831/libvirt/pkg/hostdev/set"
	"github.com/cailiang831/libvirt/pkg/pciaddr"
)

// PCISet is a Device Set of PCI handles, keyed by PCI address.
type PCISet = set.Set[pciaddr.Address, *PCIHandle]

// USBSet is a Device Set of USB handles, keyed by bus/device number.
type USBSet = set.Set[USBAddress, *USBHandle]

// SCSISet is a Device Set of SCSI handles, keyed by host:bus:target:lun.
type SCSISet = set.Set[SCSIAddress, *SCSIHandle]

// NewPCISet returns an empty PCI registry.
func NewPCISet() *PCISet { return set.New[pciaddr.Address, *PCIHandle]() }

// NewUSBSet returns an empty USB registry.
func NewUSBSet() *USBSet { return set.New[USBAddress, *USBHandle]() }

// NewSCSISet returns an empty SCSI registry.
func NewSCSISet() *SCSISet { return set.New[SCSIAddress, *SCSIHandle]() }
