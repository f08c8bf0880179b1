// Copyright (c) 2017-2018 Intel Corporation
// Copyright (c) 2018 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package pipeline

import (
	"github.com/sirupsen/logrus"

	"github.com/cailiang831/libvirt/pkg/hostdev/config"
	"github.com/cailiang831/libvirt/pkg/hostdev/manager"
)

// PrepareUSB is the USB equivalent of PreparePCI, thinned down per spec.md
// §1's "weaker requirements" note: no primitive facade, no reset phase, no
// SR-IOV reconfiguration. It validates that none of the requested addresses
// is already active, then adds all of them atomically with used-by set.
func PrepareUSB(m *manager.Manager, driver, domain string, addrs []config.USBAddress) error {
	log := pipelineLogger.WithFields(logrus.Fields{"driver": driver, "domain": domain, "subsystem": "usb"})

	m.ActiveUSB.Lock()
	defer m.ActiveUSB.Unlock()

	for _, a := range addrs {
		if existing, ok := m.ActiveUSB.FindByAddress(a); ok {
			owner := existing.UsedBy
			if owner != nil {
				return config.Invalid("USB device %v is already assigned to driver %q domain %q", a, owner.Driver, owner.Domain)
			}
			return config.Internal("USB device %v is active with no owner", a)
		}
	}

	owner := &config.Owner{Driver: driver, Domain: domain}
	var added []config.USBAddress
	for _, a := range addrs {
		h := &config.USBHandle{Address: a, UsedBy: owner}
		if err := m.ActiveUSB.Add(h); err != nil {
			for _, a2 := range added {
				m.ActiveUSB.Remove(a2)
			}
			return config.Internal("adding USB device %v to active registry: %v", a, err)
		}
		added = append(added, a)
	}

	log.WithField("count", len(added)).Info("PrepareUSB succeeded")
	return nil
}

// ReattachUSB removes every address owned by (driver, domain) from the
// active USB registry. Like ReattachPCI it never fails the call; addresses
// owned by another guest, or not active at all, are silently skipped.
func ReattachUSB(m *manager.Manager, driver, domain string, addrs []config.USBAddress) {
	log := pipelineLogger.WithFields(logrus.Fields{"driver": driver, "domain": domain, "subsystem": "usb"})
	caller := config.Owner{Driver: driver, Domain: domain}

	m.ActiveUSB.Lock()
	defer m.ActiveUSB.Unlock()

	for _, a := range addrs {
		h, ok := m.ActiveUSB.FindByAddress(a)
		if !ok {
			continue
		}
		if h.UsedBy == nil || !h.UsedBy.Equal(caller) {
			log.WithField("device", a).Debug("USB device belongs to another guest, not touching it")
			continue
		}
		m.ActiveUSB.Remove(a)
	}
}

// PrepareSCSI is the SCSI equivalent of PrepareUSB.
func PrepareSCSI(m *manager.Manager, driver, domain string, addrs []config.SCSIAddress) error {
	log := pipelineLogger.WithFields(logrus.Fields{"driver": driver, "domain": domain, "subsystem": "scsi"})

	m.ActiveSCSI.Lock()
	defer m.ActiveSCSI.Unlock()

	for _, a := range addrs {
		if existing, ok := m.ActiveSCSI.FindByAddress(a); ok {
			owner := existing.UsedBy
			if owner != nil {
				return config.Invalid("SCSI device %v is already assigned to driver %q domain %q", a, owner.Driver, owner.Domain)
			}
			return config.Internal("SCSI device %v is active with no owner", a)
		}
	}

	owner := &config.Owner{Driver: driver, Domain: domain}
	var added []config.SCSIAddress
	for _, a := range addrs {
		h := &config.SCSIHandle{Address: a, UsedBy: owner}
		if err := m.ActiveSCSI.Add(h); err != nil {
			for _, a2 := range added {
				m.ActiveSCSI.Remove(a2)
			}
			return config.Internal("adding SCSI device %v to active registry: %v", a, err)
		}
		added = append(added, a)
	}

	log.WithField("count", len(added)).Info("PrepareSCSI succeeded")
	return nil
}

// ReattachSCSI is the SCSI equivalent of ReattachUSB.
func ReattachSCSI(m *manager.Manager, driver, domain string, addrs []config.SCSIAddress) {
	log := pipelineLogger.WithFields(logrus.Fields{"driver": driver, "domain": domain, "subsystem": "scsi"})
	caller := config.Owner{Driver: driver, Domain: domain}

	m.ActiveSCSI.Lock()
	defer m.ActiveSCSI.Unlock()

	for _, a := range addrs {
		h, ok := m.ActiveSCSI.FindByAddress(a)
		if !ok {
			continue
		}
		if h.UsedBy == nil || !h.UsedBy.Equal(caller) {
			log.WithField("device", a).Debug("SCSI device belongs to another guest, not touching it")
			continue
		}
		m.ActiveSCSI.Remove(a)
	}
}
