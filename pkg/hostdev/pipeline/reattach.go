// Copyright (c) 2017-2018 Intel Corporation
// Copyright (c) 2018 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package pipeline

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/cailiang831/libvirt/pkg/hostdev/config"
	"github.com/cailiang831/libvirt/pkg/hostdev/manager"
	"github.com/cailiang831/libvirt/pkg/hostdev/netvf"
	"github.com/cailiang831/libvirt/pkg/hostdev/primitive"
)

const (
	cleanupWaitTag = "kvm_assigned_device"
)

type reattachItem struct {
	handle  *config.PCIHandle
	hostdev *config.Hostdev
}

// ReattachPCI is the inverse of PreparePCI. It never fails the call: every
// per-device error is logged and the function proceeds to the next device.
// legacyDir is consulted as a fallback by the Net-VF Config Hook when the
// manager's own state directory has no saved config for a VF.
func ReattachPCI(ctx context.Context, m *manager.Manager, dev primitive.Device, hook *netvf.Hook, driver, domain string, hostdevs []*config.Hostdev, legacyDir string) {
	log := pipelineLogger.WithFields(logrus.Fields{"driver": driver, "domain": domain})

	m.ActivePCI.Lock()
	defer m.ActivePCI.Unlock()
	m.InactivePCI.Lock()
	defer m.InactivePCI.Unlock()

	caller := config.Owner{Driver: driver, Domain: domain}

	// Step 1 + 2: pull every matching handle whose used-by is this caller
	// out of active-PCI. A handle owned by a different guest is left
	// untouched entirely.
	var items []*reattachItem
	for _, hd := range hostdevs {
		if hd.Subsystem != config.SubsystemPCI {
			continue
		}
		canonical, ok := m.ActivePCI.FindByAddress(hd.Address)
		if !ok {
			continue
		}
		if canonical.UsedBy == nil || !canonical.UsedBy.Equal(caller) {
			log.WithField("device", hd.Address).Debug("device belongs to another guest, not touching it")
			continue
		}
		m.ActivePCI.Remove(hd.Address)
		items = append(items, &reattachItem{handle: canonical, hostdev: hd})
	}

	// Step 3: restore VF networking for every hostdev in the original
	// list, regardless of whether it survived into items (Restore is a
	// no-op for a nil Network or a non-VF address).
	restoreHook := &netvf.Hook{StateDir: hook.StateDir, Legacy: legacyDir, Associator: hook.Associator}
	for _, hd := range hostdevs {
		if hd.Subsystem != config.SubsystemPCI {
			continue
		}
		if err := restoreHook.Restore(ctx, hd.Address, hd.Network, dev); err != nil {
			log.WithError(err).WithField("device", hd.Address).Warn("VF network restore failed")
		}
	}

	// Step 4: reset every surviving handle before it is reattached, so no
	// concurrent observer can see it as active while transiently reset.
	for _, it := range items {
		if err := dev.Reset(ctx, it.handle, m.ActivePCI, m.InactivePCI); err != nil {
			log.WithError(err).WithField("device", it.handle.Address).Warn("reset during reattach failed")
		}
	}

	// Step 5: drain the working set, handing each handle to the
	// single-device reattach routine.
	for _, it := range items {
		singleDeviceReattach(ctx, log, dev, m, it.handle)
	}
}

// singleDeviceReattach implements §4.7: an unmanaged handle goes back to
// inactive-PCI; a managed one bound to pci-stub waits for the host kernel
// to relinquish the assignment before the facade's reattach is invoked. All
// errors are logged and swallowed; the handle is not returned to any
// registry once reattach has been attempted.
func singleDeviceReattach(ctx context.Context, log *logrus.Entry, dev primitive.Device, m *manager.Manager, h *config.PCIHandle) {
	h.UsedBy = nil

	if !h.Managed {
		if err := m.InactivePCI.Add(h); err != nil {
			log.WithError(err).WithField("device", h.Address).Warn("device already present in inactive registry, discarding handle")
		}
		return
	}

	if h.StubDriver == config.StubPCIStub {
		if err := dev.WaitForCleanup(ctx, h, cleanupWaitTag); err != nil {
			log.WithError(err).WithField("device", h.Address).Warn("wait for cleanup did not complete before retry budget was exhausted")
		}
	}

	if err := dev.Reattach(ctx, h, m.ActivePCI, m.InactivePCI); err != nil {
		log.WithError(err).WithField("device", h.Address).Warn("reattach failed, host may require manual intervention")
	}
}
