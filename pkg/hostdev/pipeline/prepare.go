// Copyright (c) 2017-2018 Intel Corporation
// Copyright (c) 2018 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

// Package pipeline implements the PCI assignment pipeline: PreparePCI,
// ReattachPCI, and the single-device reattach routine they share. This is
// the hard core of the host device manager — everything else in
// pkg/hostdev exists to let these two entry points run safely.
package pipeline

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/cailiang831/libvirt/pkg/hostdev/config"
	"github.com/cailiang831/libvirt/pkg/hostdev/manager"
	"github.com/cailiang831/libvirt/pkg/hostdev/netvf"
	"github.com/cailiang831/libvirt/pkg/hostdev/primitive"
)

var pipelineLogger = logrus.WithField("subsystem", "hostdev-pipeline")

// SetLogger overrides the package logger, preserving any fields already set
// on it.
func SetLogger(logger *logrus.Entry) {
	fields := pipelineLogger.Data
	pipelineLogger = logger.WithFields(fields)
}

// prepareItem pairs a freshly built handle with the hostdev definition it
// came from, so later phases (VF networking, stamping original state back)
// can walk both in lockstep without a second lookup.
type prepareItem struct {
	handle  *config.PCIHandle
	hostdev *config.Hostdev
}

// PreparePCI runs the nine-phase transactional prepare flow described in
// the PCI assignment pipeline design: materialize, validate, detach, reset,
// configure VF networking, activate, clear-from-inactive, stamp used-by,
// transfer ownership. On any failure it rolls back to the appropriate label
// and returns the original error; on success every requested PCI hostdev is
// bound to its stub driver, reset, reconfigured and owned by (driver,
// domain).
func PreparePCI(ctx context.Context, m *manager.Manager, dev primitive.Device, hook *netvf.Hook, driver, domain, guestUUID string, hostdevs []*config.Hostdev, flags Flag) error {
	log := pipelineLogger.WithFields(logrus.Fields{"driver": driver, "domain": domain, "uuid": guestUUID})

	m.ActivePCI.Lock()
	defer m.ActivePCI.Unlock()
	m.InactivePCI.Lock()
	defer m.InactivePCI.Unlock()

	working := config.NewPCISet()
	var items []*prepareItem

	// Phase 1: materialize working set.
	for _, hd := range hostdevs {
		if hd.Subsystem != config.SubsystemPCI {
			continue
		}
		h, err := dev.New(ctx, hd.Address)
		if err != nil {
			return config.FailedFrom(err, "probing device "+hd.Address.String())
		}
		h.Managed = hd.Managed
		h.StubDriver = config.DriverFor(hd.Backend)
		h.Network = hd.Network

		if err := working.Add(h); err != nil {
			return config.Invalid("duplicate hostdev address %s in request", hd.Address)
		}
		items = append(items, &prepareItem{handle: h, hostdev: hd})
	}

	// Phase 2: validate. No mutation: a failure here leaves the system
	// exactly as if PreparePCI had never been called.
	for _, it := range items {
		ok, err := dev.IsAssignable(ctx, it.handle, flags.has(StrictACSCheck))
		if err != nil {
			return config.FailedFrom(err, "checking assignability of "+it.handle.Address.String())
		}
		if !ok {
			return config.Invalid("device %s is not assignable", it.handle.Address)
		}
		if existing, ok := m.ActivePCI.FindByAddress(it.handle.Address); ok {
			owner := existing.UsedBy
			if owner != nil {
				return config.Invalid("device %s is already assigned to driver %q domain %q", it.handle.Address, owner.Driver, owner.Domain)
			}
			return config.Internal("device %s is active with no owner", it.handle.Address)
		}
		// An unsupported port-profile type on a VF is rejected here, before
		// any detach, rather than in phase 5.
		if nw := it.hostdev.Network; nw != nil && nw.IsVF && nw.VirtPort != nil &&
			nw.VirtPort.Type != config.VirtPortNone && nw.VirtPort.Type != config.VirtPort8021Qbh {
			if isVF, err := dev.IsVirtualFunction(ctx, it.handle.Address); err == nil && isVF {
				return config.Unsupported("virtual port profile type %s is not supported on %s", nw.VirtPort.Type, it.handle.Address)
			}
		}
	}

	// Phase 3: detach managed devices.
	for _, it := range items {
		if !it.handle.Managed {
			continue
		}
		if err := dev.Detach(ctx, it.handle, m.ActivePCI, m.InactivePCI); err != nil {
			log.WithError(err).WithField("device", it.handle.Address).Warn("detach failed, rolling back")
			return rollbackReattach(ctx, log, dev, m, items, config.FailedFrom(err, "detaching "+it.handle.Address.String()))
		}
	}

	// Phase 4: reset every handle, strictly after all detaches so a reset
	// never disturbs an attached sibling on the same slot/bus.
	for _, it := range items {
		if err := dev.Reset(ctx, it.handle, m.ActivePCI, m.InactivePCI); err != nil {
			log.WithError(err).WithField("device", it.handle.Address).Warn("reset failed, rolling back")
			return rollbackReattach(ctx, log, dev, m, items, config.FailedFrom(err, "resetting "+it.handle.Address.String()))
		}
	}

	// Phase 5: configure VF networking. lastProcessedVF intentionally
	// lags one behind the loop index: it is set for every entry, VF or not,
	// and on rollback the entry just before the failing one is not
	// restored. That is the upstream behavior this pipeline preserves, not
	// an oversight.
	lastProcessedVF := 0
	for i, it := range items {
		if it.hostdev.Network != nil {
			if err := hook.Replace(ctx, it.handle.Address, it.hostdev.Network, dev); err != nil {
				log.WithError(err).WithField("device", it.handle.Address).Warn("VF network configuration failed, rolling back")
				return rollbackVFRestore(ctx, log, hook, dev, m, items, lastProcessedVF, err)
			}
		}
		lastProcessedVF = i
	}

	// Phase 6: activate.
	var activated []*config.PCIHandle
	for _, it := range items {
		if err := m.ActivePCI.Add(it.handle); err != nil {
			log.WithError(err).WithField("device", it.handle.Address).Warn("activation failed, rolling back")
			return rollbackInactivate(ctx, log, hook, dev, m, items, activated, lastProcessedVF, config.Internal("adding %s to active registry: %v", it.handle.Address, err))
		}
		activated = append(activated, it.handle)
	}

	// Phase 7: clear from inactive (no-op if absent).
	for _, it := range items {
		m.InactivePCI.Remove(it.handle.Address)
	}

	// Phase 8: stamp used-by and copy the original-state trio back to the
	// caller-supplied hostdev definition.
	owner := &config.Owner{Driver: driver, Domain: domain}
	for _, it := range items {
		it.handle.UsedBy = owner
		it.hostdev.OriginalState = it.handle.OriginalState
	}

	// Phase 9: transfer ownership — drain the local working set, the
	// handles now belong to active-PCI.
	for working.Len() > 0 {
		working.StealAtIndex(0)
	}

	log.WithField("count", len(items)).Info("PreparePCI succeeded")
	return nil
}

// rollbackReattach is label R-reattach: best-effort reattach of every
// handle still in the working set. Errors are logged, never propagated;
// the original error is always what PreparePCI returns.
func rollbackReattach(ctx context.Context, log *logrus.Entry, dev primitive.Device, m *manager.Manager, items []*prepareItem, cause error) error {
	for _, it := range items {
		if err := dev.Reattach(ctx, it.handle, m.ActivePCI, m.InactivePCI); err != nil {
			log.WithError(err).WithField("device", it.handle.Address).Warn("rollback reattach failed, host may require manual intervention")
		}
	}
	return cause
}

// rollbackVFRestore is label R-vfrestore: restore the VF network config of
// entries [0, lastProcessedVF), so the entry at index lastProcessedVF is
// left out per the preserved strict bound, then falls through to R-reattach.
func rollbackVFRestore(ctx context.Context, log *logrus.Entry, hook *netvf.Hook, dev primitive.Device, m *manager.Manager, items []*prepareItem, lastProcessedVF int, cause error) error {
	for i := 0; i < lastProcessedVF; i++ {
		it := items[i]
		if err := hook.Restore(ctx, it.handle.Address, it.hostdev.Network, dev); err != nil {
			log.WithError(err).WithField("device", it.handle.Address).Warn("rollback VF restore failed")
		}
	}
	return rollbackReattach(ctx, log, dev, m, items, cause)
}

// rollbackInactivate is label R-inactivate: steal back every handle added
// to active-PCI during phase 6, then falls through to R-vfrestore.
func rollbackInactivate(ctx context.Context, log *logrus.Entry, hook *netvf.Hook, dev primitive.Device, m *manager.Manager, items []*prepareItem, activated []*config.PCIHandle, lastProcessedVF int, cause error) error {
	for _, h := range activated {
		m.ActivePCI.Remove(h.Address)
	}
	return rollbackVFRestore(ctx, log, hook, dev, m, items, lastProcessedVF, cause)
}
