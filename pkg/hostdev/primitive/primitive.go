// Copyright (c) 2017-2018 Intel Corporation
// Copyright (c) 2018 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

// Package primitive defines the Device Primitive Facade: the operations the
// PCI assignment pipeline needs on one physical device, abstracted from the
// sysfs/ioctl details so the pipeline can be tested against a fake. See
// sysfs.go for the default, real-host implementation.
package primitive

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/cailiang831/libvirt/pkg/hostdev/config"
	"github.com/cailiang831/libvirt/pkg/pciaddr"
)

var primLogger = logrus.WithField("subsystem", "hostdev-primitive")

// SetLogger overrides the package logger, preserving any fields already
// set on it.
func SetLogger(logger *logrus.Entry) {
	fields := primLogger.Data
	primLogger = logger.WithFields(fields)
}

// Device is the Device Primitive Facade: operations on one PCI device,
// given bare references to the active/inactive registries so a call can
// consult sibling state mid-operation while the pipeline holds both locks.
// Detach/Reset/Reattach/WaitForCleanup block on real kernel I/O; callers
// must pass a ctx with an appropriate deadline if they want a bound on
// wall-clock time, though cancellation does not abort an in-flight rollback
// (spec: cancellation is not supported once a pipeline phase has started).
type Device interface {
	// New probes addr and returns a fresh handle, or an error if the
	// address does not correspond to an assignable PCI function.
	New(ctx context.Context, addr pciaddr.Address) (*config.PCIHandle, error)

	// IsAssignable is a host-policy check: is h safe to hand to a guest
	// under the given ACS strictness.
	IsAssignable(ctx context.Context, h *config.PCIHandle, strictACS bool) (bool, error)

	// Detach binds h to its configured stub driver and captures the
	// original-state trio. It fails if the device is in use by the host
	// kernel in a way that cannot be taken over.
	Detach(ctx context.Context, h *config.PCIHandle, active, inactive *config.PCISet) error

	// Reset performs a function- or slot-level reset. Must only be
	// called after every function sharing h's reset scope has been
	// detached.
	Reset(ctx context.Context, h *config.PCIHandle, active, inactive *config.PCISet) error

	// Reattach unbinds h from its stub driver and, if its original state
	// says so, triggers a driver reprobe.
	Reattach(ctx context.Context, h *config.PCIHandle, active, inactive *config.PCISet) error

	// WaitForCleanup polls a kernel-visible marker named by tag until it
	// clears or the retry budget is exhausted.
	WaitForCleanup(ctx context.Context, h *config.PCIHandle, tag string) error

	// IsVirtualFunction reports whether addr is an SR-IOV VF.
	IsVirtualFunction(ctx context.Context, addr pciaddr.Address) (bool, error)

	// GetVFInfo returns the parent PF's netdev name and this VF's index,
	// valid only when IsVirtualFunction(addr) is true.
	GetVFInfo(ctx context.Context, addr pciaddr.Address) (pfNetdev string, vfIndex int, err error)

	// GetNetName returns the netdev name bound to addr, if any.
	GetNetName(ctx context.Context, addr pciaddr.Address) (string, error)
}
