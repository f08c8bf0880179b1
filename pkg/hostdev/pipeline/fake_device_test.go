// Copyright (c) 2017-2018 Intel Corporation
// Copyright (c) 2018 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package pipeline

import (
	"context"

	"github.com/cailiang831/libvirt/pkg/hostdev/config"
	"github.com/cailiang831/libvirt/pkg/pciaddr"
)

// fakeDevice is a fully in-memory primitive.Device used to drive the
// pipeline's phase and rollback logic without touching real sysfs.
type fakeDevice struct {
	notAssignable map[pciaddr.Address]bool
	detachErr     map[pciaddr.Address]error
	resetErr      map[pciaddr.Address]error

	reattached    []pciaddr.Address
	waitedFor     []pciaddr.Address
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		notAssignable: map[pciaddr.Address]bool{},
		detachErr:     map[pciaddr.Address]error{},
		resetErr:      map[pciaddr.Address]error{},
	}
}

func (f *fakeDevice) New(ctx context.Context, addr pciaddr.Address) (*config.PCIHandle, error) {
	return &config.PCIHandle{Address: addr}, nil
}

func (f *fakeDevice) IsAssignable(ctx context.Context, h *config.PCIHandle, strictACS bool) (bool, error) {
	return !f.notAssignable[h.Address], nil
}

func (f *fakeDevice) Detach(ctx context.Context, h *config.PCIHandle, active, inactive *config.PCISet) error {
	if err := f.detachErr[h.Address]; err != nil {
		return err
	}
	h.OriginalState = config.OriginalState{UnbindFromStub: true, Reprobe: true}
	return nil
}

func (f *fakeDevice) Reset(ctx context.Context, h *config.PCIHandle, active, inactive *config.PCISet) error {
	return f.resetErr[h.Address]
}

func (f *fakeDevice) Reattach(ctx context.Context, h *config.PCIHandle, active, inactive *config.PCISet) error {
	f.reattached = append(f.reattached, h.Address)
	return nil
}

func (f *fakeDevice) WaitForCleanup(ctx context.Context, h *config.PCIHandle, tag string) error {
	f.waitedFor = append(f.waitedFor, h.Address)
	return nil
}

func (f *fakeDevice) IsVirtualFunction(ctx context.Context, addr pciaddr.Address) (bool, error) {
	return false, nil
}

func (f *fakeDevice) GetVFInfo(ctx context.Context, addr pciaddr.Address) (string, int, error) {
	return "", 0, nil
}

func (f *fakeDevice) GetNetName(ctx context.Context, addr pciaddr.Address) (string, error) {
	return "", nil
}
