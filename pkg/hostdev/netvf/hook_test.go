// Copyright (c) 2017-2018 Intel Corporation
// Copyright (c) 2018 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package netvf

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cailiang831/libvirt/pkg/hostdev/config"
	"github.com/cailiang831/libvirt/pkg/pciaddr"
)

func TestNewHookWiresQbhAssociator(t *testing.T) {
	h := NewHook(t.TempDir())
	require.NotNil(t, h.Associator)
	_, ok := h.Associator.(*qbhAssociator)
	assert.True(t, ok)
}

type fakeDevice struct {
	isVF    bool
	netName string
}

func (f *fakeDevice) New(ctx context.Context, a pciaddr.Address) (*config.PCIHandle, error) {
	return &config.PCIHandle{Address: a}, nil
}
func (f *fakeDevice) IsAssignable(ctx context.Context, h *config.PCIHandle, strict bool) (bool, error) {
	return true, nil
}
func (f *fakeDevice) Detach(ctx context.Context, h *config.PCIHandle, active, inactive *config.PCISet) error {
	return nil
}
func (f *fakeDevice) Reset(ctx context.Context, h *config.PCIHandle, active, inactive *config.PCISet) error {
	return nil
}
func (f *fakeDevice) Reattach(ctx context.Context, h *config.PCIHandle, active, inactive *config.PCISet) error {
	return nil
}
func (f *fakeDevice) WaitForCleanup(ctx context.Context, h *config.PCIHandle, tag string) error {
	return nil
}
func (f *fakeDevice) IsVirtualFunction(ctx context.Context, a pciaddr.Address) (bool, error) {
	return f.isVF, nil
}
func (f *fakeDevice) GetVFInfo(ctx context.Context, a pciaddr.Address) (string, int, error) {
	return "eth0", 3, nil
}
func (f *fakeDevice) GetNetName(ctx context.Context, a pciaddr.Address) (string, error) {
	return f.netName, nil
}

func TestReplaceNoopForNonVFInterface(t *testing.T) {
	h := &Hook{StateDir: t.TempDir()}
	dev := &fakeDevice{isVF: false}
	addr, err := pciaddr.Parse("0000:03:00.0")
	require.NoError(t, err)

	err = h.Replace(context.Background(), addr, &config.NetworkInterface{IsVF: true}, dev)
	assert.NoError(t, err)
}

func TestReplaceNoopForNilInterface(t *testing.T) {
	h := &Hook{StateDir: t.TempDir()}
	dev := &fakeDevice{}
	addr, err := pciaddr.Parse("0000:03:00.0")
	require.NoError(t, err)

	assert.NoError(t, h.Replace(context.Background(), addr, nil, dev))
	assert.NoError(t, h.Restore(context.Background(), addr, nil, dev))
}

func TestReplaceRejectsUnsupportedPortProfile(t *testing.T) {
	h := &Hook{StateDir: t.TempDir()}
	dev := &fakeDevice{isVF: true, netName: "eth0"}
	addr, err := pciaddr.Parse("0000:03:00.0")
	require.NoError(t, err)

	iface := &config.NetworkInterface{
		IsVF:     true,
		VirtPort: &config.VirtPortProfile{Type: config.VirtPortOpenvswitch},
	}
	err = h.Replace(context.Background(), addr, iface, dev)
	require.Error(t, err)
	assert.Equal(t, config.KindConfigUnsupported, config.CodeOf(err))
}

func TestReplaceRejectsVLANWithPortProfile(t *testing.T) {
	h := &Hook{StateDir: t.TempDir()}
	dev := &fakeDevice{isVF: true, netName: "eth0"}
	addr, err := pciaddr.Parse("0000:03:00.0")
	require.NoError(t, err)

	tag := uint16(10)
	iface := &config.NetworkInterface{
		IsVF:     true,
		VLAN:     &config.VLANConfig{Tag: &tag},
		VirtPort: &config.VirtPortProfile{Type: config.VirtPort8021Qbh},
	}
	err = h.Replace(context.Background(), addr, iface, dev)
	require.Error(t, err)
	assert.Equal(t, config.KindConfigUnsupported, config.CodeOf(err))
}

func TestReplaceRejectsVLANTrunkWithoutPortProfile(t *testing.T) {
	h := &Hook{StateDir: t.TempDir()}
	dev := &fakeDevice{isVF: true, netName: "eth0"}
	addr, err := pciaddr.Parse("0000:03:00.0")
	require.NoError(t, err)

	iface := &config.NetworkInterface{
		IsVF: true,
		VLAN: &config.VLANConfig{Trunk: []uint16{10, 20}},
	}
	err = h.Replace(context.Background(), addr, iface, dev)
	require.Error(t, err)
	assert.Equal(t, config.KindConfigUnsupported, config.CodeOf(err))
}
