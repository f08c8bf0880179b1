// Copyright (c) 2017-2018 Intel Corporation
// Copyright (c) 2018 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cailiang831/libvirt/pkg/hostdev/config"
	"github.com/cailiang831/libvirt/pkg/hostdev/manager"
	"github.com/cailiang831/libvirt/pkg/hostdev/netvf"
	"github.com/cailiang831/libvirt/pkg/pciaddr"
)

type neverCalledAssociator struct{ t *testing.T }

func (a neverCalledAssociator) Associate(ctx context.Context, pfNetdev string, vfIndex int, profile config.VirtPortProfile) error {
	a.t.Fatal("Associate should not be called in this test")
	return nil
}

func (a neverCalledAssociator) Disassociate(ctx context.Context, pfNetdev string, vfIndex int, profile config.VirtPortProfile) error {
	a.t.Fatal("Disassociate should not be called in this test")
	return nil
}

func newTestHook(t *testing.T) *netvf.Hook {
	t.Helper()
	return &netvf.Hook{StateDir: t.TempDir(), Associator: neverCalledAssociator{t}}
}

func addr(t *testing.T, s string) pciaddr.Address {
	t.Helper()
	a, err := pciaddr.Parse(s)
	require.NoError(t, err)
	return a
}

func newTestManager(t *testing.T) *manager.Manager {
	t.Helper()
	m, err := manager.NewManager(t.TempDir())
	require.NoError(t, err)
	return m
}

// Scenario 1: single managed VFIO device, happy path.
func TestPreparePCI_HappyPath(t *testing.T) {
	m := newTestManager(t)
	dev := newFakeDevice()
	hook := newTestHook(t)

	hd := &config.Hostdev{Subsystem: config.SubsystemPCI, Address: addr(t, "0000:03:00.0"), Managed: true, Backend: config.BackendVFIO}

	err := PreparePCI(context.Background(), m, dev, hook, "qemu", "vm-A", "uuid-a", []*config.Hostdev{hd}, 0)
	require.NoError(t, err)

	h, ok := m.ActivePCI.FindByAddress(hd.Address)
	require.True(t, ok)
	assert.Equal(t, config.StubVFIOPCI, h.StubDriver)
	require.NotNil(t, h.UsedBy)
	assert.Equal(t, "qemu", h.UsedBy.Driver)
	assert.Equal(t, "vm-A", h.UsedBy.Domain)
	assert.True(t, h.OriginalState.UnbindFromStub)
	assert.Equal(t, 0, m.InactivePCI.Len())
	assert.True(t, hd.OriginalState.UnbindFromStub)
}

// Scenario 2: device already owned by another guest.
func TestPreparePCI_AlreadyOwned(t *testing.T) {
	m := newTestManager(t)
	dev := newFakeDevice()
	hook := newTestHook(t)
	a := addr(t, "0000:03:00.0")

	require.NoError(t, m.ActivePCI.Add(&config.PCIHandle{Address: a, UsedBy: &config.Owner{Driver: "qemu", Domain: "vm-A"}}))

	hd := &config.Hostdev{Subsystem: config.SubsystemPCI, Address: a, Managed: true, Backend: config.BackendVFIO}
	err := PreparePCI(context.Background(), m, dev, hook, "qemu", "vm-B", "uuid-b", []*config.Hostdev{hd}, 0)

	require.Error(t, err)
	assert.Equal(t, config.KindOperationInvalid, config.CodeOf(err))
	assert.Contains(t, err.Error(), "qemu")
	assert.Contains(t, err.Error(), "vm-A")
	assert.Equal(t, 1, m.ActivePCI.Len())
}

// Scenario 3: two devices, reset of the second fails; both reattached,
// registries unchanged, failure returned.
func TestPreparePCI_ResetFailsRollsBackBoth(t *testing.T) {
	m := newTestManager(t)
	dev := newFakeDevice()
	hook := newTestHook(t)

	a1 := addr(t, "0000:03:00.0")
	a2 := addr(t, "0000:04:00.0")
	dev.resetErr[a2] = assert.AnError

	hd1 := &config.Hostdev{Subsystem: config.SubsystemPCI, Address: a1, Managed: true, Backend: config.BackendVFIO}
	hd2 := &config.Hostdev{Subsystem: config.SubsystemPCI, Address: a2, Managed: true, Backend: config.BackendVFIO}

	err := PreparePCI(context.Background(), m, dev, hook, "qemu", "vm-A", "uuid-a", []*config.Hostdev{hd1, hd2}, 0)
	require.Error(t, err)

	assert.ElementsMatch(t, []pciaddr.Address{a1, a2}, dev.reattached)
	assert.Equal(t, 0, m.ActivePCI.Len())
	assert.Equal(t, 0, m.InactivePCI.Len())
}

// Scenario 5: unsupported port-profile type fails before any detach.
func TestPreparePCI_UnsupportedPortProfile(t *testing.T) {
	m := newTestManager(t)
	dev := &fakeDeviceVF{fakeDevice: newFakeDevice(), isVF: true, netName: "eth0"}
	hook := newTestHook(t)

	a := addr(t, "0000:03:00.0")
	hd := &config.Hostdev{
		Subsystem: config.SubsystemPCI,
		Address:   a,
		Managed:   true,
		Backend:   config.BackendVFIO,
		Network: &config.NetworkInterface{
			IsVF:     true,
			VirtPort: &config.VirtPortProfile{Type: config.VirtPort8021Qbg},
		},
	}

	err := PreparePCI(context.Background(), m, dev, hook, "qemu", "vm-A", "uuid-a", []*config.Hostdev{hd}, 0)
	require.Error(t, err)
	assert.Equal(t, config.KindConfigUnsupported, config.CodeOf(err))
	assert.Equal(t, 0, m.ActivePCI.Len())
	assert.Equal(t, 0, m.InactivePCI.Len())
	assert.Empty(t, dev.reattached)
}

// fakeDeviceVF wraps fakeDevice so IsVirtualFunction/GetNetName can return
// non-default values without touching real netlink (GetVFInfo is inherited
// from fakeDevice and returns an empty PF name and index 0).
type fakeDeviceVF struct {
	*fakeDevice
	isVF    bool
	netName string
}

func (f *fakeDeviceVF) IsVirtualFunction(ctx context.Context, a pciaddr.Address) (bool, error) {
	return f.isVF, nil
}

func (f *fakeDeviceVF) GetNetName(ctx context.Context, a pciaddr.Address) (string, error) {
	return f.netName, nil
}

func TestFlagHas(t *testing.T) {
	assert.True(t, StrictACSCheck.has(StrictACSCheck))
	assert.False(t, Flag(0).has(StrictACSCheck))
}
