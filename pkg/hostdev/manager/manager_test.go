// Copyright (c) 2017-2018 Intel Corporation
// Copyright (c) 2018 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package manager

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cailiang831/libvirt/pkg/hostdev/config"
	"github.com/cailiang831/libvirt/pkg/pciaddr"
)

func TestNewManagerCreatesStateDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "hostdevmgr")
	m, err := NewManager(dir)
	require.NoError(t, err)
	assert.DirExists(t, dir)
	assert.Equal(t, 0, m.ActivePCI.Len())
	assert.Equal(t, 0, m.InactivePCI.Len())
}

func TestNewManagerFreshRegistriesAreIndependent(t *testing.T) {
	a, err := NewManager(t.TempDir())
	require.NoError(t, err)
	b, err := NewManager(t.TempDir())
	require.NoError(t, err)

	addr, err := pciaddr.Parse("0000:03:00.0")
	require.NoError(t, err)
	require.NoError(t, a.ActivePCI.Add(&config.PCIHandle{Address: addr}))

	assert.Equal(t, 1, a.ActivePCI.Len())
	assert.Equal(t, 0, b.ActivePCI.Len())
}

func TestGetDefaultReturnsSameInstance(t *testing.T) {
	origDir, origOnce, origManager, origErr := DefaultStateDir, defaultOnce, defaultManager, defaultErr
	t.Cleanup(func() {
		DefaultStateDir, defaultOnce, defaultManager, defaultErr = origDir, origOnce, origManager, origErr
	})
	DefaultStateDir = t.TempDir()
	defaultOnce = sync.Once{}
	defaultManager, defaultErr = nil, nil

	first, err := GetDefault()
	require.NoError(t, err)
	second, err := GetDefault()
	require.NoError(t, err)
	assert.Same(t, first, second)
}
