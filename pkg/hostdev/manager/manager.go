// Copyright (c) 2017-2018 Intel Corporation
// Copyright (c) 2018 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

// Package manager implements the Host Device Manager: the process-wide
// singleton holding the four device registries (active/inactive PCI, active
// USB, active SCSI) and the state directory the Net-VF Config Hook persists
// VF configuration to.
package manager

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/cailiang831/libvirt/pkg/hostdev/config"
)

var mgrLogger = logrus.WithField("subsystem", "hostdev-manager")

// SetLogger overrides the package logger, preserving any fields already set
// on it.
func SetLogger(logger *logrus.Entry) {
	fields := mgrLogger.Data
	mgrLogger = logger.WithFields(fields)
}

// DefaultStateDir is the state directory path GetDefault initializes the
// singleton with (spec.md §6: "typically <localstate>/run/<product>/hostdevmgr").
// A var, not a const, so tests can override it before exercising GetDefault.
var DefaultStateDir = "/var/run/libvirt/hostdevmgr"

const stateDirMode = 0755

// Manager is the Host Device Manager: four device registries plus the state
// directory the Net-VF Config Hook writes saved VF configuration under. The
// zero value is not usable; construct with NewManager or use GetDefault.
type Manager struct {
	ActivePCI   *config.PCISet
	InactivePCI *config.PCISet
	ActiveUSB   *config.USBSet
	ActiveSCSI  *config.SCSISet

	StateDir string
}

// NewManager builds a Manager with a fresh set of empty registries and the
// given state directory, creating the directory if it does not exist. It is
// exported so tests (and embedding processes that want more than one
// instance) do not have to go through the process-wide singleton.
func NewManager(stateDir string) (*Manager, error) {
	if err := os.MkdirAll(stateDir, stateDirMode); err != nil {
		return nil, config.FailedFrom(err, "creating hostdev manager state directory "+stateDir)
	}

	m := &Manager{
		ActivePCI:   config.NewPCISet(),
		InactivePCI: config.NewPCISet(),
		ActiveUSB:   config.NewUSBSet(),
		ActiveSCSI:  config.NewSCSISet(),
		StateDir:    stateDir,
	}
	mgrLogger.WithField("state-dir", stateDir).Debug("hostdev manager initialized")
	return m, nil
}

var (
	defaultOnce    sync.Once
	defaultManager *Manager
	defaultErr     error
)

// GetDefault returns the process-wide Manager singleton, allocating and
// initializing it (four device sets, the default state directory) on first
// call. Every later call returns the same instance. If initialization fails
// once, every subsequent call returns the same error — the caller is
// expected to treat a failed get_default as fatal to the process, matching
// the spec's "reference counting ensures the singleton is kept alive for
// the process lifetime" framing (there is no destroy path to race against).
func GetDefault() (*Manager, error) {
	defaultOnce.Do(func() {
		defaultManager, defaultErr = NewManager(DefaultStateDir)
	})
	return defaultManager, defaultErr
}
