// Copyright (c) 2017-2018 Intel Corporation
// Copyright (c) 2018 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package primitive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/strategy"
	"github.com/jaypipes/pcidb"
	"github.com/sirupsen/logrus"
	ini "gopkg.in/ini.v1"

	"github.com/cailiang831/libvirt/pkg/hostdev/config"
	"github.com/cailiang831/libvirt/pkg/pciaddr"
)

// sysfs paths used to drive driver binding, reset and VF introspection.
// unbind/bind mirror the teacher's BindDevicetoVFIO/BindDevicetoHost; the
// rest (reset, remove/rescan, physfn/virtfn, uevent) are the standard Linux
// PCI sysfs ABI.
const (
	driverUnbindPath = "/sys/bus/pci/devices/%s/driver/unbind"
	driverBindPath   = "/sys/bus/pci/drivers/%s/bind"
	driverOverride   = "/sys/bus/pci/devices/%s/driver_override"
	newIDPath        = "/sys/bus/pci/drivers/%s/new_id"
	removeIDPath     = "/sys/bus/pci/drivers/%s/remove_id"
	iommuGroupPath   = "/sys/bus/pci/devices/%s/iommu_group"
	iommuGroupDevs   = "/sys/kernel/iommu_groups/%s/devices"
	resetPath        = "/sys/bus/pci/devices/%s/reset"
	removePath       = "/sys/bus/pci/devices/%s/remove"
	rescanPath       = "/sys/bus/pci/rescan"
	ueventPath       = "/sys/bus/pci/devices/%s/uevent"
	vendorPath       = "/sys/bus/pci/devices/%s/vendor"
	devicePath       = "/sys/bus/pci/devices/%s/device"
	physfnPath       = "/sys/bus/pci/devices/%s/physfn"
	netDirPath       = "/sys/bus/pci/devices/%s/net"
	virtfnPrefix     = "virtfn"

	cleanupRetryLimit = 100
	cleanupRetryWait  = 100 * time.Millisecond
)

// SysfsDevice is the reference Device Primitive Facade implementation,
// driving the real Linux PCI sysfs tree. It is the default used outside of
// tests; pipeline tests inject a fake instead.
type SysfsDevice struct {
	sysRoot string // overridable in tests; defaults to "" (use absolute paths)
	db      *pcidb.PCIDB
}

// NewSysfsDevice returns a SysfsDevice. The PCI ID database is loaded
// best-effort: a failure to load it only degrades error messages (device
// class names fall back to raw vendor:device IDs), it never fails
// construction.
func NewSysfsDevice() *SysfsDevice {
	db, err := pcidb.New()
	if err != nil {
		primLogger.WithError(err).Warn("failed to load PCI ID database, falling back to raw IDs")
		db = nil
	}
	return &SysfsDevice{db: db}
}

func (d *SysfsDevice) path(format string, a ...interface{}) string {
	return filepath.Join(d.sysRoot, fmt.Sprintf(format, a...))
}

func writeSysfs(path string, data string) error {
	//nolint:gosec // sysfs control files are root-owned and intentionally 0644/0200
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(data)
	return err
}

// New probes addr via sysfs and returns a fresh, unconfigured handle.
func (d *SysfsDevice) New(ctx context.Context, addr pciaddr.Address) (*config.PCIHandle, error) {
	bdf := addr.String()
	if _, err := os.Stat(d.path(vendorPath, bdf)); err != nil {
		return nil, config.FailedFrom(err, "probing device "+bdf)
	}

	if uevent, err := readUevent(d.path(ueventPath, bdf)); err == nil {
		primLogger.WithFields(logrus.Fields{
			"device": bdf,
			"driver": uevent["DRIVER"],
		}).Debug("probed device uevent")
	}

	return &config.PCIHandle{Address: addr}, nil
}

// IsAssignable checks that addr's IOMMU group, under strict ACS, contains
// only this device's own function.
func (d *SysfsDevice) IsAssignable(ctx context.Context, h *config.PCIHandle, strictACS bool) (bool, error) {
	bdf := h.Address.String()

	groupLink, err := os.Readlink(d.path(iommuGroupPath, bdf))
	if err != nil {
		return false, nil //nolint:nilerr // no IOMMU group means no isolation guarantee: not assignable, not an error
	}
	group := filepath.Base(groupLink)

	if !strictACS {
		return true, nil
	}

	entries, err := os.ReadDir(d.path(iommuGroupDevs, group))
	if err != nil {
		return false, config.FailedFrom(err, "listing IOMMU group "+group)
	}

	for _, entry := range entries {
		if entry.Name() != bdf {
			primLogger.WithFields(logrus.Fields{
				"device": bdf,
				"group":  group,
				"sibling": entry.Name(),
			}).Debug("device fails strict ACS isolation check")
			return false, nil
		}
	}
	return true, nil
}

func (d *SysfsDevice) className(bdf string) string {
	vendorID, err1 := readHexID(d.path(vendorPath, bdf))
	deviceID, err2 := readHexID(d.path(devicePath, bdf))
	if err1 != nil || err2 != nil {
		return bdf
	}
	if d.db == nil {
		return fmt.Sprintf("%s:%s", vendorID, deviceID)
	}
	vendor, ok := d.db.Vendors[vendorID]
	if !ok {
		return fmt.Sprintf("%s:%s", vendorID, deviceID)
	}
	for _, product := range vendor.Products {
		if product.ID == deviceID {
			return fmt.Sprintf("%s %s", vendor.Name, product.Name)
		}
	}
	return fmt.Sprintf("%s %s:%s", vendor.Name, vendorID, deviceID)
}

func readHexID(path string) (string, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(strings.TrimSpace(string(buf)), "0x"), nil
}

// Detach binds h to its configured stub driver, recording the trio needed
// to undo the bind on reattach.
func (d *SysfsDevice) Detach(ctx context.Context, h *config.PCIHandle, active, inactive *config.PCISet) error {
	bdf := h.Address.String()

	curDriver, _ := d.currentDriver(bdf)
	if curDriver == string(h.StubDriver) {
		// already bound, nothing to record/undo
		h.OriginalState = config.OriginalState{}
		return nil
	}

	wasBound := curDriver != ""
	if wasBound {
		if err := writeSysfs(d.path(driverUnbindPath, bdf), bdf); err != nil {
			return config.FailedFrom(err, "unbinding "+bdf+" from "+curDriver+" ("+d.className(bdf)+")")
		}
	}

	if err := writeSysfs(d.path(driverOverride, bdf), string(h.StubDriver)); err != nil {
		primLogger.WithError(err).WithField("device", bdf).Debug("driver_override not supported, binding without it")
	}

	if err := writeSysfs(d.path(driverBindPath, string(h.StubDriver)), bdf); err != nil {
		return config.FailedFrom(err, "binding "+bdf+" to "+string(h.StubDriver))
	}

	h.OriginalState = config.OriginalState{
		UnbindFromStub: true,
		RemoveSlot:     false,
		Reprobe:        wasBound,
	}
	return nil
}

func (d *SysfsDevice) currentDriver(bdf string) (string, error) {
	link, err := os.Readlink(d.path("/sys/bus/pci/devices/%s/driver", bdf))
	if err != nil {
		return "", nil //nolint:nilerr // unbound device, not an error
	}
	return filepath.Base(link), nil
}

// Reset performs a function-level reset via the standard sysfs "reset"
// attribute. Callers must only invoke this once every function sharing h's
// slot/bus has already been detached (see pkg/hostdev/pipeline).
func (d *SysfsDevice) Reset(ctx context.Context, h *config.PCIHandle, active, inactive *config.PCISet) error {
	bdf := h.Address.String()
	if err := writeSysfs(d.path(resetPath, bdf), "1"); err != nil {
		return config.FailedFrom(err, "resetting "+bdf)
	}
	return nil
}

// Reattach unbinds h from its stub driver and, if OriginalState says the
// slot was bound to a host driver before detach, triggers a driver reprobe
// by removing and rescanning the device.
func (d *SysfsDevice) Reattach(ctx context.Context, h *config.PCIHandle, active, inactive *config.PCISet) error {
	bdf := h.Address.String()

	if h.OriginalState.UnbindFromStub {
		if err := writeSysfs(d.path(driverUnbindPath, bdf), bdf); err != nil {
			primLogger.WithError(err).WithField("device", bdf).Warn("failed to unbind from stub driver")
		}
		_ = writeSysfs(d.path(driverOverride, bdf), "")
	}

	if h.OriginalState.Reprobe {
		if err := writeSysfs(d.path(removePath, bdf), "1"); err != nil {
			return config.FailedFrom(err, "removing "+bdf+" for reprobe")
		}
		if err := writeSysfs(d.path(rescanPath), "1"); err != nil {
			return config.FailedFrom(err, "triggering PCI rescan")
		}
	}
	return nil
}

// WaitForCleanup polls a kernel-visible marker file until it disappears or
// the retry budget (100 attempts, 100ms apart — about 10s total) is spent.
func (d *SysfsDevice) WaitForCleanup(ctx context.Context, h *config.PCIHandle, tag string) error {
	markerPath := d.path("/sys/bus/pci/devices/%s/%s", h.Address.String(), tag)

	return retry.Retry(func(attempt uint) error {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := os.Stat(markerPath); os.IsNotExist(err) {
			return nil
		}
		return config.Failed("marker %s still present on %s", tag, h.Address)
	}, strategy.Limit(cleanupRetryLimit), strategy.Wait(cleanupRetryWait))
}

// IsVirtualFunction reports whether addr carries a "physfn" symlink.
func (d *SysfsDevice) IsVirtualFunction(ctx context.Context, addr pciaddr.Address) (bool, error) {
	_, err := os.Readlink(d.path(physfnPath, addr.String()))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, config.FailedFrom(err, "probing physfn link for "+addr.String())
	}
	return true, nil
}

// GetVFInfo returns the parent PF's netdev name and this VF's index by
// walking the PF's virtfnN symlinks until one resolves to addr.
func (d *SysfsDevice) GetVFInfo(ctx context.Context, addr pciaddr.Address) (string, int, error) {
	bdf := addr.String()
	physfnLink, err := os.Readlink(d.path(physfnPath, bdf))
	if err != nil {
		return "", 0, config.FailedFrom(err, "reading physfn link for "+bdf)
	}
	pfBDF := filepath.Base(physfnLink)

	pfNetName, err := d.GetNetName(ctx, mustParse(pfBDF))
	if err != nil {
		return "", 0, err
	}

	pfDir := d.path("/sys/bus/pci/devices/%s", pfBDF)
	entries, err := os.ReadDir(pfDir)
	if err != nil {
		return "", 0, config.FailedFrom(err, "listing PF device directory "+pfDir)
	}
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), virtfnPrefix) {
			continue
		}
		link, err := os.Readlink(filepath.Join(pfDir, entry.Name()))
		if err != nil {
			continue
		}
		if filepath.Base(link) == bdf {
			idx, err := strconv.Atoi(strings.TrimPrefix(entry.Name(), virtfnPrefix))
			if err != nil {
				return "", 0, config.Internal("malformed virtfn entry %s", entry.Name())
			}
			return pfNetName, idx, nil
		}
	}
	return "", 0, config.Failed("no virtfn entry under %s points back to %s", pfDir, bdf)
}

// GetNetName returns the netdev name bound to addr's "net" sysfs
// subdirectory, if any.
func (d *SysfsDevice) GetNetName(ctx context.Context, addr pciaddr.Address) (string, error) {
	dir := d.path(netDirPath, addr.String())
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", config.FailedFrom(err, "listing net directory for "+addr.String())
	}
	if len(entries) == 0 {
		return "", nil
	}
	return entries[0].Name(), nil
}

func mustParse(bdf string) pciaddr.Address {
	a, err := pciaddr.Parse(bdf)
	if err != nil {
		return pciaddr.Address{}
	}
	return a
}

// readUevent parses a PCI device's uevent file the same way the teacher's
// config.GetHostPath parses uevent via go-ini: it is a flat key=value file
// with no section header.
func readUevent(path string) (map[string]string, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	for _, key := range cfg.Section("").Keys() {
		out[key.Name()] = key.Value()
	}
	return out, nil
}
