// Copyright (c) 2017-2018 Intel Corporation
// Copyright (c) 2018 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

// Package netvf implements the Net-VF Config Hook: saving, replacing and
// restoring the MAC/VLAN/virtual-port-profile state of an SR-IOV VF around
// a guest's use of it.
package netvf

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"

	"github.com/cailiang831/libvirt/pkg/hostdev/config"
	"github.com/cailiang831/libvirt/pkg/hostdev/primitive"
	"github.com/cailiang831/libvirt/pkg/pciaddr"
)

var hookLogger = logrus.WithField("subsystem", "netvf")

// SetLogger overrides the package logger, preserving any fields already
// set on it.
func SetLogger(logger *logrus.Entry) {
	fields := hookLogger.Data
	hookLogger = logger.WithFields(fields)
}

// PortProfileAssociator implements the 8021Qbh port-profile associate and
// disassociate primitives. It is the only virt-port-profile variant this
// hook implements; every other config.VirtPortProfileType fails Replace
// with CONFIG_UNSUPPORTED before an Associator is ever consulted.
type PortProfileAssociator interface {
	Associate(ctx context.Context, pfNetdev string, vfIndex int, profile config.VirtPortProfile) error
	Disassociate(ctx context.Context, pfNetdev string, vfIndex int, profile config.VirtPortProfile) error
}

// Hook is the Net-VF Config Hook. StateDir is the manager's current state
// directory (always written to, always read first on Restore); Legacy is
// an optional caller-supplied upgrade-compatibility directory consulted
// only when StateDir has no saved file for the VF (Restore only, never
// Replace — see SPEC_FULL.md's Open Question resolution).
type Hook struct {
	StateDir   string
	Legacy     string
	Associator PortProfileAssociator
}

// NewHook returns a Hook wired to the real 802.1Qbh associator.
func NewHook(stateDir string) *Hook {
	return &Hook{StateDir: stateDir, Associator: &qbhAssociator{}}
}

// Replace saves the VF's current host-side MAC/VLAN, then applies the
// guest-requested configuration: either a direct MAC/VLAN or, if the guest
// interface names a virtual-port profile, an associate call instead. For
// non-VF hostdevs or hostdevs with no network parent, Replace is a no-op.
func (h *Hook) Replace(ctx context.Context, addr pciaddr.Address, iface *config.NetworkInterface, dev primitive.Device) error {
	if iface == nil || !iface.IsVF {
		return nil
	}

	isVF, err := dev.IsVirtualFunction(ctx, addr)
	if err != nil {
		return config.FailedFrom(err, "probing whether "+addr.String()+" is an SR-IOV VF")
	}
	if !isVF {
		return nil
	}

	// The VF has already been detached to its stub driver by the time
	// Replace runs (pipeline phase 5 follows phase 3's detach), so the
	// VF's own netdev is gone — its parent PF's netdev name and this VF's
	// index must be resolved instead, the same way the MAC/VLAN path
	// below does.
	pfName, vfIndex, err := dev.GetVFInfo(ctx, addr)
	if err != nil {
		return config.FailedFrom(err, "resolving VF info for "+addr.String())
	}

	if iface.VirtPort != nil && iface.VirtPort.Type != config.VirtPortNone {
		if hasVLANConfig(iface.VLAN) {
			return config.Unsupported("VLAN configuration combined with a virtual port profile is not supported on %s", addr)
		}
		if iface.VirtPort.Type != config.VirtPort8021Qbh {
			return config.Unsupported("virtual port profile type %s is not supported on %s", iface.VirtPort.Type, addr)
		}
		return h.Associator.Associate(ctx, pfName, vfIndex, *iface.VirtPort)
	}

	if iface.VLAN != nil && len(iface.VLAN.Trunk) > 0 {
		return config.Unsupported("VLAN trunking on a directly assigned VF (%s) is not supported", addr)
	}

	pfLink, err := netlink.LinkByName(pfName)
	if err != nil {
		return config.FailedFrom(err, "looking up PF link "+pfName)
	}

	if err := h.saveCurrentConfig(pfLink, pfName, vfIndex); err != nil {
		return err
	}

	if iface.MACAddress != "" {
		mac, err := parseMAC(iface.MACAddress)
		if err != nil {
			return config.Invalid("malformed MAC address %q for %s", iface.MACAddress, addr)
		}
		if err := netlink.LinkSetVfHardwareAddr(pfLink, vfIndex, mac); err != nil {
			return config.FailedFrom(err, "setting VF MAC on "+addr.String())
		}
	}

	if iface.VLAN != nil && iface.VLAN.Tag != nil {
		if err := netlink.LinkSetVfVlan(pfLink, vfIndex, int(*iface.VLAN.Tag)); err != nil {
			return config.FailedFrom(err, "setting VF VLAN on "+addr.String())
		}
	}

	return nil
}

// Restore undoes Replace: disassociates a port profile if one was used,
// otherwise reads the saved host-side MAC/VLAN back from the state
// directory (falling back to the legacy directory) and re-applies it.
// Restore never fails the caller: every error is logged as a warning.
func (h *Hook) Restore(ctx context.Context, addr pciaddr.Address, iface *config.NetworkInterface, dev primitive.Device) error {
	if iface == nil || !iface.IsVF {
		return nil
	}

	isVF, err := dev.IsVirtualFunction(ctx, addr)
	if err != nil || !isVF {
		return nil
	}

	pfName, vfIndex, err := dev.GetVFInfo(ctx, addr)
	if err != nil {
		hookLogger.WithError(err).WithField("device", addr).Warn("failed to resolve VF info during restore")
		return nil
	}

	if iface.VirtPort != nil && iface.VirtPort.Type != config.VirtPortNone {
		if err := h.Associator.Disassociate(ctx, pfName, vfIndex, *iface.VirtPort); err != nil {
			hookLogger.WithError(err).WithField("device", addr).Warn("failed to disassociate virtual port profile")
		}
		return nil
	}

	saved, foundPath, ok := h.readSavedConfig(pfName, vfIndex)
	if !ok {
		hookLogger.WithField("device", addr).Warn("no saved VF network config found, nothing to restore")
		return nil
	}

	pfLink, err := netlink.LinkByName(pfName)
	if err != nil {
		hookLogger.WithError(err).WithField("device", addr).Warn("failed to look up PF link during restore")
		return nil
	}

	if saved.Mac != nil {
		if err := netlink.LinkSetVfHardwareAddr(pfLink, vfIndex, saved.Mac); err != nil {
			hookLogger.WithError(err).WithField("device", addr).Warn("failed to restore VF MAC")
		}
	}
	if saved.Vlan != nil {
		if err := netlink.LinkSetVfVlan(pfLink, vfIndex, int(*saved.Vlan)); err != nil {
			hookLogger.WithError(err).WithField("device", addr).Warn("failed to restore VF VLAN")
		}
	}

	hookLogger.WithFields(logrus.Fields{"device": addr, "state-file": foundPath}).Debug("restored VF network config")
	return nil
}

func hasVLANConfig(v *config.VLANConfig) bool {
	if v == nil {
		return false
	}
	return v.Tag != nil || len(v.Trunk) > 0
}
