// Copyright (c) 2017-2018 Intel Corporation
// Copyright (c) 2018 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package netvf

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vishvananda/netlink"

	"github.com/cailiang831/libvirt/pkg/hostdev/config"
)

const stateFileMode = 0600

// savedVFConfig is the host-side VF state captured by Replace, persisted as
// an opaque blob (spec: "contents are the primitive's saved-config blob,
// opaque to this core" — the format below is this core's own choice, never
// interpreted by any other component).
type savedVFConfig struct {
	Mac  net.HardwareAddr
	Vlan *int
}

func vfStateFileName(pfNetdev string, vfIndex int) string {
	return fmt.Sprintf("%s_vf%d", pfNetdev, vfIndex)
}

func (h *Hook) saveCurrentConfig(pfLink netlink.Link, pfName string, vfIndex int) error {
	if err := os.MkdirAll(h.StateDir, 0755); err != nil {
		return config.FailedFrom(err, "creating state directory "+h.StateDir)
	}

	var current savedVFConfig
	for _, vf := range pfLink.Attrs().Vfs {
		if vf.ID == vfIndex {
			current.Mac = vf.Mac
			vlan := vf.Vlan
			current.Vlan = &vlan
			break
		}
	}

	path := filepath.Join(h.StateDir, vfStateFileName(pfName, vfIndex))
	blob := encodeVFConfig(current)
	if err := os.WriteFile(path, blob, stateFileMode); err != nil {
		return config.FailedFrom(err, "saving VF network config to "+path)
	}
	return nil
}

// readSavedConfig consults the manager's current state directory first,
// then the caller-supplied legacy directory, returning ok=false if neither
// has a file for this VF.
func (h *Hook) readSavedConfig(pfName string, vfIndex int) (savedVFConfig, string, bool) {
	name := vfStateFileName(pfName, vfIndex)

	for _, dir := range []string{h.StateDir, h.Legacy} {
		if dir == "" {
			continue
		}
		path := filepath.Join(dir, name)
		blob, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		cfg, err := decodeVFConfig(blob)
		if err != nil {
			hookLogger.WithError(err).WithField("path", path).Warn("saved VF config file is corrupt, ignoring")
			continue
		}
		return cfg, path, true
	}
	return savedVFConfig{}, "", false
}

func encodeVFConfig(c savedVFConfig) []byte {
	var b strings.Builder
	if c.Mac != nil {
		fmt.Fprintf(&b, "mac=%s\n", c.Mac.String())
	}
	if c.Vlan != nil {
		fmt.Fprintf(&b, "vlan=%d\n", *c.Vlan)
	}
	return []byte(b.String())
}

func decodeVFConfig(blob []byte) (savedVFConfig, error) {
	var cfg savedVFConfig
	for _, line := range strings.Split(string(blob), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		kv := strings.SplitN(line, "=", 2)
		if len(kv) != 2 {
			return savedVFConfig{}, fmt.Errorf("malformed VF config line %q", line)
		}
		switch kv[0] {
		case "mac":
			mac, err := parseMAC(kv[1])
			if err != nil {
				return savedVFConfig{}, err
			}
			cfg.Mac = mac
		case "vlan":
			v, err := strconv.Atoi(kv[1])
			if err != nil {
				return savedVFConfig{}, err
			}
			cfg.Vlan = &v
		}
	}
	return cfg, nil
}

func parseMAC(s string) (net.HardwareAddr, error) {
	return net.ParseMAC(s)
}
