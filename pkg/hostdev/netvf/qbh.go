// Copyright (c) 2017-2018 Intel Corporation
// Copyright (c) 2018 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package netvf

import (
	"context"
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netlink/nl"
	"golang.org/x/sys/unix"

	"github.com/cailiang831/libvirt/pkg/hostdev/config"
)

// Linux kernel if_link.h attributes for VF port-profile association. No Go
// netlink library in the pack exposes these (they're a narrow, rarely-used
// corner of RTM_SETLINK), so this core builds the IFLA_VF_PORTS tree by
// hand the same way libvirt's own C implementation goes straight to libnl
// for this one operation instead of a higher-level wrapper.
const (
	iflaVfPorts = 24
	iflaVfPort  = 1

	iflaPortVF             = 1
	iflaPortProfile        = 2
	iflaPortVSIType        = 3
	iflaPortInstanceUUID   = 4
	iflaPortHostUUID       = 5
	iflaPortRequest        = 6

	portRequestAssociate    = 2
	portRequestDisassociate = 3

	portProfileMaxLen = 40
)

// qbhAssociator implements PortProfileAssociator for the 802.1Qbh variant.
type qbhAssociator struct{}

func (q *qbhAssociator) Associate(ctx context.Context, pfNetdev string, vfIndex int, profile config.VirtPortProfile) error {
	return q.request(pfNetdev, vfIndex, profile, portRequestAssociate)
}

func (q *qbhAssociator) Disassociate(ctx context.Context, pfNetdev string, vfIndex int, profile config.VirtPortProfile) error {
	return q.request(pfNetdev, vfIndex, profile, portRequestDisassociate)
}

func (q *qbhAssociator) request(pfNetdev string, vfIndex int, profile config.VirtPortProfile, reqType uint8) error {
	link, err := netlink.LinkByName(pfNetdev)
	if err != nil {
		return config.FailedFrom(err, "looking up link "+pfNetdev+" for port-profile association")
	}

	instanceUUID, err := uuidBytes(profile.InstanceUUID)
	if err != nil {
		return config.Invalid("malformed virtual port instance UUID %q", profile.InstanceUUID)
	}

	req := nl.NewNetlinkRequest(unix.RTM_SETLINK, unix.NLM_F_ACK)

	msg := nl.NewIfInfomsg(unix.AF_UNSPEC)
	msg.Index = int32(link.Attrs().Index)
	req.AddData(msg)

	ports := nl.NewRtAttr(iflaVfPorts, nil)
	port := ports.AddRtAttr(iflaVfPort, nil)

	port.AddRtAttr(iflaPortVF, uint32Bytes(uint32(vfIndex)))

	if profile.TypeID != 0 || profile.TypeIDVer != 0 {
		port.AddRtAttr(iflaPortVSIType, vsiTypeBytes(profile.ManagerID, profile.TypeID, profile.TypeIDVer))
	}
	if instanceUUID != nil {
		port.AddRtAttr(iflaPortInstanceUUID, instanceUUID)
	}
	port.AddRtAttr(iflaPortRequest, []byte{reqType})

	req.AddData(ports)

	_, err = req.Execute(unix.NETLINK_ROUTE, 0)
	if err != nil {
		return config.FailedFrom(err, "associating port profile on "+pfNetdev)
	}
	return nil
}

func uint32Bytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.NativeEndian.PutUint32(b, v)
	return b
}

// vsiTypeBytes packs the VSI manager id, type id and type id version into
// the kernel's ifla_port_vsi struct layout (1 + 3 + 1 bytes, reserved
// fields zeroed).
func vsiTypeBytes(managerID uint8, typeID uint32, typeIDVersion uint8) []byte {
	b := make([]byte, 8)
	b[0] = managerID
	b[1] = byte(typeID)
	b[2] = byte(typeID >> 8)
	b[3] = byte(typeID >> 16)
	b[4] = typeIDVersion
	return b
}

func uuidBytes(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, err
	}
	b := [16]byte(id)
	return b[:], nil
}
