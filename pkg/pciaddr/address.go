// Copyright (c) 2017-2018 Intel Corporation
// Copyright (c) 2018 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

// Package pciaddr implements the PCI address identity used throughout the
// host device manager: a domain:bus:slot.function tuple with a total
// ordering and the usual BDF string form.
package pciaddr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Address is a PCI domain:bus:slot.function tuple. The zero value is not a
// valid address (domain 0000:00:00.0 is reserved for the host bridge and is
// never assignable), so callers should treat it the same as "absent".
type Address struct {
	Domain   uint32
	Bus      uint8
	Slot     uint8
	Function uint8
}

// String renders the address in the canonical lspci/libvirt BDF form, e.g.
// "0000:03:00.0".
func (a Address) String() string {
	return fmt.Sprintf("%04x:%02x:%02x.%d", a.Domain, a.Bus, a.Slot, a.Function)
}

// Compare returns -1, 0 or 1 as a is less than, equal to, or greater than b,
// ordering lexicographically by (domain, bus, slot, function).
func (a Address) Compare(b Address) int {
	switch {
	case a.Domain != b.Domain:
		return cmpUint32(a.Domain, b.Domain)
	case a.Bus != b.Bus:
		return cmpUint8(a.Bus, b.Bus)
	case a.Slot != b.Slot:
		return cmpUint8(a.Slot, b.Slot)
	case a.Function != b.Function:
		return cmpUint8(a.Function, b.Function)
	default:
		return 0
	}
}

// Less reports whether a sorts before b.
func (a Address) Less(b Address) bool {
	return a.Compare(b) < 0
}

func cmpUint32(a, b uint32) int {
	if a < b {
		return -1
	}
	return 1
}

func cmpUint8(a, b uint8) int {
	if a < b {
		return -1
	}
	return 1
}

// Parse parses a BDF string of the form "[domain:]bus:slot.function", where
// domain defaults to 0000 when omitted.
func Parse(s string) (Address, error) {
	s = strings.TrimSpace(s)

	domain := "0000"
	rest := s
	if parts := strings.SplitN(s, ":", 3); len(parts) == 3 {
		domain = parts[0]
		rest = parts[1] + ":" + parts[2]
	}

	busSlotFn := strings.SplitN(rest, ":", 2)
	if len(busSlotFn) != 2 {
		return Address{}, errors.Errorf("malformed PCI address %q", s)
	}
	bus := busSlotFn[0]

	slotFn := strings.SplitN(busSlotFn[1], ".", 2)
	if len(slotFn) != 2 {
		return Address{}, errors.Errorf("malformed PCI address %q", s)
	}

	d, err := strconv.ParseUint(domain, 16, 32)
	if err != nil {
		return Address{}, errors.Wrapf(err, "invalid PCI domain in %q", s)
	}
	b, err := strconv.ParseUint(bus, 16, 8)
	if err != nil {
		return Address{}, errors.Wrapf(err, "invalid PCI bus in %q", s)
	}
	sl, err := strconv.ParseUint(slotFn[0], 16, 8)
	if err != nil {
		return Address{}, errors.Wrapf(err, "invalid PCI slot in %q", s)
	}
	f, err := strconv.ParseUint(slotFn[1], 10, 8)
	if err != nil {
		return Address{}, errors.Wrapf(err, "invalid PCI function in %q", s)
	}

	return Address{
		Domain:   uint32(d),
		Bus:      uint8(b),
		Slot:     uint8(sl),
		Function: uint8(f),
	}, nil
}

// SameSlot reports whether a and b are in the same physical slot (same
// domain, bus and slot), whatever their functions; it is also true when a
// and b are the same address.
func (a Address) SameSlot(b Address) bool {
	return a.Domain == b.Domain && a.Bus == b.Bus && a.Slot == b.Slot
}
