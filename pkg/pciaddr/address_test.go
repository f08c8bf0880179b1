// Copyright (c) 2017-2018 Intel Corporation
// Copyright (c) 2018 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package pciaddr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndString(t *testing.T) {
	assert := assert.New(t)

	a, err := Parse("0000:03:00.0")
	require.NoError(t, err)
	assert.Equal(Address{Domain: 0, Bus: 3, Slot: 0, Function: 0}, a)
	assert.Equal("0000:03:00.0", a.String())

	// domain defaults to 0000 when omitted
	b, err := Parse("03:00.1")
	require.NoError(t, err)
	assert.Equal(uint8(1), b.Function)
	assert.Equal("0000:03:00.1", b.String())
}

func TestParseMalformed(t *testing.T) {
	for _, s := range []string{"", "nope", "03:00", "03.00.0"} {
		_, err := Parse(s)
		assert.Error(t, err, s)
	}
}

func TestCompareAndLess(t *testing.T) {
	a, _ := Parse("0000:03:00.0")
	b, _ := Parse("0000:03:00.1")
	c, _ := Parse("0000:04:00.0")

	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.False(t, b.Less(a))
	assert.Equal(t, 0, a.Compare(a))
}

func TestSameSlot(t *testing.T) {
	a, _ := Parse("0000:03:00.0")
	b, _ := Parse("0000:03:00.1")
	c, _ := Parse("0000:04:00.0")

	assert.True(t, a.SameSlot(b))
	assert.False(t, a.SameSlot(c))
}
