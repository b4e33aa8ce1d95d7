/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package leapsectz

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var leaps = Table{
	{Tleap: 78796800, Nleap: 1},
	{Tleap: 94694401, Nleap: 2},
	{Tleap: 1483228826, Nleap: 27},
}

func TestParseV0(t *testing.T) {
	byteData := []byte{
		'T', 'Z', 'i', 'f', // magic
		0x00, 0x00, 0x00, 0x00, // version
		0x00, 0x00, 0x00, 0x00, // pad
		0x00, 0x00, 0x00, 0x00, // pad
		0x00, 0x00, 0x00, 0x00, // pad
		0x00, 0x00, 0x00, 0x00, // UTC/local
		0x00, 0x00, 0x00, 0x00, // standard/wall
		0x00, 0x00, 0x00, 0x01, // leap
		0x00, 0x00, 0x00, 0x00, // transition
		0x00, 0x00, 0x00, 0x00, // local tz
		0x00, 0x00, 0x00, 0x00, // characters
		0x04, 0xb2, 0x58, 0x00, // leap time
		0x00, 0x00, 0x00, 0x01, // leap count
	}
	ls, err := Parse(bytes.NewReader(byteData))
	require.NoError(t, err)
	require.Len(t, ls, 1)
	// Saturday, July 1, 1972 12:00:00 AM
	require.Equal(t, uint64(78796800), ls[0].Tleap)
	require.Equal(t, int32(1), ls[0].Nleap)
	require.Equal(t, time.Date(1972, time.July, 1, 0, 0, 0, 0, time.UTC), ls[0].Time().UTC())
}

func TestParseBad(t *testing.T) {
	_, err := Parse(bytes.NewReader([]byte("TZix")))
	require.ErrorIs(t, err, errBadData)

	_, err = Parse(bytes.NewReader([]byte("TZif4000000000000000")))
	require.ErrorIs(t, err, errUnsupportedVersion)

	b := new(bytes.Buffer)
	require.NoError(t, Write(b, 0, nil, ""))
	_, err = Parse(b)
	require.ErrorIs(t, err, errNoLeapSeconds)

	// truncated
	b.Reset()
	require.NoError(t, Write(b, '2', leaps, ""))
	_, err = Parse(bytes.NewReader(b.Bytes()[:b.Len()-20]))
	require.ErrorIs(t, err, errBadData)
}

func TestWriteParse(t *testing.T) {
	for _, ver := range []byte{0, '2'} {
		b := new(bytes.Buffer)
		require.NoError(t, Write(b, ver, leaps, "right/UTC"))
		ls, err := Parse(b)
		require.NoError(t, err)
		require.Equal(t, []LeapSecond(leaps), ls)
	}
	require.ErrorIs(t, Write(new(bytes.Buffer), '3', leaps, ""), errUnsupportedVersion)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "UTC")
	f, err := os.Create(path)
	require.NoError(t, err)
	// out of order on purpose
	require.NoError(t, Write(f, '2', Table{leaps[2], leaps[0], leaps[1]}, ""))
	require.NoError(t, f.Close())

	table, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, leaps, table)

	_, err = Load(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
	_, err = Load(path)
	require.ErrorIs(t, err, errBadData)
}

func TestTable(t *testing.T) {
	before := time.Date(2016, time.December, 31, 12, 0, 0, 0, time.UTC)

	l, ok := leaps.Latest(before)
	require.True(t, ok)
	require.Equal(t, leaps[1], l)
	_, ok = leaps.Latest(time.Unix(0, 0))
	require.False(t, ok)

	l, insert, ok := leaps.Next(before)
	require.True(t, ok)
	require.True(t, insert)
	require.Equal(t, leaps[2], l)
	_, _, ok = leaps.Next(time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC))
	require.False(t, ok)

	_, _, ok = leaps.Pending(before)
	require.True(t, ok)
	_, _, ok = leaps.Pending(before.Add(-24 * time.Hour))
	require.False(t, ok)

	require.Equal(t, int32(10), leaps.TAI(time.Unix(0, 0)))
	require.Equal(t, int32(12), leaps.TAI(before))
	require.Equal(t, int32(37), leaps.TAI(time.Date(2018, time.January, 1, 0, 0, 0, 0, time.UTC)))
}

func TestNextDelete(t *testing.T) {
	table := Table{{Tleap: 100, Nleap: 1}, {Tleap: 200, Nleap: 0}}
	l, insert, ok := table.Next(time.Unix(150, 0))
	require.True(t, ok)
	require.False(t, insert)
	require.Equal(t, table[1], l)
}
