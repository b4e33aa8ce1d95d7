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
	"encoding/binary"
	"io"
)

const magic = "TZif"

// Header holds the counts of a tzfile data block. Field names follow tzfile(5)
type Header struct {
	// number of UT/local indicators
	IsUtcCnt uint32
	// number of standard/wall indicators
	IsStdCnt uint32
	// number of leap second records
	LeapCnt uint32
	// number of transition times
	TimeCnt uint32
	// number of local time type records, never zero
	TypeCnt uint32
	// number of octets of time zone designations
	CharCnt uint32
}

// bodySize returns the size of the data block, leap second records excluded
func (h Header) bodySize(timeSize int) int64 {
	return int64(h.TimeCnt)*int64(timeSize+1) + int64(h.TypeCnt)*6 + int64(h.CharCnt) +
		int64(h.IsUtcCnt) + int64(h.IsStdCnt)
}

func readHeader(r io.Reader) (Header, byte, error) {
	var hdr Header
	p := make([]byte, 20)
	if _, err := io.ReadFull(r, p); err != nil || string(p[:4]) != magic {
		return hdr, 0, errBadData
	}
	version := p[4]
	if version != 0 && version != '2' && version != '3' {
		return hdr, 0, errUnsupportedVersion
	}
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return hdr, 0, errBadData
	}
	return hdr, version, nil
}

func skip(r io.Reader, n int64) error {
	if m, _ := io.CopyN(io.Discard, r, n); m != n {
		return errBadData
	}
	return nil
}

// decode reads leap seconds from a tzfile. Version 2+ files carry a second data
// block with 64-bit times, which is preferred.
func decode(r io.Reader) ([]LeapSecond, error) {
	hdr, version, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	timeSize := 4
	if version != 0 {
		if err := skip(r, hdr.bodySize(4)+int64(hdr.LeapCnt)*8); err != nil {
			return nil, err
		}
		if hdr, _, err = readHeader(r); err != nil {
			return nil, err
		}
		timeSize = 8
	}

	// transition times, their types, type records and designations precede leap records
	if err := skip(r, int64(hdr.TimeCnt)*int64(timeSize+1)+int64(hdr.TypeCnt)*6+int64(hdr.CharCnt)); err != nil {
		return nil, err
	}
	res := make([]LeapSecond, 0, hdr.LeapCnt)
	for i := uint32(0); i < hdr.LeapCnt; i++ {
		var l LeapSecond
		if timeSize == 4 {
			var rec struct {
				Tleap uint32
				Nleap int32
			}
			if err := binary.Read(r, binary.BigEndian, &rec); err != nil {
				return nil, errBadData
			}
			l = LeapSecond{Tleap: uint64(rec.Tleap), Nleap: rec.Nleap}
		} else if err := binary.Read(r, binary.BigEndian, &l); err != nil {
			return nil, errBadData
		}
		res = append(res, l)
	}
	if len(res) == 0 {
		return nil, errNoLeapSeconds
	}
	return res, nil
}

// Parse returns leap seconds stored in a tzfile
func Parse(r io.Reader) ([]LeapSecond, error) {
	return decode(r)
}

func writeBlock(w io.Writer, ver byte, ls []LeapSecond, name string, timeSize int) error {
	b := new(bytes.Buffer)
	b.WriteString(magic)
	b.WriteByte(ver)
	b.Write(make([]byte, 15))
	hdr := Header{
		IsUtcCnt: 1,
		IsStdCnt: 1,
		LeapCnt:  uint32(len(ls)),
		TypeCnt:  1,
		CharCnt:  uint32(len(name)),
	}
	_ = binary.Write(b, binary.BigEndian, hdr)
	// one UTC local time type and its designation
	b.Write(make([]byte, 6))
	b.WriteString(name)
	for _, l := range ls {
		if timeSize == 4 {
			_ = binary.Write(b, binary.BigEndian, []uint32{uint32(l.Tleap), uint32(l.Nleap)})
		} else {
			_ = binary.Write(b, binary.BigEndian, l)
		}
	}
	// standard/wall and UT/local indicators
	b.Write([]byte{0, 0})
	_, err := w.Write(b.Bytes())
	return err
}

// Write dumps leap seconds as a tzfile of version 0 or '2'
func Write(w io.Writer, ver byte, ls []LeapSecond, name string) error {
	if ver != 0 && ver != '2' {
		return errUnsupportedVersion
	}
	if name == "" {
		name = "UTC"
	}
	if err := writeBlock(w, ver, ls, name+"\x00", 4); err != nil {
		return err
	}
	if ver != '2' {
		return nil
	}
	if err := writeBlock(w, ver, ls, name+"\x00", 8); err != nil {
		return err
	}
	// POSIX TZ string footer
	_, err := io.WriteString(w, "\n"+name+"\n")
	return err
}
