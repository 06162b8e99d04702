// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package wire

import (
	"encoding/binary"
	"net"
	"time"
)

// QueryParams describes a query to encode. Group is nil (or the
// unspecified address) for a general query; Sources is empty for a
// general or group-specific query and non-empty for a
// group-and-source-specific query.
type QueryParams struct {
	MaxRespTime time.Duration
	Group       net.IP
	Sources     []net.IP
	SFlag       bool
	QRV         uint8
	QQI         time.Duration
}

// EncodeQuery builds a IGMPv3 Membership Query packet (RFC 3376 §4.1),
// checksummed and ready to hand to the raw socket layer alongside the
// Router Alert IP option.
func EncodeQuery(q QueryParams) []byte {
	n := len(q.Sources)
	buf := make([]byte, 12+4*n)

	buf[0] = 0x11 // Membership Query
	buf[1] = EncodeFloatCode(uint32(q.MaxRespTime / (100 * time.Millisecond)))
	// buf[2:4] checksum, filled last

	group := q.Group.To4()
	if group == nil {
		group = net.IPv4zero.To4()
	}
	copy(buf[4:8], group)

	var flagsByte uint8
	if q.SFlag {
		flagsByte |= 0x08
	}
	flagsByte |= q.QRV & 0x07
	buf[8] = flagsByte
	buf[9] = EncodeFloatCode(uint32(q.QQI / time.Second))
	binary.BigEndian.PutUint16(buf[10:12], uint16(n))

	for i, s := range q.Sources {
		ip4 := s.To4()
		copy(buf[12+4*i:16+4*i], ip4)
	}

	binary.BigEndian.PutUint16(buf[2:4], Checksum(buf))
	return buf
}
