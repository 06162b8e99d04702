// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package wire decodes and encodes IGMPv3 packets (with v1/v2
// compatibility) per RFC 3376, including the checksum and the §4.1.1
// floating-point Max Response Code / QQIC encoding. Decoding is built
// on gopacket's IGMP layer, which already parses the v1/v2 report,
// v2 leave, query, and v3 report shapes into a single struct; this
// package translates that into the record shapes the report processor
// consumes. Encoding is hand-written: gopacket's IGMP layer is decode
// only and has no SerializeTo implementation for IGMPv3 queries.
package wire

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"grimm.is/igmpproxy/internal/errs"
)

// Kind classifies a decoded IGMP message.
type Kind int

const (
	KindUnknown Kind = iota
	KindV1Report
	KindV2Report
	KindV2Leave
	KindV3Report
	KindQuery
)

// RecordType is one of the six IGMPv3 group-record types (RFC 3376 §4.2.12),
// numbered identically to gopacket's layers.IGMPv3GroupRecordType.
type RecordType uint8

const (
	RecordIsIn  RecordType = 1
	RecordIsEx  RecordType = 2
	RecordToIn  RecordType = 3
	RecordToEx  RecordType = 4
	RecordAllow RecordType = 5
	RecordBlock RecordType = 6
)

// GroupRecord is one group record from a v3 membership report.
type GroupRecord struct {
	Type    RecordType
	Group   net.IP
	Sources []net.IP
}

// Message is a decoded IGMP packet, shaped for direct consumption by
// the report/query processors.
type Message struct {
	Kind Kind

	// Populated for v1/v2 reports and leaves.
	Group net.IP

	// Populated for v3 reports.
	Records []GroupRecord

	// Populated for queries.
	MaxRespTime     time.Duration // 0 for a general query's "no max resp" edge case is still valid (code 0)
	QueryGroup      net.IP        // zero IP for a general query
	SFlag           bool
	QRV             uint8
	QQI             time.Duration
	QuerySources    []net.IP
}

// Decode parses an IGMP packet payload (the bytes immediately following
// the IP header — this package does not see the IP header itself) and
// validates its checksum.
func Decode(payload []byte) (*Message, error) {
	if len(payload) < 8 {
		return nil, errs.New(errs.KindMalformedPacket, "igmp packet shorter than minimum header")
	}
	if Checksum(payload) != 0 {
		return nil, errs.New(errs.KindMalformedPacket, "igmp checksum mismatch")
	}

	pkt := gopacket.NewPacket(payload, layers.LayerTypeIGMP, gopacket.NoCopy)
	layer := pkt.Layer(layers.LayerTypeIGMP)
	if layer == nil {
		return nil, errs.New(errs.KindMalformedPacket, "not a decodable igmp packet")
	}
	ig, ok := layer.(*layers.IGMP)
	if !ok {
		return nil, errs.New(errs.KindMalformedPacket, "unexpected igmp layer type")
	}

	msg := &Message{}
	switch ig.Type {
	case layers.IGMPMembershipQuery:
		msg.Kind = KindQuery
		msg.MaxRespTime = ig.MaxResponseTime
		msg.QueryGroup = ig.GroupAddress
		msg.SFlag = ig.SupressRouterProcessing
		msg.QRV = ig.RobustnessValue
		msg.QQI = ig.IntervalTime
		msg.QuerySources = ig.SourceAddresses
	case layers.IGMPMembershipReportV1:
		msg.Kind = KindV1Report
		msg.Group = ig.GroupAddress
	case layers.IGMPMembershipReportV2:
		msg.Kind = KindV2Report
		msg.Group = ig.GroupAddress
	case layers.IGMPLeaveGroup:
		msg.Kind = KindV2Leave
		msg.Group = ig.GroupAddress
	case layers.IGMPMembershipReportV3:
		msg.Kind = KindV3Report
		msg.Records = make([]GroupRecord, 0, len(ig.GroupRecords))
		for _, gr := range ig.GroupRecords {
			msg.Records = append(msg.Records, GroupRecord{
				Type:    RecordType(gr.Type),
				Group:   gr.MulticastAddress,
				Sources: gr.SourceAddresses,
			})
		}
	default:
		return nil, errs.Errorf(errs.KindMalformedPacket, "unsupported igmp type 0x%02x", uint8(ig.Type))
	}

	return msg, nil
}

// Checksum computes the standard Internet checksum (RFC 1071) over data.
// Called both to validate an inbound packet (expect 0) and to stamp an
// outbound one (zero the checksum field first, then write the result).
func Checksum(data []byte) uint16 {
	var sum uint32
	n := len(data)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}
	if n%2 == 1 {
		sum += uint32(data[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// EncodeFloatCode encodes value per RFC 3376 §4.1.1: values under 128
// are carried verbatim; larger values are encoded as a floating point
// with a 3-bit exponent and 4-bit mantissa. The same scheme encodes
// both the Max Response Code and the QQIC.
func EncodeFloatCode(value uint32) uint8 {
	if value < 128 {
		return uint8(value)
	}
	for exp := uint32(0); exp <= 7; exp++ {
		base := uint32(8) << exp // 1 << (exp+3)
		upper := 31 * base
		if value <= upper {
			mant := (value + base - 1) / base // ceil(value/base), rounds decoded value up to >= value
			mant -= 16
			if mant > 0xF {
				mant = 0xF
			}
			return 0x80 | uint8(exp<<4) | uint8(mant)
		}
	}
	return 0xFF
}

// DecodeFloatCode reverses EncodeFloatCode.
func DecodeFloatCode(code uint8) uint32 {
	if code < 128 {
		return uint32(code)
	}
	exp := (code >> 4) & 0x7
	mant := code & 0xF
	return (uint32(mant) | 0x10) << (exp + 3)
}

// RouterAlertOption returns the 4-byte IP Router Alert option (type 0x94,
// length 4, value 0) that must be present on every transmitted query,
// bringing the IP header to 24 bytes (20 base + 4 option).
func RouterAlertOption() []byte {
	return []byte{0x94, 0x04, 0x00, 0x00}
}
