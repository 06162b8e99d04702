// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux
// +build linux

package transport

import (
	"net"

	"golang.org/x/net/ipv4"

	"grimm.is/igmpproxy/internal/errs"
	"grimm.is/igmpproxy/internal/wire"
)

const igmpProtocolNumber = 2

// RawSocket is the Linux Socket backend: a raw IPv4 socket bound to
// the IGMP protocol, with per-packet control messages for interface
// and TTL.
type RawSocket struct {
	conn *ipv4.RawConn
}

var _ Socket = (*RawSocket)(nil)

// NewRawSocket opens the raw IGMP socket used for both sending queries
// and receiving reports/leaves/queries from other routers.
func NewRawSocket() (*RawSocket, error) {
	pc, err := net.ListenPacket("ip4:2", "0.0.0.0")
	if err != nil {
		return nil, errs.Wrap(err, errs.KindFatal, "open raw igmp socket")
	}
	rc, err := ipv4.NewRawConn(pc)
	if err != nil {
		pc.Close()
		return nil, errs.Wrap(err, errs.KindFatal, "wrap raw igmp connection")
	}
	if err := rc.SetControlMessage(ipv4.FlagInterface|ipv4.FlagTTL|ipv4.FlagSrc, true); err != nil {
		rc.Close()
		return nil, errs.Wrap(err, errs.KindFatal, "enable igmp control messages")
	}
	return &RawSocket{conn: rc}, nil
}

func (s *RawSocket) Send(ifaceIndex int, dst net.IP, payload []byte) error {
	opts := wire.RouterAlertOption()
	h := &ipv4.Header{
		Version:  4,
		Len:      ipv4.HeaderLen + len(opts),
		TOS:      0xc0, // internetwork control
		TotalLen: ipv4.HeaderLen + len(opts) + len(payload),
		TTL:      1,
		Protocol: igmpProtocolNumber,
		Dst:      dst.To4(),
		Options:  opts,
	}
	cm := &ipv4.ControlMessage{IfIndex: ifaceIndex, TTL: 1}
	if err := s.conn.WriteTo(h, payload, cm); err != nil {
		return errs.Wrap(err, errs.KindInternal, "send igmp packet")
	}
	return nil
}

func (s *RawSocket) Recv() (Packet, error) {
	buf := make([]byte, 2048)
	h, payload, cm, err := s.conn.ReadFrom(buf)
	if err != nil {
		return Packet{}, errs.Wrap(err, errs.KindInternal, "receive igmp packet")
	}
	pkt := Packet{Payload: payload}
	if h != nil {
		pkt.Src = h.Src
	}
	if cm != nil {
		pkt.IfaceIndex = cm.IfIndex
		if pkt.Src == nil {
			pkt.Src = cm.Src
		}
	}
	return pkt, nil
}

func (s *RawSocket) Close() error {
	return s.conn.Close()
}
