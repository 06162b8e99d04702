// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package transport

import (
	"net"
	"sync"

	"grimm.is/igmpproxy/internal/errs"
)

// Sent records one Send call observed by a SimSocket.
type Sent struct {
	IfaceIndex int
	Dst        net.IP
	Payload    []byte
}

// SimSocket is an in-memory Socket for tests: Send appends to Sent,
// and Recv drains a queue fed by Deliver, simulating inbound packets
// without a real network stack.
type SimSocket struct {
	mu     sync.Mutex
	cond   *sync.Cond
	sent   []Sent
	inbox  []Packet
	closed bool
}

var _ Socket = (*SimSocket)(nil)

// NewSimSocket returns an empty SimSocket.
func NewSimSocket() *SimSocket {
	s := &SimSocket{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *SimSocket) Send(ifaceIndex int, dst net.IP, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.sent = append(s.sent, Sent{IfaceIndex: ifaceIndex, Dst: dst, Payload: cp})
	return nil
}

// Deliver queues a packet to be returned by the next Recv call.
func (s *SimSocket) Deliver(pkt Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbox = append(s.inbox, pkt)
	s.cond.Broadcast()
}

func (s *SimSocket) Recv() (Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.inbox) == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed && len(s.inbox) == 0 {
		return Packet{}, errs.New(errs.KindInternal, "socket closed")
	}
	pkt := s.inbox[0]
	s.inbox = s.inbox[1:]
	return pkt, nil
}

func (s *SimSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
	return nil
}

// SentPackets returns a snapshot of every Send call observed so far.
func (s *SimSocket) SentPackets() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sent, len(s.sent))
	copy(out, s.sent)
	return out
}
