// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package mroute

import (
	"net"
	"sync"

	"grimm.is/igmpproxy/internal/errs"
)

// MFCKey identifies one forwarding cache entry.
type MFCKey struct {
	Origin string
	Group  string
}

// VIF records an AddVIF call.
type VIF struct {
	IfaceIndex int
	Threshold  uint8
}

// MFC records an AddMFC call.
type MFC struct {
	ParentVIF int
	TTLs      []uint8
}

// Filter records the last SetSourceFilter call for one group.
type Filter struct {
	Mode    FilterMode
	Sources []string
}

// SimTable is an in-memory Table for tests and non-Linux development,
// recording every call so assertions can be made on the resulting
// state rather than on a live kernel.
type SimTable struct {
	mu sync.Mutex

	initialized bool
	vifs        map[int]VIF
	mfcs        map[MFCKey]MFC
	filters     map[string]Filter
	joined      map[string]bool
	upcalls     chan Upcall
}

var _ Table = (*SimTable)(nil)

// NewSimTable returns an empty SimTable.
func NewSimTable() *SimTable {
	return &SimTable{
		vifs:    make(map[int]VIF),
		mfcs:    make(map[MFCKey]MFC),
		filters: make(map[string]Filter),
		joined:  make(map[string]bool),
		upcalls: make(chan Upcall, 64),
	}
}

// Upcalls implements Table.
func (s *SimTable) Upcalls() <-chan Upcall {
	return s.upcalls
}

// TriggerUpcall simulates the kernel reporting a forwarding-cache miss
// for (origin, group), the way a real first data packet would.
func (s *SimTable) TriggerUpcall(origin, group net.IP) {
	s.upcalls <- Upcall{Origin: origin, Group: group}
}

func (s *SimTable) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
	return nil
}

func (s *SimTable) AddVIF(vifIndex int, ifaceIndex int, threshold uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if vifIndex < 0 || vifIndex >= maxVIFsSim {
		return errs.Errorf(errs.KindResourceExhausted, "vif index %d exceeds simulated limit of %d", vifIndex, maxVIFsSim)
	}
	s.vifs[vifIndex] = VIF{IfaceIndex: ifaceIndex, Threshold: threshold}
	return nil
}

func (s *SimTable) AddMFC(origin, group net.IP, parentVIF int, ttls []uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]uint8, len(ttls))
	copy(cp, ttls)
	s.mfcs[mfcKey(origin, group)] = MFC{ParentVIF: parentVIF, TTLs: cp}
	return nil
}

func (s *SimTable) DelMFC(origin, group net.IP) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := mfcKey(origin, group)
	if _, ok := s.mfcs[key]; !ok {
		return errs.Errorf(errs.KindNotFound, "no forwarding entry for %s from %s", group, origin)
	}
	delete(s.mfcs, key)
	return nil
}

func (s *SimTable) SetSourceFilter(group net.IP, mode FilterMode, sources []net.IP) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]string, len(sources))
	for i, src := range sources {
		list[i] = src.String()
	}
	s.filters[group.String()] = Filter{Mode: mode, Sources: list}
	return nil
}

func (s *SimTable) JoinGroup(group net.IP) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joined[group.String()] = true
	return nil
}

func (s *SimTable) LeaveGroup(group net.IP) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.joined, group.String())
	delete(s.filters, group.String())
	return nil
}

// Snapshot accessors for test assertions.

func (s *SimTable) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *SimTable) VIFs() map[int]VIF {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]VIF, len(s.vifs))
	for k, v := range s.vifs {
		out[k] = v
	}
	return out
}

func (s *SimTable) MFCEntry(origin, group net.IP) (MFC, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mfcs[mfcKey(origin, group)]
	return m, ok
}

func (s *SimTable) FilterFor(group net.IP) (Filter, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.filters[group.String()]
	return f, ok
}

func (s *SimTable) IsJoined(group net.IP) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined[group.String()]
}

func mfcKey(origin, group net.IP) MFCKey {
	return MFCKey{Origin: origin.String(), Group: group.String()}
}

const maxVIFsSim = 32
