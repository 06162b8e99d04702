// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package proxy

import (
	"net"

	"grimm.is/igmpproxy/internal/callout"
	"grimm.is/igmpproxy/internal/errs"
)

// FilterMode is a group's current membership filter mode.
type FilterMode int

const (
	FilterInclude FilterMode = iota
	FilterExclude
)

func (m FilterMode) String() string {
	if m == FilterExclude {
		return "exclude"
	}
	return "include"
}

// Version is the effective IGMP host-compatibility version for a group.
type Version int

const (
	V3 Version = iota
	V2
	V1
)

// Source is one (interface, group, source address) record.
type Source struct {
	Addr            net.IP
	Timer           callout.Handle
	Forwarding      bool
	Scheduled       bool
	RetransmitCount int
	Group           *Group
}

// Group is one (interface, multicast address) record.
type Group struct {
	Iface         *Interface
	Mcast         net.IP
	FilterMode    FilterMode
	GroupTimer    callout.Handle
	CompatVersion Version
	V1HostTimer   callout.Handle
	V2HostTimer   callout.Handle

	Scheduled       bool
	RetransmitCount int
	QueryTimer      callout.Handle

	Sources           map[string]*Source
	NScheduledSources int
}

// NSources is the number of tracked sources.
func (g *Group) NSources() int { return len(g.Sources) }

// groupLookup finds the group record for mcast on iface.
func groupLookup(iface *Interface, mcast net.IP) (*Group, bool) {
	g, ok := iface.Groups[mcast.String()]
	return g, ok
}

// groupAdd idempotently creates the group record for mcast on iface.
// mcast must be a valid multicast address.
func groupAdd(iface *Interface, mcast net.IP) (*Group, error) {
	if !mcast.IsMulticast() {
		return nil, errs.Errorf(errs.KindValidation, "%s is not a multicast address", mcast)
	}
	if g, ok := groupLookup(iface, mcast); ok {
		return g, nil
	}
	g := &Group{
		Iface:      iface,
		Mcast:      mcast,
		FilterMode: FilterInclude,
		Sources:    make(map[string]*Source),
	}
	iface.Groups[mcast.String()] = g
	return g, nil
}

// groupDestroy removes g from its interface, clearing every timer it
// and its sources hold.
func groupDestroy(co *callout.Service, g *Group) {
	for _, s := range g.Sources {
		co.Clear(s.Timer)
	}
	co.Clear(g.GroupTimer)
	co.Clear(g.V1HostTimer)
	co.Clear(g.V2HostTimer)
	co.Clear(g.QueryTimer)
	delete(g.Iface.Groups, g.Mcast.String())
}

// sourceLookup finds the source record for addr within g.
func sourceLookup(g *Group, addr net.IP) (*Source, bool) {
	s, ok := g.Sources[addr.String()]
	return s, ok
}

// sourceAdd idempotently creates the source record for addr within g.
func sourceAdd(g *Group, addr net.IP) *Source {
	if s, ok := sourceLookup(g, addr); ok {
		return s
	}
	s := &Source{
		Addr:       addr,
		Forwarding: true,
		Group:      g,
	}
	g.Sources[addr.String()] = s
	return s
}

// sourceDestroy removes s from its group, clearing its timer. If s was
// the last source of an INCLUDE-mode group, the group itself is
// destroyed (its own timers cleared, and it is removed from its
// interface). Reports whether the owning group was destroyed.
func sourceDestroy(co *callout.Service, s *Source) bool {
	g := s.Group
	co.Clear(s.Timer)
	if g.NScheduledSources > 0 && s.Scheduled {
		g.NScheduledSources--
	}
	delete(g.Sources, s.Addr.String())

	if g.FilterMode == FilterInclude && len(g.Sources) == 0 {
		groupDestroy(co, g)
		return true
	}
	return false
}
