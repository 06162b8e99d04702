// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package proxy

import (
	"time"

	"grimm.is/igmpproxy/internal/callout"
)

// rearm clears *h if set, then arms a new timer, storing its handle
// back into *h. The callout service never implicitly replaces a
// pending timer, so every re-arm goes through this helper.
func (p *Proxy) rearm(h *callout.Handle, delay time.Duration, fn callout.Func, arg any) {
	p.Callout.Clear(*h)
	*h = p.Callout.Set(delay, fn, arg)
}

// recomputeCompat derives CompatVersion from which host-compatibility
// timers are currently pending, keeping the field and the timers from
// drifting apart.
func (p *Proxy) recomputeCompat(g *Group) {
	switch {
	case p.Callout.InQueue(g.V1HostTimer):
		g.CompatVersion = V1
	case p.Callout.InQueue(g.V2HostTimer):
		g.CompatVersion = V2
	default:
		g.CompatVersion = V3
	}
}

func (p *Proxy) onV1HostTimerExpire(g *Group) {
	p.recomputeCompat(g)
}

func (p *Proxy) onV2HostTimerExpire(g *Group) {
	p.recomputeCompat(g)
}

// armSources arms or re-arms the GMI-class timer on every source in
// set, creating sources that don't yet exist (INCLUDE-mode semantics:
// forwarding is always true).
func (p *Proxy) armSources(g *Group, set addrSet, delay time.Duration) {
	for _, addr := range set {
		s := sourceAdd(g, addr)
		s.Forwarding = true
		p.rearm(&s.Timer, delay, func(any) { p.onSourceExpire(s) }, nil)
	}
}

// includeToExclude applies the shared IS_EX/TO_EX transition from
// INCLUDE(A): new state is EXCLUDE(A∩B, B∖A) — sources retained from A
// keep forwarding=true with no timer change here (callers arm
// separately via Q(G,...) bookkeeping only where the table requires
// it); sources newly named in B∖A are created blocked with no timer;
// sources in A∖B are deleted outright.
func (p *Proxy) includeToExclude(g *Group, a, b addrSet) {
	// Flip the mode before deleting A∖B: sourceDestroy treats an empty
	// source list as group-destroying only in FilterInclude, and A∖B
	// emptying the list is the common case (e.g. a v1/v2 report with
	// B=∅), not a corner one.
	g.FilterMode = FilterExclude
	for k := range difference(a, b) {
		if s, ok := g.Sources[k]; ok {
			sourceDestroy(p.Callout, s)
		}
	}
	for _, addr := range difference(b, a) {
		s := sourceAdd(g, addr)
		s.Forwarding = false
		p.Callout.Clear(s.Timer)
		s.Timer = 0
	}
	p.setGroupTimer(g, p.Timers.GMI())
}

// excludeGrow applies the EXCLUDE(X,Y) + IS_IN(A)/ALLOW(A) row:
// EXCLUDE(X∪A, Y∖A); timer(s∈A)=GMI. Sources named in A move out of Y
// because their Forwarding flag is set to true here; the six-action
// table only ever treats forwarding=false sources as "Y".
func (p *Proxy) excludeGrow(g *Group, a addrSet) {
	for _, addr := range a {
		s := sourceAdd(g, addr)
		s.Forwarding = true
		p.rearm(&s.Timer, p.Timers.GMI(), func(any) { p.onSourceExpire(s) }, nil)
	}
}

// excludeReplace applies the shared IS_EX/TO_EX row from EXCLUDE(X,Y):
// new state EXCLUDE(A∖Y, Y∩A); sources in A∖X∖Y get their timer set to
// newTimer; X∖A and Y∖A are deleted; group_timer is left to the caller.
func (p *Proxy) excludeReplace(g *Group, x, y, a addrSet, newTimer time.Duration) {
	for k := range union(difference(x, a), difference(y, a)) {
		if s, ok := g.Sources[k]; ok {
			sourceDestroy(p.Callout, s)
		}
	}
	fresh := difference(difference(a, x), y)
	for _, addr := range fresh {
		s := sourceAdd(g, addr)
		s.Forwarding = true
		p.rearm(&s.Timer, newTimer, func(any) { p.onSourceExpire(s) }, nil)
	}
	for k := range intersect(a, y) {
		if s, ok := g.Sources[k]; ok {
			s.Forwarding = false
		}
	}
	for k := range intersect(a, x) {
		if s, ok := g.Sources[k]; ok {
			s.Forwarding = true
		}
	}
}

// excludeBlock applies the EXCLUDE(X,Y) + BLOCK(A) row: new state
// EXCLUDE(X∪(A∖Y), Y); timer(s∈A∖Y)=group_timer.
func (p *Proxy) excludeBlock(g *Group, x, y, a addrSet) {
	left := p.Callout.Left(g.GroupTimer)
	for _, addr := range difference(a, y) {
		s := sourceAdd(g, addr)
		s.Forwarding = true
		p.rearm(&s.Timer, left, func(any) { p.onSourceExpire(s) }, nil)
	}
}

func (p *Proxy) setGroupTimer(g *Group, d time.Duration) {
	p.rearm(&g.GroupTimer, d, func(any) { p.onGroupTimerExpire(g) }, nil)
}

// onSourceExpire implements the RFC 3376 §6.3 Router Source Timer
// expiry rule: in INCLUDE mode the source is gone; in EXCLUDE mode it
// moves from the forwarded set X into the blocked set Y rather than
// being deleted, since it is still tracked as an excluded source.
func (p *Proxy) onSourceExpire(s *Source) {
	g := s.Group
	if g.FilterMode == FilterInclude {
		sourceDestroy(p.Callout, s)
		p.reaggregate(g.Mcast)
		return
	}
	s.Forwarding = false
	s.Timer = 0
	if s.Scheduled {
		s.Scheduled = false
		if g.NScheduledSources > 0 {
			g.NScheduledSources--
		}
	}
	p.reaggregate(g.Mcast)
}

// onGroupTimerExpire implements the EXCLUDE-mode group timer boundary
// behaviour: forwarding=false sources are removed; if no sources
// remain, the group is destroyed, otherwise it reverts to INCLUDE with
// whatever sources survive.
func (p *Proxy) onGroupTimerExpire(g *Group) {
	for k, s := range g.Sources {
		if !s.Forwarding {
			delete(g.Sources, k)
			p.Callout.Clear(s.Timer)
			if s.Scheduled && g.NScheduledSources > 0 {
				g.NScheduledSources--
			}
		}
	}
	if len(g.Sources) == 0 {
		groupDestroy(p.Callout, g)
	} else {
		g.FilterMode = FilterInclude
		g.GroupTimer = 0
	}
	p.reaggregate(g.Mcast)
}
