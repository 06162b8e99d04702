// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package proxy

import (
	"net"

	"grimm.is/igmpproxy/internal/mroute"
)

// Membership is the upstream aggregate record M(G): the union over
// every downstream interface's state for one multicast group.
type Membership struct {
	Mcast      net.IP
	FilterMode FilterMode
	Sources    addrSet
}

// reaggregate rebuilds M(group) from every downstream interface's
// record for it (RFC 4605 §4.1), then applies the result to the
// upstream socket and kernel route table (C5).
func (p *Proxy) reaggregate(group net.IP) error {
	key := group.String()

	m := Membership{Mcast: group, FilterMode: FilterInclude, Sources: make(addrSet)}
	var anyRecord bool

	for _, iface := range p.Table.Downstreams() {
		g, ok := groupLookup(iface, group)
		if !ok {
			continue
		}
		anyRecord = true
		m = mergeOne(m, g)
	}

	if !anyRecord || (m.FilterMode == FilterInclude && len(m.Sources) == 0) {
		if _, existed := p.upstream[key]; existed {
			delete(p.upstream, key)
			return p.removeRoute(group)
		}
		return nil
	}

	p.upstream[key] = &m
	return p.installRoute(group, &m)
}

// mergeOne folds one downstream interface's group record into the
// running upstream accumulator per the RFC 4605 §4.1 table.
func mergeOne(acc Membership, g *Group) Membership {
	switch {
	case acc.FilterMode == FilterInclude && g.FilterMode == FilterInclude:
		b := sourceSet(g, always)
		return Membership{Mcast: acc.Mcast, FilterMode: FilterInclude, Sources: union(acc.Sources, b)}

	case acc.FilterMode == FilterInclude && g.FilterMode == FilterExclude:
		y := sourceSet(g, forwardingFalse)
		return Membership{Mcast: acc.Mcast, FilterMode: FilterExclude, Sources: difference(y, acc.Sources)}

	case acc.FilterMode == FilterExclude && g.FilterMode == FilterInclude:
		b := sourceSet(g, always)
		return Membership{Mcast: acc.Mcast, FilterMode: FilterExclude, Sources: difference(acc.Sources, b)}

	default: // EXCLUDE, EXCLUDE
		y := sourceSet(g, forwardingFalse)
		return Membership{Mcast: acc.Mcast, FilterMode: FilterExclude, Sources: intersect(acc.Sources, y)}
	}
}

// installRoute applies the upstream full-state source filter and joins
// the group at the IP layer. It does not itself touch the forwarding
// cache: per insert_route's deferred-activation contract, the route
// stays pending until onUpcall observes the first data packet and
// learns the real origin to install.
func (p *Proxy) installRoute(group net.IP, m *Membership) error {
	if _, err := p.Table.Upstream(); err != nil {
		return err
	}

	mode := mroute.FilterInclude
	if m.FilterMode == FilterExclude {
		mode = mroute.FilterExclude
	}

	if !p.joined[group.String()] {
		if err := p.Kernel.JoinGroup(group); err != nil {
			p.countKernelError("join_group")
			p.logger.WithError(err).Error("join upstream group", "group", group)
		} else {
			p.joined[group.String()] = true
		}
	}

	if err := p.Kernel.SetSourceFilter(group, mode, m.Sources.slice()); err != nil {
		p.countKernelError("ip_msfilter")
		p.logger.WithError(err).Error("set upstream source filter", "group", group)
	}
	return nil
}

// onUpcall activates a pending route: the kernel has forwarded a first
// data packet for (origin, group) with no matching MFC entry. Install
// one now toward every downstream VIF currently holding membership for
// group. A stale upcall for a group with no live upstream membership,
// or a repeat for an origin already activated, is ignored.
func (p *Proxy) onUpcall(up mroute.Upcall) {
	key := up.Group.String()
	if _, live := p.upstream[key]; !live {
		return
	}
	originKey := up.Origin.String()
	if p.activatedOrigins[key] == nil {
		p.activatedOrigins[key] = make(map[string]bool)
	}
	if p.activatedOrigins[key][originKey] {
		return
	}

	upIface, err := p.Table.Upstream()
	if err != nil {
		return
	}
	ttls := p.forwardingTTLVector(up.Group)
	if err := p.Kernel.AddMFC(up.Origin, up.Group, upIface.VIFIndex, ttls); err != nil {
		p.countKernelError("MRT_ADD_MFC")
		p.logger.WithError(err).Error("activate pending route", "group", up.Group, "origin", up.Origin)
		return
	}
	p.activatedOrigins[key][originKey] = true
}

// removeRoute tears down every activated forwarding cache entry and the
// upstream filter/join for a group whose upstream membership has gone
// empty.
func (p *Proxy) removeRoute(group net.IP) error {
	key := group.String()
	for originKey := range p.activatedOrigins[key] {
		origin := net.ParseIP(originKey)
		if err := p.Kernel.DelMFC(origin, group); err != nil {
			p.countKernelError("MRT_DEL_MFC")
			p.logger.WithError(err).Error("delete forwarding entry", "group", group, "origin", origin)
		}
	}
	delete(p.activatedOrigins, key)

	if p.joined[key] {
		if err := p.Kernel.LeaveGroup(group); err != nil {
			p.countKernelError("leave_group")
			p.logger.WithError(err).Error("leave upstream group", "group", group)
		}
		delete(p.joined, key)
	}
	return nil
}

// forwardingTTLVector builds the per-VIF TTL vector for group: every
// downstream interface with a live group record forwards at its
// configured threshold; all others are zero (do not forward).
func (p *Proxy) forwardingTTLVector(group net.IP) []uint8 {
	maxVIF := 0
	for _, iface := range p.Table.All() {
		if iface.VIFIndex > maxVIF {
			maxVIF = iface.VIFIndex
		}
	}
	ttls := make([]uint8, maxVIF+1)
	for _, iface := range p.Table.Downstreams() {
		if _, ok := groupLookup(iface, group); ok {
			ttls[iface.VIFIndex] = iface.Threshold
		}
	}
	return ttls
}

func (p *Proxy) countKernelError(op string) {
	if p.Metrics != nil {
		p.Metrics.KernelErrors.WithLabelValues(op).Inc()
	}
}
