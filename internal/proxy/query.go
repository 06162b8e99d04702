// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package proxy

import (
	"net"

	"grimm.is/igmpproxy/internal/config"
	"grimm.is/igmpproxy/internal/wire"
)

var allHosts = net.IPv4(224, 0, 0, 1)

// StartQuerier begins the startup phase of general-query transmission
// on iface: startup_query_count queries at startup_query_interval,
// then steady-state at query_interval.
func (p *Proxy) StartQuerier(iface *Interface) {
	iface.StartupQueriesLeft = p.Timers.StartupQueryCount
	p.sendGeneralQuery(iface)
}

func (p *Proxy) sendGeneralQuery(iface *Interface) {
	if !iface.IsQuerier {
		return
	}
	p.emitGeneralQuery(iface)

	if iface.StartupQueriesLeft > 0 {
		iface.StartupQueriesLeft--
	}
	next := p.Timers.QueryInterval
	if iface.StartupQueriesLeft > 0 {
		next = p.Timers.StartupQueryInterval
	}
	p.rearm(&iface.GeneralQueryTimer, next, func(any) { p.sendGeneralQuery(iface) }, nil)
}

// AcceptQuery implements querier election: a general query from a
// numerically lower address on a downstream interface cedes the
// querier role for one OtherQuerierPresentInterval.
func (p *Proxy) AcceptQuery(ifaceIndex int, src net.IP, msg *wire.Message) error {
	if msg.QueryGroup != nil && !msg.QueryGroup.IsUnspecified() {
		return nil // group-specific/group-and-source queries don't participate in election
	}
	iface, err := p.Table.LookupByIfaceIndex(ifaceIndex)
	if err != nil {
		return err
	}
	if iface.Role != config.RoleDownstream || iface.Addr == nil {
		return nil
	}
	if compareIP(src, iface.Addr) >= 0 {
		return nil
	}

	if iface.IsQuerier {
		p.Callout.Clear(iface.GeneralQueryTimer)
		iface.GeneralQueryTimer = 0
		iface.IsQuerier = false
		if p.Metrics != nil {
			p.Metrics.QuerierElections.Inc()
		}
	}
	p.rearm(&iface.OtherQuerierTimer, p.Timers.OQPI(), func(any) { p.onOtherQuerierTimeout(iface) }, nil)
	return nil
}

func (p *Proxy) onOtherQuerierTimeout(iface *Interface) {
	iface.IsQuerier = true
	p.sendGeneralQuery(iface)
}

// sendGroupQuery implements Q(G): the group-specific last-member query.
func (p *Proxy) sendGroupQuery(g *Group) {
	if !g.Iface.IsQuerier {
		return
	}
	lmqt := p.Timers.LMQT()
	if left := p.Callout.Left(g.GroupTimer); left > lmqt {
		p.setGroupTimer(g, lmqt)
	}
	g.Scheduled = true
	g.RetransmitCount = p.Timers.LastMemberQueryCount - 1
	p.emitGroupQuery(g, false)
	p.rearm(&g.QueryTimer, p.Timers.LastMemberQueryInterval, func(any) { p.onRetransmit(g) }, nil)
}

// sendGSQuery implements Q(G,S): the group-and-source-specific
// last-member query for the given sources.
func (p *Proxy) sendGSQuery(g *Group, sources []net.IP) {
	if len(sources) == 0 || !g.Iface.IsQuerier {
		return
	}
	lmqt := p.Timers.LMQT()
	for _, addr := range sources {
		s, ok := sourceLookup(g, addr)
		if !ok {
			continue
		}
		if left := p.Callout.Left(s.Timer); left > lmqt {
			p.rearm(&s.Timer, lmqt, func(any) { p.onSourceExpire(s) }, nil)
		}
		if !s.Scheduled {
			g.NScheduledSources++
		}
		s.Scheduled = true
		s.RetransmitCount = p.Timers.LastMemberQueryCount - 1
	}
	p.emitGSQuery(g, sources, false)
	p.rearm(&g.QueryTimer, p.Timers.LastMemberQueryInterval, func(any) { p.onRetransmit(g) }, nil)
}

// onRetransmit is the retransmission scheduler: fired by g.QueryTimer,
// it resends Q(G) if still pending, then re-batches every scheduled
// source by remaining time and resends Q(G,S) for each non-empty batch.
func (p *Proxy) onRetransmit(g *Group) {
	if !g.Iface.IsQuerier {
		g.Scheduled = false
		g.NScheduledSources = 0
		return
	}
	lmqt := p.Timers.LMQT()

	if g.Scheduled && g.RetransmitCount > 0 {
		p.emitGroupQuery(g, false)
		g.RetransmitCount--
		if g.RetransmitCount == 0 {
			g.Scheduled = false
		}
	}

	var sFlagClear, sFlagSet []net.IP
	for _, s := range g.Sources {
		if !s.Scheduled {
			continue
		}
		if left := p.Callout.Left(s.Timer); left <= lmqt {
			sFlagClear = append(sFlagClear, s.Addr)
		} else {
			sFlagSet = append(sFlagSet, s.Addr)
		}
		s.RetransmitCount--
		if s.RetransmitCount <= 0 {
			s.Scheduled = false
			if g.NScheduledSources > 0 {
				g.NScheduledSources--
			}
		}
	}
	if len(sFlagClear) > 0 {
		p.emitGSQuery(g, sFlagClear, false)
	}
	if len(sFlagSet) > 0 {
		p.emitGSQuery(g, sFlagSet, true)
	}

	if g.Scheduled || g.NScheduledSources > 0 {
		p.rearm(&g.QueryTimer, p.Timers.LastMemberQueryInterval, func(any) { p.onRetransmit(g) }, nil)
	}
}

func (p *Proxy) emitGeneralQuery(iface *Interface) {
	q := wire.QueryParams{
		MaxRespTime: p.Timers.QueryResponseInterval,
		QRV:         uint8(p.Timers.Robustness),
		QQI:         p.Timers.QueryInterval,
	}
	p.send(iface, allHosts, wire.EncodeQuery(q))
	if p.Metrics != nil {
		p.Metrics.QueriesSent.WithLabelValues(iface.Name, "general").Inc()
	}
}

func (p *Proxy) emitGroupQuery(g *Group, sFlag bool) {
	q := wire.QueryParams{
		MaxRespTime: p.Timers.LastMemberQueryInterval,
		Group:       g.Mcast,
		SFlag:       sFlag,
		QRV:         uint8(g.Iface.Robustness),
		QQI:         p.Timers.QueryInterval,
	}
	p.send(g.Iface, g.Mcast, wire.EncodeQuery(q))
	if p.Metrics != nil {
		p.Metrics.QueriesSent.WithLabelValues(g.Iface.Name, "group-specific").Inc()
	}
}

func (p *Proxy) emitGSQuery(g *Group, sources []net.IP, sFlag bool) {
	q := wire.QueryParams{
		MaxRespTime: p.Timers.LastMemberQueryInterval,
		Group:       g.Mcast,
		Sources:     sources,
		SFlag:       sFlag,
		QRV:         uint8(g.Iface.Robustness),
		QQI:         p.Timers.QueryInterval,
	}
	p.send(g.Iface, g.Mcast, wire.EncodeQuery(q))
	if p.Metrics != nil {
		p.Metrics.QueriesSent.WithLabelValues(g.Iface.Name, "group-and-source").Inc()
	}
}

func (p *Proxy) send(iface *Interface, dst net.IP, payload []byte) {
	if err := p.Socket.Send(iface.IfaceIndex, dst, payload); err != nil {
		p.logger.WithError(err).Error("send igmp query", "interface", iface.Name)
	}
}

func compareIP(a, b net.IP) int {
	a4, b4 := a.To4(), b.To4()
	for i := range a4 {
		if a4[i] != b4[i] {
			if a4[i] < b4[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
