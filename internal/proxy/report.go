// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package proxy

import (
	"net"

	"grimm.is/igmpproxy/internal/config"
	"grimm.is/igmpproxy/internal/errs"
	"grimm.is/igmpproxy/internal/wire"
)

// AcceptV1V2Report implements accept_v1v2_report: a plain IGMPv1 or
// IGMPv2 membership report, translated into the v3 action IS_EX({}).
func (p *Proxy) AcceptV1V2Report(ifaceIndex int, src, group net.IP, version int) error {
	iface, err := p.precheck(ifaceIndex, src, group)
	if err != nil {
		return err
	}

	g, err := groupAdd(iface, group)
	if err != nil {
		return err
	}

	if version == 1 {
		p.rearm(&g.V1HostTimer, p.Timers.GMI(), func(any) { p.onV1HostTimerExpire(g) }, nil)
	} else if g.CompatVersion != V1 {
		p.rearm(&g.V2HostTimer, p.Timers.GMI(), func(any) { p.onV2HostTimerExpire(g) }, nil)
	}
	p.recomputeCompat(g)

	p.applyRecord(g, wire.RecordIsEx, nil)
	if p.Metrics != nil {
		p.Metrics.ReportsReceived.WithLabelValues(iface.Name, versionLabel(version)).Inc()
	}
	return nil
}

// AcceptV2Leave implements accept_v2_leave: translated into the v3
// action IS_IN({}).
func (p *Proxy) AcceptV2Leave(ifaceIndex int, src, group net.IP) error {
	iface, err := p.precheck(ifaceIndex, src, group)
	if err != nil {
		return err
	}
	g, ok := groupLookup(iface, group)
	if !ok {
		return nil
	}
	if g.CompatVersion == V1 {
		return nil
	}
	p.applyRecord(g, wire.RecordIsIn, nil)
	if p.Metrics != nil {
		p.Metrics.ReportsReceived.WithLabelValues(iface.Name, "v2-leave").Inc()
	}
	return nil
}

// AcceptV3Report implements accept_v3_report: one or more group
// records from a decoded IGMPv3 membership report, each applied
// independently so a malformed record does not abort the rest.
func (p *Proxy) AcceptV3Report(ifaceIndex int, src net.IP, records []wire.GroupRecord) error {
	iface, err := p.resolveDownstream(ifaceIndex, src)
	if err != nil {
		return err
	}

	for _, rec := range records {
		if err := p.acceptV3Record(iface, rec); err != nil {
			p.logger.WithError(err).Warn("dropping group record", "interface", iface.Name, "group", rec.Group)
			continue
		}
	}
	return nil
}

func (p *Proxy) acceptV3Record(iface *Interface, rec wire.GroupRecord) error {
	if !rec.Group.IsMulticast() {
		return errs.New(errs.KindValidation, "not a multicast address")
	}
	if !iface.IsGroupAllowed(rec.Group) {
		return errs.New(errs.KindValidation, "group not permitted on this interface")
	}

	g, err := groupAdd(iface, rec.Group)
	if err != nil {
		return err
	}
	if g.CompatVersion != V3 {
		return errs.New(errs.KindVersionMismatch, "v3 report rejected: compat version is not V3")
	}

	p.applyRecord(g, rec.Type, allowedSources(iface, rec.Sources))
	if p.Metrics != nil {
		p.Metrics.ReportsReceived.WithLabelValues(iface.Name, "v3").Inc()
	}
	return nil
}

// precheck runs the uniform pre-checks shared by v1/v2 reports and
// leaves: the group must be multicast, the source must resolve to a
// known downstream interface, and the packet must not be self-sent.
func (p *Proxy) precheck(ifaceIndex int, src, group net.IP) (*Interface, error) {
	if !group.IsMulticast() {
		return nil, errs.New(errs.KindValidation, "not a multicast address")
	}
	iface, err := p.resolveDownstream(ifaceIndex, src)
	if err != nil {
		return nil, err
	}
	if !iface.IsGroupAllowed(group) {
		return nil, errs.New(errs.KindValidation, "group not permitted on this interface")
	}
	return iface, nil
}

func (p *Proxy) resolveDownstream(ifaceIndex int, src net.IP) (*Interface, error) {
	iface, err := p.Table.LookupByIfaceIndex(ifaceIndex)
	if err != nil {
		return nil, err
	}
	if iface.Role != config.RoleDownstream {
		return nil, errs.New(errs.KindWrongInterface, "report received on non-downstream interface")
	}
	if iface.Addr != nil && src.Equal(iface.Addr) {
		return nil, errs.New(errs.KindValidation, "packet from own address")
	}
	return iface, nil
}

// applyRecord dispatches one group record through the six-action table
// (RFC 3376 §6.4) and re-aggregates the group upstream afterward.
//
// In V1/V2 compatibility mode, TO_EX's source list is treated as
// empty and TO_IN/ALLOW/BLOCK are ignored.
func (p *Proxy) applyRecord(g *Group, action wire.RecordType, sources []net.IP) {
	if g.CompatVersion != V3 {
		switch action {
		case wire.RecordToEx:
			sources = nil
		case wire.RecordToIn, wire.RecordAllow, wire.RecordBlock:
			return
		}
	}

	B := newAddrSet(sources)

	if g.FilterMode == FilterInclude {
		A := sourceSet(g, always)
		switch action {
		case wire.RecordIsIn, wire.RecordAllow:
			p.armSources(g, B, p.Timers.GMI())
		case wire.RecordIsEx:
			p.includeToExclude(g, A, B)
		case wire.RecordToIn:
			p.armSources(g, B, p.Timers.GMI())
			p.sendGSQuery(g, difference(A, B).slice())
		case wire.RecordToEx:
			p.includeToExclude(g, A, B)
			p.sendGSQuery(g, intersect(A, B).slice())
		case wire.RecordBlock:
			p.sendGSQuery(g, intersect(A, B).slice())
		}
	} else {
		X := sourceSet(g, forwardingTrue)
		Y := sourceSet(g, forwardingFalse)
		switch action {
		case wire.RecordIsIn, wire.RecordAllow:
			p.excludeGrow(g, B)
		case wire.RecordIsEx:
			p.excludeReplace(g, X, Y, B, p.Timers.GMI())
			p.setGroupTimer(g, p.Timers.GMI())
		case wire.RecordToIn:
			p.excludeGrow(g, B)
			p.sendGSQuery(g, difference(X, B).slice())
			p.sendGroupQuery(g)
		case wire.RecordToEx:
			left := p.Callout.Left(g.GroupTimer)
			p.excludeReplace(g, X, Y, B, left)
			p.setGroupTimer(g, p.Timers.GMI())
			p.sendGSQuery(g, difference(B, Y).slice())
		case wire.RecordBlock:
			p.excludeBlock(g, X, Y, B)
			p.sendGSQuery(g, difference(B, Y).slice())
		}
	}

	p.reaggregate(g.Mcast)
}

// allowedSources filters sources down to those permitted by iface's
// altnet list, implementing is_address_valid_for per named source
// address in a v3 group record.
func allowedSources(iface *Interface, sources []net.IP) []net.IP {
	if len(iface.AltNets) == 0 {
		return sources
	}
	out := make([]net.IP, 0, len(sources))
	for _, s := range sources {
		if iface.IsSourceValid(s) {
			out = append(out, s)
		}
	}
	return out
}

func versionLabel(v int) string {
	if v == 1 {
		return "v1"
	}
	return "v2"
}
