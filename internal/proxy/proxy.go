// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package proxy

import (
	"context"
	"sync"
	"time"

	"grimm.is/igmpproxy/internal/callout"
	"grimm.is/igmpproxy/internal/config"
	"grimm.is/igmpproxy/internal/errs"
	"grimm.is/igmpproxy/internal/logging"
	"grimm.is/igmpproxy/internal/metrics"
	"grimm.is/igmpproxy/internal/mroute"
	"grimm.is/igmpproxy/internal/netlink"
	"grimm.is/igmpproxy/internal/statusapi"
	"grimm.is/igmpproxy/internal/transport"
	"grimm.is/igmpproxy/internal/wire"
)

// Proxy is the daemon's runtime: the interface table (C1), the
// callout/timer service driving every group and source timer, the
// kernel route installer (C5's backend), and the raw IGMP socket. The
// event loop is single-threaded and cooperative; mu exists only to
// let the status API read a consistent snapshot from another
// goroutine, not to protect the core state machine from itself.
type Proxy struct {
	Table   *Table
	Timers  config.Timers
	Callout *callout.Service
	Kernel  mroute.Table
	Socket  transport.Socket
	Metrics *metrics.Metrics

	logger *logging.Logger

	upstream         map[string]*Membership
	joined           map[string]bool
	activatedOrigins map[string]map[string]bool

	mu sync.Mutex
}

var _ statusapi.Snapshotter = (*Proxy)(nil)

// NewProxy builds the interface table from cfg, resolving each
// configured name through resolver, initializes the kernel multicast
// routing table, and starts the querier on every downstream interface.
// now is the callout service's clock source (time.Now in production,
// a fake in tests).
func NewProxy(cfg *config.Config, resolver netlink.Resolver, kernel mroute.Table, sock transport.Socket, m *metrics.Metrics, logger *logging.Logger, now func() time.Time) (*Proxy, error) {
	upCfg, ok := cfg.Upstream()
	if !ok {
		return nil, errs.New(errs.KindValidation, "no upstream interface configured")
	}

	table := NewTable()
	vif := 0

	upInfo, err := resolver.Resolve(upCfg.Name)
	if err != nil {
		return nil, errs.Wrapf(err, errs.KindNotFound, "resolving upstream interface %s", upCfg.Name)
	}
	upIface := NewInterface(upCfg, upInfo.Index, upInfo.Addr, upInfo.IsLoopback)
	upIface.VIFIndex = vif
	vif++
	if err := table.Add(upIface); err != nil {
		return nil, err
	}

	for _, dCfg := range cfg.Downstreams() {
		info, err := resolver.Resolve(dCfg.Name)
		if err != nil {
			return nil, errs.Wrapf(err, errs.KindNotFound, "resolving downstream interface %s", dCfg.Name)
		}
		iface := NewInterface(dCfg, info.Index, info.Addr, info.IsLoopback)
		iface.VIFIndex = vif
		vif++
		if err := table.Add(iface); err != nil {
			return nil, err
		}
	}

	if err := kernel.Init(); err != nil {
		return nil, errs.Wrap(err, errs.KindKernelCall, "MRT_INIT")
	}
	for _, iface := range table.All() {
		if err := kernel.AddVIF(iface.VIFIndex, iface.IfaceIndex, iface.Threshold); err != nil {
			return nil, errs.Wrapf(err, errs.KindKernelCall, "MRT_ADD_VIF %s", iface.Name)
		}
	}

	p := &Proxy{
		Table:            table,
		Timers:           cfg.Timers,
		Callout:          callout.New(now),
		Kernel:           kernel,
		Socket:           sock,
		Metrics:          m,
		logger:           logger,
		upstream:         make(map[string]*Membership),
		joined:           make(map[string]bool),
		activatedOrigins: make(map[string]map[string]bool),
	}

	for _, iface := range table.Downstreams() {
		p.StartQuerier(iface)
	}
	return p, nil
}

// Run multiplexes inbound packets and timer ticks on one goroutine
// until ctx is canceled or the socket fails. Packet reception runs on
// a second goroutine only to unblock a blocking Recv; every byte of
// proxy state is still mutated from this loop alone.
func (p *Proxy) Run(ctx context.Context) error {
	packets := make(chan transport.Packet, 64)
	recvErr := make(chan error, 1)

	go func() {
		for {
			pkt, err := p.Socket.Recv()
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case packets <- pkt:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-recvErr:
			return err
		case pkt := <-packets:
			p.mu.Lock()
			p.handlePacket(pkt)
			p.mu.Unlock()
		case up, ok := <-p.Kernel.Upcalls():
			if !ok {
				continue
			}
			p.mu.Lock()
			p.onUpcall(up)
			p.mu.Unlock()
		case now := <-ticker.C:
			p.mu.Lock()
			p.Callout.Age(now)
			p.mu.Unlock()
		}
	}
}

func (p *Proxy) handlePacket(pkt transport.Packet) {
	msg, err := wire.Decode(pkt.Payload)
	if err != nil {
		p.logger.WithError(err).Debug("dropping unparseable packet")
		return
	}

	var handleErr error
	switch msg.Kind {
	case wire.KindQuery:
		handleErr = p.AcceptQuery(pkt.IfaceIndex, pkt.Src, msg)
	case wire.KindV1Report:
		handleErr = p.AcceptV1V2Report(pkt.IfaceIndex, pkt.Src, msg.Group, 1)
	case wire.KindV2Report:
		handleErr = p.AcceptV1V2Report(pkt.IfaceIndex, pkt.Src, msg.Group, 2)
	case wire.KindV2Leave:
		handleErr = p.AcceptV2Leave(pkt.IfaceIndex, pkt.Src, msg.Group)
	case wire.KindV3Report:
		handleErr = p.AcceptV3Report(pkt.IfaceIndex, pkt.Src, msg.Records)
	default:
		return
	}
	if handleErr != nil {
		p.logger.WithError(handleErr).Debug("dropping igmp message", "kind", msg.Kind)
	}
}

// Interfaces implements statusapi.Snapshotter.
func (p *Proxy) Interfaces() []statusapi.InterfaceStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]statusapi.InterfaceStatus, 0, len(p.Table.All()))
	for _, iface := range p.Table.All() {
		out = append(out, statusapi.InterfaceStatus{
			Name:    iface.Name,
			Role:    iface.Role.String(),
			Querier: iface.IsQuerier,
		})
	}
	return out
}

// Groups implements statusapi.Snapshotter.
func (p *Proxy) Groups(ifaceName string) []statusapi.GroupStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	iface, err := p.Table.Lookup(ifaceName)
	if err != nil {
		return nil
	}
	out := make([]statusapi.GroupStatus, 0, len(iface.Groups))
	for _, g := range iface.Groups {
		out = append(out, statusapi.GroupStatus{
			Group:      g.Mcast.String(),
			FilterMode: g.FilterMode.String(),
			Sources:    addrsToStrings(sourceSet(g, always)),
		})
	}
	return out
}

// Upstream implements statusapi.Snapshotter.
func (p *Proxy) Upstream() []statusapi.UpstreamStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]statusapi.UpstreamStatus, 0, len(p.upstream))
	for _, m := range p.upstream {
		out = append(out, statusapi.UpstreamStatus{
			Group:      m.Mcast.String(),
			FilterMode: m.FilterMode.String(),
			Sources:    addrsToStrings(m.Sources),
		})
	}
	return out
}

func addrsToStrings(set addrSet) []string {
	out := make([]string, 0, len(set))
	for _, ip := range set {
		out = append(out, ip.String())
	}
	return out
}
