// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package proxy implements the per-interface IGMPv3 router state
// machine, the query scheduler, the membership aggregation engine, and
// the kernel route/filter installer that together form an RFC
// 4605 simple multicast proxy.
package proxy

import (
	"net"

	"grimm.is/igmpproxy/internal/callout"
	"grimm.is/igmpproxy/internal/config"
	"grimm.is/igmpproxy/internal/errs"
)

// Interface is the runtime record for one configured network
// interface: its role, address, kernel/VIF indices, querier state, and
// the group records it owns.
type Interface struct {
	Name       string
	Role       config.Role
	Addr       net.IP
	IfaceIndex int // kernel netlink interface index, for packet dispatch
	VIFIndex   int // kernel multicast routing VIF slot

	Robustness int
	Threshold  uint8
	RateLimit  int
	AltNets    []*net.IPNet
	Whitelists []*net.IPNet
	IsLoopback bool

	IsQuerier          bool
	GeneralQueryTimer  callout.Handle
	OtherQuerierTimer  callout.Handle
	StartupQueriesLeft int

	Groups map[string]*Group
}

// NewInterface constructs an Interface from its static configuration.
func NewInterface(cfg config.Interface, ifaceIndex int, addr net.IP, isLoopback bool) *Interface {
	return &Interface{
		Name:       cfg.Name,
		Role:       cfg.Role,
		Addr:       addr,
		IfaceIndex: ifaceIndex,
		Robustness: 2,
		Threshold:  cfg.Threshold,
		RateLimit:  cfg.RateLimit,
		AltNets:    cfg.AltNets,
		Whitelists: cfg.Whitelists,
		IsLoopback: isLoopback,
		IsQuerier:  true,
		Groups:     make(map[string]*Group),
	}
}

// IsGroupAllowed reports whether group is permitted on this interface
// by its whitelist. An interface with no whitelist admits any
// multicast group.
func (i *Interface) IsGroupAllowed(group net.IP) bool {
	if len(i.Whitelists) == 0 {
		return true
	}
	for _, n := range i.Whitelists {
		if n.Contains(group) {
			return true
		}
	}
	return false
}

// IsSourceValid reports whether src is an acceptable multicast source
// for this interface, per its altnet list. An interface with no
// altnets admits any source address.
func (i *Interface) IsSourceValid(src net.IP) bool {
	if len(i.AltNets) == 0 {
		return true
	}
	for _, n := range i.AltNets {
		if n.Contains(src) {
			return true
		}
	}
	return false
}

// Table is the interface table (C1): lookups by name, kernel interface
// index, VIF index, and IPv4 address, plus the single upstream slot.
type Table struct {
	byName    map[string]*Interface
	byIfIndex map[int]*Interface
	byVIF     map[int]*Interface
	byAddr    map[string]*Interface
	upstream  *Interface
	ordered   []*Interface
}

// NewTable returns an empty interface table.
func NewTable() *Table {
	return &Table{
		byName:    make(map[string]*Interface),
		byIfIndex: make(map[int]*Interface),
		byVIF:     make(map[int]*Interface),
		byAddr:    make(map[string]*Interface),
	}
}

// Add registers iface in the table. It is an error to register more
// than one upstream interface.
func (t *Table) Add(iface *Interface) error {
	if iface.Role == config.RoleUpstream && t.upstream != nil {
		return errs.New(errs.KindValidation, "only one upstream interface is supported")
	}
	t.byName[iface.Name] = iface
	t.byIfIndex[iface.IfaceIndex] = iface
	if iface.Role != config.RoleDisabled {
		t.byVIF[iface.VIFIndex] = iface
	}
	if iface.Addr != nil {
		t.byAddr[iface.Addr.String()] = iface
	}
	if iface.Role == config.RoleUpstream {
		t.upstream = iface
	}
	t.ordered = append(t.ordered, iface)
	return nil
}

// Lookup resolves an interface by name.
func (t *Table) Lookup(name string) (*Interface, error) {
	if iface, ok := t.byName[name]; ok {
		return iface, nil
	}
	return nil, errs.Errorf(errs.KindNotFound, "no such interface: %s", name)
}

// LookupByIfaceIndex resolves an interface by kernel interface index,
// the form packets arrive tagged with from the raw socket.
func (t *Table) LookupByIfaceIndex(idx int) (*Interface, error) {
	if iface, ok := t.byIfIndex[idx]; ok {
		return iface, nil
	}
	return nil, errs.Errorf(errs.KindNotFound, "no interface with index %d", idx)
}

// LookupByVIF resolves an interface by its kernel routing VIF slot.
func (t *Table) LookupByVIF(vif int) (*Interface, error) {
	if iface, ok := t.byVIF[vif]; ok {
		return iface, nil
	}
	return nil, errs.Errorf(errs.KindNotFound, "no interface with vif %d", vif)
}

// LookupByAddr resolves an interface by its own IPv4 address.
func (t *Table) LookupByAddr(addr net.IP) (*Interface, error) {
	if iface, ok := t.byAddr[addr.String()]; ok {
		return iface, nil
	}
	return nil, errs.Errorf(errs.KindNotFound, "no interface with address %s", addr)
}

// Upstream returns the single upstream interface.
func (t *Table) Upstream() (*Interface, error) {
	if t.upstream == nil {
		return nil, errs.New(errs.KindNotFound, "no upstream interface configured")
	}
	return t.upstream, nil
}

// Downstreams returns every non-disabled, non-upstream interface, in
// registration order.
func (t *Table) Downstreams() []*Interface {
	var out []*Interface
	for _, iface := range t.ordered {
		if iface.Role == config.RoleDownstream {
			out = append(out, iface)
		}
	}
	return out
}

// All returns every registered interface, in registration order.
func (t *Table) All() []*Interface {
	return t.ordered
}
