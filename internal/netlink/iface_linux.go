// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux
// +build linux

package netlink

import (
	"net"

	"github.com/vishvananda/netlink"

	"grimm.is/igmpproxy/internal/errs"
)

// LinuxResolver resolves interfaces through the kernel's netlink socket.
type LinuxResolver struct{}

// NewResolver returns the platform Resolver (netlink-backed on Linux).
func NewResolver() Resolver { return LinuxResolver{} }

func (LinuxResolver) Resolve(name string) (Info, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return Info{}, errs.Wrapf(err, errs.KindFatal, "interface %s not found", name)
	}

	attrs := link.Attrs()
	info := Info{
		Name:       name,
		Index:      attrs.Index,
		IsUp:       attrs.Flags&net.FlagUp != 0,
		IsLoopback: attrs.Flags&net.FlagLoopback != 0,
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return Info{}, errs.Wrapf(err, errs.KindFatal, "listing addresses on %s", name)
	}
	for _, a := range addrs {
		if a.IP.To4() != nil {
			info.Addr = a.IP.To4()
			break
		}
	}
	if info.Addr == nil {
		return Info{}, errs.Errorf(errs.KindFatal, "interface %s has no IPv4 address", name)
	}

	return info, nil
}
