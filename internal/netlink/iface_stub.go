// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux
// +build !linux

package netlink

import "grimm.is/igmpproxy/internal/errs"

// unsupportedResolver reports that kernel interface resolution is only
// available on Linux, matching this daemon's multicast-routing
// dependency on Linux-only MRT_* socket options.
type unsupportedResolver struct{}

// NewResolver returns the platform Resolver. On non-Linux platforms
// there is no kernel multicast router to resolve interfaces for.
func NewResolver() Resolver { return unsupportedResolver{} }

func (unsupportedResolver) Resolve(name string) (Info, error) {
	return Info{}, errs.New(errs.KindFatal, "interface resolution requires linux")
}
