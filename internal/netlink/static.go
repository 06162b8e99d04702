// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netlink

import "grimm.is/igmpproxy/internal/errs"

// StaticResolver is a fixed-table Resolver for tests and the simulated
// kernel backend, avoiding any dependency on a real network stack.
type StaticResolver struct {
	Interfaces map[string]Info
}

// NewStaticResolver returns a StaticResolver seeded with infos, keyed by name.
func NewStaticResolver(infos ...Info) *StaticResolver {
	m := make(map[string]Info, len(infos))
	for _, i := range infos {
		m[i.Name] = i
	}
	return &StaticResolver{Interfaces: m}
}

func (s *StaticResolver) Resolve(name string) (Info, error) {
	if i, ok := s.Interfaces[name]; ok {
		return i, nil
	}
	return Info{}, errs.Errorf(errs.KindFatal, "interface %s not found", name)
}
