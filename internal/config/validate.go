// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"grimm.is/igmpproxy/internal/errs"
)

// Validate checks cross-interface invariants: exactly one upstream,
// unique names, and a non-negative rate limit. The threshold range is
// checked while parsing, not here.
func Validate(cfg *Config) error {
	if cfg == nil || len(cfg.Interfaces) == 0 {
		return errs.New(errs.KindValidation, "no phyint directives configured")
	}

	upstreamCount := 0
	seen := make(map[string]bool, len(cfg.Interfaces))
	for _, i := range cfg.Interfaces {
		if seen[i.Name] {
			return errs.Errorf(errs.KindValidation, "duplicate phyint %q", i.Name)
		}
		seen[i.Name] = true

		if i.Role == RoleUpstream {
			upstreamCount++
		}
		if i.RateLimit < 0 {
			return errs.Errorf(errs.KindValidation, "phyint %q: negative ratelimit", i.Name)
		}
	}

	if upstreamCount == 0 {
		return errs.New(errs.KindValidation, "no upstream phyint configured")
	}
	if upstreamCount > 1 {
		return errs.New(errs.KindValidation, "multiple upstream phyint directives configured; only one upstream is supported")
	}

	return nil
}
