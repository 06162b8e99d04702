// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"bufio"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"grimm.is/igmpproxy/internal/errs"
	"grimm.is/igmpproxy/internal/logging"
)

// DefaultPath is where the daemon looks for its configuration absent
// an explicit path on the command line.
const DefaultPath = "/etc/igmpproxy.conf"

// LoadFile reads and parses the directive file at path.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrapf(err, errs.KindFatal, "open config %s", path)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads the token-based directive grammar from r:
//
//	phyint <name> <upstream|downstream|disabled> [ratelimit N] [threshold N] [altnet A/M]* [whitelist A/M]*
//	quickleave
//
// Unknown top-level directives are logged and skipped, per the
// collaborator contract: this parser does not own the grammar's
// evolution, only its currently recognised subset.
func Parse(r io.Reader) (*Config, error) {
	cfg := &Config{Timers: DefaultTimers()}
	logger := logging.WithComponent("config")

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := stripComment(scanner.Text())
		tokens := strings.Fields(line)
		if len(tokens) == 0 {
			continue
		}

		directive := strings.ToLower(tokens[0])
		switch directive {
		case "quickleave":
			cfg.QuickLeave = true
		case "phyint":
			iface, err := parsePhyint(tokens[1:])
			if err != nil {
				return nil, errs.Wrapf(err, errs.KindValidation, "line %d", lineNo)
			}
			cfg.Interfaces = append(cfg.Interfaces, iface)
		default:
			logger.Warn("skipping unrecognised directive", "directive", tokens[0], "line", lineNo)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(err, errs.KindFatal, "read config")
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func stripComment(line string) string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	return line
}

func parsePhyint(tokens []string) (Interface, error) {
	if len(tokens) < 2 {
		return Interface{}, errs.New(errs.KindValidation, "phyint requires <name> <role>")
	}

	// Threshold defaults to 1: a zero entry in the kernel TTL vector
	// means "do not forward on this VIF".
	iface := Interface{Name: tokens[0], Threshold: 1}
	switch strings.ToLower(tokens[1]) {
	case "upstream":
		iface.Role = RoleUpstream
	case "downstream":
		iface.Role = RoleDownstream
	case "disabled":
		iface.Role = RoleDisabled
	default:
		return Interface{}, errs.Errorf(errs.KindValidation, "phyint %s: unknown role %q", tokens[0], tokens[1])
	}

	rest := tokens[2:]
	for i := 0; i < len(rest); i++ {
		switch strings.ToLower(rest[i]) {
		case "ratelimit":
			i++
			if i >= len(rest) {
				return Interface{}, errs.Errorf(errs.KindValidation, "phyint %s: ratelimit missing value", iface.Name)
			}
			n, err := strconv.Atoi(rest[i])
			if err != nil {
				return Interface{}, errs.Wrapf(err, errs.KindValidation, "phyint %s: invalid ratelimit", iface.Name)
			}
			iface.RateLimit = n
		case "threshold":
			i++
			if i >= len(rest) {
				return Interface{}, errs.Errorf(errs.KindValidation, "phyint %s: threshold missing value", iface.Name)
			}
			n, err := strconv.Atoi(rest[i])
			if err != nil || n < 0 || n > 255 {
				return Interface{}, errs.Errorf(errs.KindValidation, "phyint %s: invalid threshold %q", iface.Name, rest[i])
			}
			iface.Threshold = uint8(n)
		case "altnet":
			i++
			if i >= len(rest) {
				return Interface{}, errs.Errorf(errs.KindValidation, "phyint %s: altnet missing value", iface.Name)
			}
			_, ipnet, err := net.ParseCIDR(rest[i])
			if err != nil {
				return Interface{}, errs.Wrapf(err, errs.KindValidation, "phyint %s: invalid altnet %q", iface.Name, rest[i])
			}
			iface.AltNets = append(iface.AltNets, ipnet)
		case "whitelist":
			i++
			if i >= len(rest) {
				return Interface{}, errs.Errorf(errs.KindValidation, "phyint %s: whitelist missing value", iface.Name)
			}
			_, ipnet, err := net.ParseCIDR(rest[i])
			if err != nil {
				return Interface{}, errs.Wrapf(err, errs.KindValidation, "phyint %s: invalid whitelist %q", iface.Name, rest[i])
			}
			iface.Whitelists = append(iface.Whitelists, ipnet)
		default:
			return Interface{}, errs.Errorf(errs.KindValidation, "phyint %s: unknown option %q", iface.Name, rest[i])
		}
	}

	return iface, nil
}
