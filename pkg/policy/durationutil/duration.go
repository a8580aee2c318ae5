// Package durationutil parses the duration-string and port-list annotation
// grammars used by Service and Pod annotations. The grammar is narrower than
// time.ParseDuration (one magnitude, one unit, a "d" suffix for days) so it
// is hand-rolled rather than delegated to the standard library parser.
package durationutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/meshcontrol/policy-controller/pkg/policy/api"
)

// ParseDuration parses a duration string of the form "<non-negative
// integer><unit>" where unit is one of ms, s, m, h, d, or the bare string
// "0". Any other shape is an error.
func ParseDuration(raw string) (time.Duration, error) {
	if raw == "0" {
		return 0, nil
	}

	unit, magnitude := splitUnit(raw)
	if magnitude == "" {
		return 0, fmt.Errorf("durationutil: invalid duration %q", raw)
	}
	n, err := strconv.ParseUint(magnitude, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("durationutil: invalid duration %q: %w", raw, err)
	}

	var factor time.Duration
	switch unit {
	case "ms":
		factor = time.Millisecond
	case "s":
		factor = time.Second
	case "m":
		factor = time.Minute
	case "h":
		factor = time.Hour
	case "d":
		factor = 24 * time.Hour
	default:
		return 0, fmt.Errorf("durationutil: invalid duration %q: unknown unit %q", raw, unit)
	}
	return time.Duration(n) * factor, nil
}

// splitUnit separates the trailing unit suffix (longest match first, so
// "ms" is preferred over "s") from the leading magnitude digits.
func splitUnit(raw string) (unit, magnitude string) {
	for _, u := range []string{"ms", "s", "m", "h", "d"} {
		if strings.HasSuffix(raw, u) {
			mag := strings.TrimSuffix(raw, u)
			if mag != "" {
				return u, mag
			}
		}
	}
	return "", ""
}

// ParsePorts parses a comma-or-space-separated list of port numbers and
// inclusive ranges ("a-b") into a PortSet, as used by the
// config.linkerd.io/opaque-ports-style annotations.
func ParsePorts(raw string) (api.PortSet, error) {
	set := api.NewPortSet()
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	for _, f := range fields {
		if f == "" {
			continue
		}
		if idx := strings.IndexByte(f, '-'); idx >= 0 {
			loStr, hiStr := f[:idx], f[idx+1:]
			lo, err := strconv.Atoi(loStr)
			if err != nil || !api.ValidPort(lo) {
				return nil, fmt.Errorf("durationutil: invalid port range %q", f)
			}
			hi, err := strconv.Atoi(hiStr)
			if err != nil || !api.ValidPort(hi) {
				return nil, fmt.Errorf("durationutil: invalid port range %q", f)
			}
			if hi < lo {
				return nil, fmt.Errorf("durationutil: invalid port range %q: end before start", f)
			}
			for p := lo; p <= hi; p++ {
				set.Insert(api.Port(p))
			}
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil || !api.ValidPort(n) {
			return nil, fmt.Errorf("durationutil: invalid port %q", f)
		}
		set.Insert(api.Port(n))
	}
	return set, nil
}
