package durationutil

import (
	"fmt"
	"strconv"
	"time"

	"github.com/meshcontrol/policy-controller/pkg/policy/api"
)

// AccrualAnnotationKeys names the companion annotation keys for a
// "balancer.<domain>/failure-accrual"-family annotation, expanded with the
// balancer prefix in use.
type AccrualAnnotationKeys struct {
	Mode        string
	MaxFailures string
	MinPenalty  string
	MaxPenalty  string
	JitterRatio string
}

// BalancerKeys returns the AccrualAnnotationKeys for the given annotation
// domain (e.g. "mesh.io"), matching §6's
// "balancer.<domain>/failure-accrual{,-consecutive-max-failures,...}" keys.
func BalancerKeys(domain string) AccrualAnnotationKeys {
	prefix := "balancer." + domain
	return AccrualAnnotationKeys{
		Mode:        prefix + "/failure-accrual",
		MaxFailures: prefix + "/failure-accrual-consecutive-max-failures",
		MinPenalty:  prefix + "/failure-accrual-consecutive-min-penalty",
		MaxPenalty:  prefix + "/failure-accrual-consecutive-max-penalty",
		JitterRatio: prefix + "/failure-accrual-consecutive-jitter-ratio",
	}
}

// ParseFailureAccrual parses the failure-accrual annotation family out of
// annotations. It returns (nil, nil) when the mode annotation is absent
// (meaning "no failure-accrual configured"). The only recognized mode is
// "consecutive"; any other value is an error, and on error the caller must
// retain whatever FailureAccrual was previously in effect (§7 illegal-spec
// handling), not apply a zero value.
func ParseFailureAccrual(annotations map[string]string, keys AccrualAnnotationKeys) (*api.FailureAccrual, error) {
	mode, ok := annotations[keys.Mode]
	if !ok {
		return nil, nil
	}
	if mode != string(api.FailureAccrualConsecutive) {
		return nil, fmt.Errorf("durationutil: unknown failure-accrual mode %q", mode)
	}

	defaults := api.DefaultFailureAccrual()
	accrual := defaults

	if raw, ok := annotations[keys.MaxFailures]; ok {
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("durationutil: invalid max-failures %q: %w", raw, err)
		}
		accrual.MaxFailures = uint32(n)
	}
	if raw, ok := annotations[keys.MinPenalty]; ok {
		d, err := ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("durationutil: invalid min-penalty: %w", err)
		}
		accrual.MinPenalty = d
	}
	if raw, ok := annotations[keys.MaxPenalty]; ok {
		d, err := ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("durationutil: invalid max-penalty: %w", err)
		}
		accrual.MaxPenalty = d
	}
	if raw, ok := annotations[keys.JitterRatio]; ok {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("durationutil: invalid jitter-ratio %q: %w", raw, err)
		}
		accrual.Jitter = f
	}

	if accrual.MinPenalty > accrual.MaxPenalty {
		return nil, fmt.Errorf("durationutil: min-penalty %s exceeds max-penalty %s", accrual.MinPenalty, accrual.MaxPenalty)
	}
	if accrual.MaxPenalty <= 0 {
		return nil, fmt.Errorf("durationutil: max-penalty must be positive")
	}
	if accrual.Jitter < 0 || accrual.Jitter > 100 {
		return nil, fmt.Errorf("durationutil: jitter-ratio %v out of range [0,100]", accrual.Jitter)
	}

	return &accrual, nil
}

// TimeoutAnnotationKeys names the "timeout.<domain>/{response,request,idle}"
// annotation keys.
type TimeoutAnnotationKeys struct {
	Response string
	Request  string
	Idle     string
}

// TimeoutKeys returns the TimeoutAnnotationKeys for the given annotation
// domain.
func TimeoutKeys(domain string) TimeoutAnnotationKeys {
	prefix := "timeout." + domain
	return TimeoutAnnotationKeys{
		Response: prefix + "/response",
		Request:  prefix + "/request",
		Idle:     prefix + "/idle",
	}
}

// ParseTimeouts parses the three independent timeout annotations. Any one
// of them may be absent; an unparseable value is an error for that field
// only, reported so the caller can log it and retain the field's previous
// value.
func ParseTimeouts(annotations map[string]string, keys TimeoutAnnotationKeys) (api.Timeouts, error) {
	var out api.Timeouts
	var errs []error

	parse := func(key string) *time.Duration {
		raw, ok := annotations[key]
		if !ok {
			return nil
		}
		d, err := ParseDuration(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return nil
		}
		return &d
	}

	out.Response = parse(keys.Response)
	out.Request = parse(keys.Request)
	out.Idle = parse(keys.Idle)

	if len(errs) > 0 {
		return out, fmt.Errorf("durationutil: invalid timeout annotations: %v", errs)
	}
	return out, nil
}
