package durationutil

import "strings"

// validHTTPConditions are the recognized tokens for the HTTP retry-condition
// annotation: an explicit 5xx/4xx status class, or a named failure mode.
var validHTTPConditions = map[string]bool{
	"5xx":              true,
	"gateway-error":    true,
	"reset":            true,
	"connect-failure":  true,
	"retriable-4xx":    true,
	"retriable-headers": true,
}

// validGRPCConditions are the recognized tokens for the gRPC
// retry-condition annotation: gRPC status codes, lowercased and
// hyphenated.
var validGRPCConditions = map[string]bool{
	"cancelled":          true,
	"deadline-exceeded":  true,
	"internal":           true,
	"resource-exhausted": true,
	"unavailable":        true,
}

// RetryAnnotationKeys names the "retry.<domain>/{http,grpc}" annotation
// keys.
type RetryAnnotationKeys struct {
	HTTP string
	GRPC string
}

// RetryKeys returns the RetryAnnotationKeys for the given annotation
// domain.
func RetryKeys(domain string) RetryAnnotationKeys {
	prefix := "retry." + domain
	return RetryAnnotationKeys{
		HTTP: prefix + "/http",
		GRPC: prefix + "/grpc",
	}
}

func parseConditionList(raw string, valid map[string]bool) ([]string, bool) {
	var out []string
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if !valid[tok] {
			return nil, false
		}
		out = append(out, tok)
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// ParseHTTPRetryConditions parses the comma-separated retry.<domain>/http
// annotation value. ok is false when the annotation is absent, when any
// listed condition is not recognized, or when the value lists none.
func ParseHTTPRetryConditions(annotations map[string]string, keys RetryAnnotationKeys) (conditions []string, ok bool) {
	raw, present := annotations[keys.HTTP]
	if !present {
		return nil, false
	}
	return parseConditionList(raw, validHTTPConditions)
}

// ParseGRPCRetryConditions parses the comma-separated retry.<domain>/grpc
// annotation value.
func ParseGRPCRetryConditions(annotations map[string]string, keys RetryAnnotationKeys) (conditions []string, ok bool) {
	raw, present := annotations[keys.GRPC]
	if !present {
		return nil, false
	}
	return parseConditionList(raw, validGRPCConditions)
}
