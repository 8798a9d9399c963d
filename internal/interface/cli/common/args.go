package common

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/YoshitsuguKoike/deepipe/internal/domain/execution"
)

// ParsePhaseArg parses a phase number given on the command line
func ParsePhaseArg(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("phase must be a number between %d and %d, got %q", execution.FirstPhase, execution.LastPhase, s)
	}
	if err := execution.CheckPhase(p); err != nil {
		return 0, err
	}
	return p, nil
}

// ParseKeyValues turns repeated --set k=v flags into a global context map.
// Values that parse as JSON scalars keep their type ("3" becomes 3, "true" becomes true).
func ParseKeyValues(pairs []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --set %q, want key=value", pair)
		}
		out[k] = scalar(v)
	}
	return out, nil
}

func scalar(v string) interface{} {
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}
