// Package artifact implements the generic checks used to approve a phase from
// the files it produced.
package artifact

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Check types
const (
	TypeFileExists      = "file_exists"
	TypeJSONValid       = "json_valid"
	TypeJSONSchemaValid = "json_schema_valid"
	TypeFileNotEmpty    = "file_not_empty"
	TypeMetricThreshold = "metric_threshold"
	TypeMetricExists    = "metric_exists"
)

var knownTypes = map[string]struct{}{
	TypeFileExists:      {},
	TypeJSONValid:       {},
	TypeJSONSchemaValid: {},
	TypeFileNotEmpty:    {},
	TypeMetricThreshold: {},
	TypeMetricExists:    {},
}

// IsKnownType reports whether t names a supported check
func IsKnownType(t string) bool {
	_, ok := knownTypes[t]
	return ok
}

// KnownTypes returns the supported check types, sorted
func KnownTypes() []string {
	out := make([]string, 0, len(knownTypes))
	for t := range knownTypes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Check is one validation_checks entry: a type plus its inline parameters
//
//	- type: metric_threshold
//	  path: reports/quality.json
//	  metric: summary.score
//	  min: 10
type Check struct {
	Type   string
	Params map[string]interface{}
}

// UnmarshalYAML splits the inline mapping into Type and Params
func (c *Check) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]interface{}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	t, ok := raw["type"].(string)
	if !ok || t == "" {
		return fmt.Errorf("line %d: validation check requires a string \"type\"", node.Line)
	}
	delete(raw, "type")
	c.Type = t
	c.Params = raw
	return nil
}

// MarshalYAML writes the check back in its inline form
func (c Check) MarshalYAML() (interface{}, error) {
	out := make(map[string]interface{}, len(c.Params)+1)
	for k, v := range c.Params {
		out[k] = v
	}
	out["type"] = c.Type
	return out, nil
}

// String returns a stable label such as "file_exists(out/a.json)"
func (c Check) String() string {
	target := c.stringParam("path")
	if metric := c.stringParam("metric"); metric != "" {
		target += "#" + metric
	}
	if target == "" {
		return c.Type
	}
	return fmt.Sprintf("%s(%s)", c.Type, target)
}

func (c Check) stringParam(key string) string {
	if c.Params == nil {
		return ""
	}
	s, _ := c.Params[key].(string)
	return s
}

// numberParam returns the numeric parameter key, if present
func (c Check) numberParam(key string) (float64, bool, error) {
	if c.Params == nil {
		return 0, false, nil
	}
	v, ok := c.Params[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int:
		return float64(n), true, nil
	case int64:
		return float64(n), true, nil
	case uint64:
		return float64(n), true, nil
	case float64:
		return n, true, nil
	case float32:
		return float64(n), true, nil
	default:
		return 0, false, fmt.Errorf("%q must be a number, got %T", key, v)
	}
}

// Validate checks the parameters a check type needs, without touching files
func (c Check) Validate() error {
	if !IsKnownType(c.Type) {
		return fmt.Errorf("unknown check type %q (known: %v)", c.Type, KnownTypes())
	}
	if c.stringParam("path") == "" {
		return fmt.Errorf("%s: \"path\" is required", c.Type)
	}
	switch c.Type {
	case TypeMetricExists:
		if c.stringParam("metric") == "" {
			return fmt.Errorf("%s: \"metric\" is required", c.Type)
		}
	case TypeMetricThreshold:
		if c.stringParam("metric") == "" {
			return fmt.Errorf("%s: \"metric\" is required", c.Type)
		}
		bounds := 0
		for _, key := range []string{"min", "max", "exact"} {
			_, ok, err := c.numberParam(key)
			if err != nil {
				return fmt.Errorf("%s: %w", c.Type, err)
			}
			if ok {
				bounds++
			}
		}
		if bounds == 0 {
			return fmt.Errorf("%s: one of \"min\", \"max\" or \"exact\" is required", c.Type)
		}
	case TypeJSONSchemaValid:
		if _, ok := c.Params["schema"].(map[string]interface{}); !ok && c.stringParam("schema_file") == "" {
			return fmt.Errorf("%s: \"schema\" or \"schema_file\" is required", c.Type)
		}
	}
	return nil
}
