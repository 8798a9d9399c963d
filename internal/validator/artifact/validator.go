package artifact

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/tidwall/gjson"
)

// Result is the outcome of one check. Message is deterministic for a given
// check and file content.
type Result struct {
	Check   Check
	Passed  bool
	Message string
}

// Validator runs checks against files on fs. Relative paths are resolved
// against baseDir.
type Validator struct {
	fs      afero.Fs
	baseDir string
}

// NewValidator creates a new Validator instance
func NewValidator(fs afero.Fs, baseDir string) *Validator {
	return &Validator{fs: fs, baseDir: baseDir}
}

// Resolve maps an artifact path to its location on the filesystem
func (v *Validator) Resolve(path string) string {
	if v.baseDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(v.baseDir, path)
}

// Exists reports whether path exists
func (v *Validator) Exists(path string) bool {
	ok, err := afero.Exists(v.fs, v.Resolve(path))
	return err == nil && ok
}

// Run executes a single check. It never panics on bad input: malformed
// parameters produce a failed Result.
func (v *Validator) Run(c Check) Result {
	if err := c.Validate(); err != nil {
		return fail(c, err.Error())
	}
	path := c.stringParam("path")

	switch c.Type {
	case TypeFileExists:
		if !v.Exists(path) {
			return fail(c, fmt.Sprintf("file_exists: %s not found", path))
		}
		return pass(c, fmt.Sprintf("file_exists: %s", path))

	case TypeFileNotEmpty:
		info, err := v.fs.Stat(v.Resolve(path))
		if err != nil {
			return fail(c, fmt.Sprintf("file_not_empty: %s not found", path))
		}
		if info.IsDir() {
			return fail(c, fmt.Sprintf("file_not_empty: %s is a directory", path))
		}
		if info.Size() == 0 {
			return fail(c, fmt.Sprintf("file_not_empty: %s is empty", path))
		}
		return pass(c, fmt.Sprintf("file_not_empty: %s (%d bytes)", path, info.Size()))

	case TypeJSONValid:
		if _, msg := v.readJSON(c.Type, path); msg != "" {
			return fail(c, msg)
		}
		return pass(c, fmt.Sprintf("json_valid: %s", path))

	case TypeJSONSchemaValid:
		return v.runSchema(c, path)

	case TypeMetricExists:
		data, msg := v.readJSON(c.Type, path)
		if msg != "" {
			return fail(c, msg)
		}
		metric := c.stringParam("metric")
		if !gjson.GetBytes(data, metric).Exists() {
			return fail(c, fmt.Sprintf("metric_exists: %s not found in %s", metric, path))
		}
		return pass(c, fmt.Sprintf("metric_exists: %s in %s", metric, path))

	case TypeMetricThreshold:
		return v.runThreshold(c, path)
	}
	return fail(c, fmt.Sprintf("unknown check type %q", c.Type))
}

// RunAll executes every check; one failure never skips the rest
func (v *Validator) RunAll(checks []Check) []Result {
	results := make([]Result, 0, len(checks))
	for _, c := range checks {
		results = append(results, v.Run(c))
	}
	return results
}

func (v *Validator) readJSON(checkType, path string) ([]byte, string) {
	data, err := afero.ReadFile(v.fs, v.Resolve(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Sprintf("%s: %s not found", checkType, path)
		}
		return nil, fmt.Sprintf("%s: %s unreadable: %v", checkType, path, err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Sprintf("%s: %s is not valid JSON", checkType, path)
	}
	return data, ""
}

func (v *Validator) runThreshold(c Check, path string) Result {
	data, msg := v.readJSON(c.Type, path)
	if msg != "" {
		return fail(c, msg)
	}
	metric := c.stringParam("metric")
	value := gjson.GetBytes(data, metric)
	if !value.Exists() {
		return fail(c, fmt.Sprintf("metric_threshold: %s not found in %s", metric, path))
	}
	if value.Type != gjson.Number {
		return fail(c, fmt.Sprintf("metric_threshold: %s in %s is not a number (%s)", metric, path, value.Raw))
	}
	actual := value.Float()

	var violations []string
	if min, ok, _ := c.numberParam("min"); ok && actual < min {
		violations = append(violations, "below minimum "+formatNumber(min))
	}
	if max, ok, _ := c.numberParam("max"); ok && actual > max {
		violations = append(violations, "above maximum "+formatNumber(max))
	}
	if exact, ok, _ := c.numberParam("exact"); ok && actual != exact {
		violations = append(violations, "expected exactly "+formatNumber(exact))
	}
	if len(violations) > 0 {
		return fail(c, fmt.Sprintf("metric_threshold: %s = %s in %s, %s",
			metric, formatNumber(actual), path, strings.Join(violations, ", ")))
	}
	return pass(c, fmt.Sprintf("metric_threshold: %s = %s in %s", metric, formatNumber(actual), path))
}

func (v *Validator) runSchema(c Check, path string) Result {
	schema, err := v.loadSchema(c)
	if err != nil {
		return fail(c, fmt.Sprintf("json_schema_valid: %v", err))
	}
	data, msg := v.readJSON(c.Type, path)
	if msg != "" {
		return fail(c, msg)
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return fail(c, fmt.Sprintf("json_schema_valid: %s is not a JSON object", path))
	}

	var problems []string
	for _, key := range schema.required {
		if !doc.Get(escapeKey(key)).Exists() {
			problems = append(problems, fmt.Sprintf("missing key %q", key))
		}
	}
	for _, key := range schema.typedKeys() {
		want := schema.types[key]
		field := doc.Get(escapeKey(key))
		if !field.Exists() {
			continue
		}
		if got := jsonType(field); !typeMatches(want, field, got) {
			problems = append(problems, fmt.Sprintf("key %q is %s, want %s", key, got, want))
		}
	}
	if len(problems) > 0 {
		return fail(c, fmt.Sprintf("json_schema_valid: %s: %s", path, strings.Join(problems, "; ")))
	}
	return pass(c, fmt.Sprintf("json_schema_valid: %s", path))
}

// shallowSchema holds the subset of JSON Schema that is evaluated: top-level
// "required" and "properties.<key>.type".
type shallowSchema struct {
	required []string
	types    map[string]string
}

func (s shallowSchema) typedKeys() []string {
	keys := make([]string, 0, len(s.types))
	for k := range s.types {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (v *Validator) loadSchema(c Check) (shallowSchema, error) {
	raw, ok := c.Params["schema"].(map[string]interface{})
	if !ok {
		file := c.stringParam("schema_file")
		data, err := afero.ReadFile(v.fs, v.Resolve(file))
		if err != nil {
			return shallowSchema{}, fmt.Errorf("schema %s unreadable: %w", file, err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return shallowSchema{}, fmt.Errorf("schema %s is not a JSON object: %w", file, err)
		}
	}

	s := shallowSchema{types: map[string]string{}}
	if req, ok := raw["required"].([]interface{}); ok {
		for _, k := range req {
			if key, ok := k.(string); ok {
				s.required = append(s.required, key)
			}
		}
	}
	if props, ok := raw["properties"].(map[string]interface{}); ok {
		for key, p := range props {
			prop, ok := p.(map[string]interface{})
			if !ok {
				continue
			}
			t, ok := prop["type"].(string)
			if !ok {
				continue
			}
			if !isSchemaType(t) {
				return shallowSchema{}, fmt.Errorf("property %q has unsupported type %q", key, t)
			}
			s.types[key] = t
		}
	}
	return s, nil
}

func isSchemaType(t string) bool {
	switch t {
	case "string", "number", "integer", "boolean", "array", "object", "null":
		return true
	}
	return false
}

func jsonType(r gjson.Result) string {
	switch r.Type {
	case gjson.String:
		return "string"
	case gjson.Number:
		return "number"
	case gjson.True, gjson.False:
		return "boolean"
	case gjson.Null:
		return "null"
	}
	if r.IsArray() {
		return "array"
	}
	return "object"
}

func typeMatches(want string, r gjson.Result, got string) bool {
	if want == "integer" {
		return got == "number" && r.Float() == math.Trunc(r.Float())
	}
	return want == got
}

// escapeKey makes a literal top-level key safe for a gjson path
func escapeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func pass(c Check, msg string) Result {
	return Result{Check: c, Passed: true, Message: msg}
}

func fail(c Check, msg string) Result {
	return Result{Check: c, Passed: false, Message: msg}
}
