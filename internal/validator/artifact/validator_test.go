package artifact

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func newFixture(t *testing.T, files map[string]string) *Validator {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, "/work/"+name, []byte(content), 0o644))
	}
	return NewValidator(fs, "/work")
}

func check(typ string, params map[string]interface{}) Check {
	return Check{Type: typ, Params: params}
}

func TestFileChecks(t *testing.T) {
	v := newFixture(t, map[string]string{
		"plan.md":  "# plan",
		"empty.md": "",
	})

	tests := []struct {
		name    string
		check   Check
		passed  bool
		message string
	}{
		{"exists", check(TypeFileExists, map[string]interface{}{"path": "plan.md"}), true, "file_exists: plan.md"},
		{"missing", check(TypeFileExists, map[string]interface{}{"path": "nope.md"}), false, "file_exists: nope.md not found"},
		{"not empty", check(TypeFileNotEmpty, map[string]interface{}{"path": "plan.md"}), true, "file_not_empty: plan.md (6 bytes)"},
		{"empty", check(TypeFileNotEmpty, map[string]interface{}{"path": "empty.md"}), false, "file_not_empty: empty.md is empty"},
		{"no path", check(TypeFileExists, map[string]interface{}{}), false, `file_exists: "path" is required`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := v.Run(tt.check)
			assert.Equal(t, tt.passed, r.Passed)
			assert.Equal(t, tt.message, r.Message)
		})
	}
}

func TestJSONValid(t *testing.T) {
	v := newFixture(t, map[string]string{
		"ok.json":  `{"a": [1, 2]}`,
		"bad.json": `{"a": `,
	})

	assert.True(t, v.Run(check(TypeJSONValid, map[string]interface{}{"path": "ok.json"})).Passed)

	r := v.Run(check(TypeJSONValid, map[string]interface{}{"path": "bad.json"}))
	assert.False(t, r.Passed)
	assert.Equal(t, "json_valid: bad.json is not valid JSON", r.Message)
}

func TestMetricThresholdReportsActualAndBound(t *testing.T) {
	v := newFixture(t, map[string]string{"metrics.json": `{"score": 5}`})

	r := v.Run(check(TypeMetricThreshold, map[string]interface{}{
		"path":   "metrics.json",
		"metric": "score",
		"min":    10,
	}))
	assert.False(t, r.Passed)
	assert.Contains(t, r.Message, "5")
	assert.Contains(t, r.Message, "minimum 10")
	assert.Equal(t, "metric_threshold: score = 5 in metrics.json, below minimum 10", r.Message)
}

func TestMetricThresholdBounds(t *testing.T) {
	v := newFixture(t, map[string]string{
		"m.json": `{"quality": {"coverage": 82.5, "issues": 0}, "label": "x"}`,
	})

	tests := []struct {
		name   string
		params map[string]interface{}
		passed bool
	}{
		{"within min/max", map[string]interface{}{"metric": "quality.coverage", "min": 80, "max": 100.0}, true},
		{"above max", map[string]interface{}{"metric": "quality.coverage", "max": 80}, false},
		{"exact", map[string]interface{}{"metric": "quality.issues", "exact": 0}, true},
		{"exact mismatch", map[string]interface{}{"metric": "quality.issues", "exact": 1}, false},
		{"missing metric", map[string]interface{}{"metric": "quality.nope", "min": 1}, false},
		{"not a number", map[string]interface{}{"metric": "label", "min": 1}, false},
		{"no bounds", map[string]interface{}{"metric": "quality.issues"}, false},
		{"bad bound type", map[string]interface{}{"metric": "quality.issues", "min": "ten"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.params["path"] = "m.json"
			r := v.Run(check(TypeMetricThreshold, tt.params))
			assert.Equal(t, tt.passed, r.Passed, r.Message)
		})
	}
}

func TestMetricExists(t *testing.T) {
	v := newFixture(t, map[string]string{"m.json": `{"summary": {"total": 3}}`})

	assert.True(t, v.Run(check(TypeMetricExists, map[string]interface{}{"path": "m.json", "metric": "summary.total"})).Passed)

	r := v.Run(check(TypeMetricExists, map[string]interface{}{"path": "m.json", "metric": "summary.failed"}))
	assert.False(t, r.Passed)
	assert.Equal(t, "metric_exists: summary.failed not found in m.json", r.Message)
}

func TestJSONSchemaValid(t *testing.T) {
	v := newFixture(t, map[string]string{
		"report.json": `{"name": "api", "version": 2, "tags": ["a"], "ratio": 0.5}`,
		"schema.json": `{"required": ["name", "owner"], "properties": {"version": {"type": "integer"}}}`,
	})

	schema := map[string]interface{}{
		"required": []interface{}{"name", "version"},
		"properties": map[string]interface{}{
			"name":    map[string]interface{}{"type": "string"},
			"version": map[string]interface{}{"type": "integer"},
			"tags":    map[string]interface{}{"type": "array"},
		},
	}
	r := v.Run(check(TypeJSONSchemaValid, map[string]interface{}{"path": "report.json", "schema": schema}))
	assert.True(t, r.Passed, r.Message)

	wrongType := map[string]interface{}{
		"properties": map[string]interface{}{
			"ratio": map[string]interface{}{"type": "integer"},
			"name":  map[string]interface{}{"type": "object"},
		},
	}
	r = v.Run(check(TypeJSONSchemaValid, map[string]interface{}{"path": "report.json", "schema": wrongType}))
	assert.False(t, r.Passed)
	assert.Equal(t, `json_schema_valid: report.json: key "name" is string, want object; key "ratio" is number, want integer`, r.Message)

	r = v.Run(check(TypeJSONSchemaValid, map[string]interface{}{"path": "report.json", "schema_file": "schema.json"}))
	assert.False(t, r.Passed)
	assert.Contains(t, r.Message, `missing key "owner"`)
}

func TestRunAllDoesNotShortCircuit(t *testing.T) {
	v := newFixture(t, map[string]string{"a.json": `{}`})
	results := v.RunAll([]Check{
		check(TypeFileExists, map[string]interface{}{"path": "missing.json"}),
		check(TypeJSONValid, map[string]interface{}{"path": "a.json"}),
		check("no_such_check", map[string]interface{}{"path": "a.json"}),
	})
	require.Len(t, results, 3)
	assert.False(t, results[0].Passed)
	assert.True(t, results[1].Passed)
	assert.False(t, results[2].Passed)
}

func TestCheckYAMLInlineParams(t *testing.T) {
	src := `
- type: metric_threshold
  path: reports/q.json
  metric: summary.score
  min: 10
- type: file_exists
  path: out/a.md
`
	var checks []Check
	require.NoError(t, yaml.Unmarshal([]byte(src), &checks))
	require.Len(t, checks, 2)
	assert.Equal(t, TypeMetricThreshold, checks[0].Type)
	assert.Equal(t, "summary.score", checks[0].Params["metric"])
	assert.Equal(t, 10, checks[0].Params["min"])
	assert.NotContains(t, checks[0].Params, "type")
	assert.Equal(t, "metric_threshold(reports/q.json#summary.score)", checks[0].String())
	require.NoError(t, checks[1].Validate())

	var bad []Check
	assert.Error(t, yaml.Unmarshal([]byte("- path: x\n"), &bad))
}
