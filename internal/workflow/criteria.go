package workflow

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/YoshitsuguKoike/deepipe/internal/domain/execution"
	"github.com/YoshitsuguKoike/deepipe/internal/validator/artifact"
)

// SuccessCriteria lists what a phase must produce to be approved
type SuccessCriteria struct {
	RequiredOutputs  []string         `yaml:"required_outputs" json:"required_outputs"`
	ValidationChecks []artifact.Check `yaml:"validation_checks" json:"validation_checks"`
}

// IsEmpty reports whether the criteria declare nothing
func (c SuccessCriteria) IsEmpty() bool {
	return len(c.RequiredOutputs) == 0 && len(c.ValidationChecks) == 0
}

// CriteriaRegistry is the read-only phase → SuccessCriteria table
type CriteriaRegistry struct {
	criteria map[int]SuccessCriteria
}

// EmptyRegistry returns a registry where every phase is vacuously approved
func EmptyRegistry() *CriteriaRegistry {
	return &CriteriaRegistry{criteria: map[int]SuccessCriteria{}}
}

// LoadCriteria reads the success criteria config at path. A missing file
// yields an empty registry.
func LoadCriteria(fs afero.Fs, path string) (*CriteriaRegistry, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return EmptyRegistry(), nil
		}
		return nil, fmt.Errorf("criteria: read: %w", err)
	}
	reg, err := ParseCriteria(data)
	if err != nil {
		return nil, fmt.Errorf("criteria: %s: %w", path, err)
	}
	return reg, nil
}

// ParseCriteria decodes a success criteria config (YAML or JSON):
//
//	{"<phase>": {"required_outputs": [path], "validation_checks": [{"type": str, ...}]}}
//
// Unknown check types and checks missing their parameters are rejected here,
// so a bad config fails at startup instead of at approval time.
func ParseCriteria(data []byte) (*CriteriaRegistry, error) {
	raw := map[string]SuccessCriteria{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, execution.WithKind(execution.ErrorKindConfiguration, fmt.Errorf("parse: %w", err))
	}

	reg := EmptyRegistry()
	for key, c := range raw {
		p, err := parsePhaseKey(key)
		if err != nil {
			return nil, err
		}
		for i, check := range c.ValidationChecks {
			if err := check.Validate(); err != nil {
				return nil, execution.Configurationf("phase %d: validation_checks[%d]: %v", p, i, err)
			}
		}
		for i, out := range c.RequiredOutputs {
			if out == "" {
				return nil, execution.Configurationf("phase %d: required_outputs[%d] is empty", p, i)
			}
		}
		reg.criteria[p] = c
	}
	return reg, nil
}

// Criteria returns the criteria of p; ok is false when none are declared
func (r *CriteriaRegistry) Criteria(p int) (SuccessCriteria, bool, error) {
	if err := execution.CheckPhase(p); err != nil {
		return SuccessCriteria{}, false, err
	}
	c, ok := r.criteria[p]
	if !ok || c.IsEmpty() {
		return SuccessCriteria{}, false, nil
	}
	return c, true, nil
}

// Phases returns the phases with declared criteria, sorted
func (r *CriteriaRegistry) Phases() []int {
	out := make([]int, 0, len(r.criteria))
	for p := range r.criteria {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}
