package executor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/YoshitsuguKoike/deepipe/internal/application/service"
	"github.com/YoshitsuguKoike/deepipe/internal/domain/execution"
)

// PhaseSpec is one "<phase>" entry of phases.yaml
type PhaseSpec struct {
	Name       string            `yaml:"name"`
	Command    []string          `yaml:"command"`
	Dir        string            `yaml:"dir"`
	Env        map[string]string `yaml:"env"`
	Outputs    []string          `yaml:"outputs"`
	TimeoutSec int               `yaml:"timeout_sec"`
}

// Set maps phases to their executors
type Set struct {
	specs       map[int]PhaseSpec
	executionID string
	workDir     string
	handoffPath func(int) string
	logger      *zap.Logger
}

// NewSet creates a set from already parsed specs
func NewSet(specs map[int]PhaseSpec, logger *zap.Logger) *Set {
	if specs == nil {
		specs = map[int]PhaseSpec{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Set{specs: specs, logger: logger}
}

// LoadSet reads phases.yaml. A missing file yields a set of no-op executors.
func LoadSet(fs afero.Fs, path string, logger *zap.Logger) (*Set, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewSet(nil, logger), nil
		}
		return nil, fmt.Errorf("phases: read: %w", err)
	}
	specs, err := ParsePhases(data)
	if err != nil {
		return nil, fmt.Errorf("phases: %s: %w", path, err)
	}
	return NewSet(specs, logger), nil
}

// ParsePhases decodes phases.yaml with strict field checking
func ParsePhases(data []byte) (map[int]PhaseSpec, error) {
	raw := map[string]PhaseSpec{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, execution.WithKind(execution.ErrorKindConfiguration, fmt.Errorf("parse: %w", err))
	}

	specs := make(map[int]PhaseSpec, len(raw))
	for key, spec := range raw {
		p, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			return nil, execution.Configurationf("phase key %q is not a number", key)
		}
		if err := execution.CheckPhase(p); err != nil {
			return nil, execution.WithKind(execution.ErrorKindConfiguration, fmt.Errorf("phase key %q: %w", key, err))
		}
		if spec.TimeoutSec < 0 {
			return nil, execution.Configurationf("phase %d: timeout_sec must not be negative", p)
		}
		if len(spec.Command) > 0 && strings.TrimSpace(spec.Command[0]) == "" {
			return nil, execution.Configurationf("phase %d: command[0] is empty", p)
		}
		specs[p] = spec
	}
	return specs, nil
}

// WithExecutionID sets the ID exported to commands
func (s *Set) WithExecutionID(id string) *Set {
	s.executionID = id
	return s
}

// WithWorkDir sets the directory commands run in when their spec has no dir.
// A relative spec dir is resolved against it.
func (s *Set) WithWorkDir(dir string) *Set {
	s.workDir = dir
	return s
}

// WithHandoffPaths sets how the handoff package of a target phase is located
func (s *Set) WithHandoffPaths(path func(to int) string) *Set {
	s.handoffPath = path
	return s
}

// Spec returns the configured spec of p
func (s *Set) Spec(p int) (PhaseSpec, bool) {
	spec, ok := s.specs[p]
	return spec, ok
}

// Name returns the display name of p
func (s *Set) Name(p int) string {
	if spec, ok := s.specs[p]; ok && spec.Name != "" {
		return spec.Name
	}
	return fmt.Sprintf("phase-%d", p)
}

// Executor implements service.ExecutorProvider
func (s *Set) Executor(p int) service.PhaseExecutor {
	spec, ok := s.specs[p]
	if !ok || len(spec.Command) == 0 {
		return NoopExecutor{}
	}
	switch {
	case spec.Dir == "":
		spec.Dir = s.workDir
	case !filepath.IsAbs(spec.Dir) && s.workDir != "":
		spec.Dir = filepath.Join(s.workDir, spec.Dir)
	}
	e := NewCommandExecutor(p, s.executionID, spec, s.logger.With(zap.Int("phase", p)))
	if s.handoffPath != nil {
		e.WithHandoff(s.handoffPath(p))
	}
	return e
}
