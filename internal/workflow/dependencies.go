// Package workflow holds the static pipeline configuration (which phase needs
// which, and what each phase must produce) and the pure queries over it.
package workflow

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/YoshitsuguKoike/deepipe/internal/domain/execution"
)

// Graph is the static phase → prerequisite phases table
type Graph struct {
	deps map[int][]int
}

// dependencyEntry is one "<phase>" entry of the dependency config
type dependencyEntry struct {
	Dependencies []int `yaml:"dependencies"`
}

// LinearGraph returns the default chain: every phase depends on the previous one
func LinearGraph() *Graph {
	g := &Graph{deps: make(map[int][]int, execution.PhaseCount)}
	for p := execution.FirstPhase; p <= execution.LastPhase; p++ {
		g.deps[p] = linearDefault(p)
	}
	return g
}

func linearDefault(p int) []int {
	if p == execution.FirstPhase {
		return []int{}
	}
	return []int{p - 1}
}

// LoadGraph reads the dependency config at path. A missing file yields the
// linear default.
func LoadGraph(fs afero.Fs, path string) (*Graph, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return LinearGraph(), nil
		}
		return nil, fmt.Errorf("dependencies: read: %w", err)
	}
	g, err := ParseGraph(data)
	if err != nil {
		return nil, fmt.Errorf("dependencies: %s: %w", path, err)
	}
	return g, nil
}

// ParseGraph decodes a dependency config (YAML or JSON):
//
//	{"<phase>": {"dependencies": [int, ...]}}
//
// Phases absent from the config keep the linear default; an explicit empty
// list means the phase has no prerequisites.
func ParseGraph(data []byte) (*Graph, error) {
	raw := map[string]dependencyEntry{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, execution.WithKind(execution.ErrorKindConfiguration, fmt.Errorf("parse: %w", err))
	}

	g := LinearGraph()
	for key, entry := range raw {
		p, err := parsePhaseKey(key)
		if err != nil {
			return nil, err
		}
		deps := append([]int{}, entry.Dependencies...)
		sort.Ints(deps)
		g.deps[p] = dedupe(deps)
	}
	if err := g.validate(); err != nil {
		return nil, execution.WithKind(execution.ErrorKindConfiguration, err)
	}
	return g, nil
}

func parsePhaseKey(key string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(key))
	if err != nil {
		return 0, execution.Configurationf("phase key %q is not a number", key)
	}
	if err := execution.CheckPhase(p); err != nil {
		return 0, execution.WithKind(execution.ErrorKindConfiguration, fmt.Errorf("phase key %q: %w", key, err))
	}
	return p, nil
}

func dedupe(sorted []int) []int {
	out := sorted[:0]
	for i, v := range sorted {
		if i > 0 && v == sorted[i-1] {
			continue
		}
		out = append(out, v)
	}
	return out
}

func (g *Graph) validate() error {
	for p := execution.FirstPhase; p <= execution.LastPhase; p++ {
		for _, d := range g.deps[p] {
			if execution.CheckPhase(d) != nil {
				return fmt.Errorf("phase %d: dependency %d out of range", p, d)
			}
			if d == p {
				return fmt.Errorf("phase %d depends on itself", p)
			}
		}
	}
	if cycle := g.findCycle(); cycle != nil {
		parts := make([]string, len(cycle))
		for i, p := range cycle {
			parts[i] = strconv.Itoa(p)
		}
		return fmt.Errorf("dependency cycle: %s", strings.Join(parts, " -> "))
	}
	return nil
}

// findCycle returns one cycle as a phase path, or nil
func (g *Graph) findCycle() []int {
	const (
		unvisited = iota
		visiting
		done
	)
	marks := make(map[int]int, execution.PhaseCount)
	var stack []int
	var cycle []int

	var visit func(p int) bool
	visit = func(p int) bool {
		marks[p] = visiting
		stack = append(stack, p)
		for _, d := range g.deps[p] {
			switch marks[d] {
			case visiting:
				for i, s := range stack {
					if s == d {
						cycle = append(append([]int{}, stack[i:]...), d)
						return true
					}
				}
			case unvisited:
				if visit(d) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		marks[p] = done
		return false
	}

	for p := execution.FirstPhase; p <= execution.LastPhase; p++ {
		if marks[p] == unvisited && visit(p) {
			return cycle
		}
	}
	return nil
}

// Dependencies returns the sorted prerequisites of p
func (g *Graph) Dependencies(p int) ([]int, error) {
	if err := execution.CheckPhase(p); err != nil {
		return nil, err
	}
	return append([]int{}, g.deps[p]...), nil
}

// Dependents returns the phases that list p as a prerequisite
func (g *Graph) Dependents(p int) []int {
	var out []int
	for q := execution.FirstPhase; q <= execution.LastPhase; q++ {
		for _, d := range g.deps[q] {
			if d == p {
				out = append(out, q)
				break
			}
		}
	}
	return out
}
