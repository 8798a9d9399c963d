package app

import (
	"os"
	"path/filepath"
)

// Paths holds all resolved paths of the .deepipe layout
type Paths struct {
	Home     string // .deepipe
	Etc      string // .deepipe/etc
	Var      string // .deepipe/var
	Handoffs string // .deepipe/var/handoffs

	// Key files
	Settings     string // .deepipe/setting.yaml
	Criteria     string // .deepipe/etc/success_criteria.yaml
	Dependencies string // .deepipe/etc/dependencies.yaml
	Phases       string // .deepipe/etc/phases.yaml
	State        string // .deepipe/var/state.json
	Journal      string // .deepipe/var/journal.ndjson
	Health       string // .deepipe/var/health.json
	RunLock      string // .deepipe/var/run.lock
}

// ResolvePaths returns all paths rooted at home.
// An empty home falls back to DEEPIPE_HOME, then ".deepipe".
func ResolvePaths(home string) Paths {
	if home == "" {
		home = os.Getenv("DEEPIPE_HOME")
	}
	if home == "" {
		home = ".deepipe"
	}

	p := Paths{
		Home: home,
		Etc:  filepath.Join(home, "etc"),
		Var:  filepath.Join(home, "var"),
	}

	p.Handoffs = filepath.Join(p.Var, "handoffs")

	p.Settings = filepath.Join(home, "setting.yaml")
	p.Criteria = filepath.Join(p.Etc, "success_criteria.yaml")
	p.Dependencies = filepath.Join(p.Etc, "dependencies.yaml")
	p.Phases = filepath.Join(p.Etc, "phases.yaml")
	p.State = filepath.Join(p.Var, "state.json")
	p.Journal = filepath.Join(p.Var, "journal.ndjson")
	p.Health = filepath.Join(p.Var, "health.json")
	p.RunLock = filepath.Join(p.Var, "run.lock")

	return p
}
