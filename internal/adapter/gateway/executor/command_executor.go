// Package executor provides the PhaseExecutor variants configured in
// phases.yaml: an external command per phase, or a no-op for phases without one.
package executor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/YoshitsuguKoike/deepipe/internal/domain/execution"
)

// OutputMarker prefixes stdout lines that report an extra artifact path
const OutputMarker = "DEEPIPE_OUTPUT="

// sysexits(3) codes with a fixed classification
const (
	exitDataErr     = 65 // EX_DATAERR
	exitNoInput     = 66 // EX_NOINPUT
	exitUnavailable = 69 // EX_UNAVAILABLE
	exitTempFail    = 75 // EX_TEMPFAIL
	exitNoPerm      = 77 // EX_NOPERM
	exitConfig      = 78 // EX_CONFIG
)

// maxOutputTail bounds how much command output ends up in error messages
const maxOutputTail = 2048

// waitDelay bounds how long a cancelled command may keep its pipes open
const waitDelay = 10 * time.Second

// CommandExecutor runs one phase as an external command. The command learns
// its phase and execution through DEEPIPE_PHASE and DEEPIPE_EXECUTION_ID, and
// the incoming handoff package through DEEPIPE_HANDOFF when one was written.
type CommandExecutor struct {
	phase       int
	executionID string
	handoffPath string
	spec        PhaseSpec
	logger      *zap.Logger
}

// NewCommandExecutor creates a new CommandExecutor instance
func NewCommandExecutor(phase int, executionID string, spec PhaseSpec, logger *zap.Logger) *CommandExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandExecutor{phase: phase, executionID: executionID, spec: spec, logger: logger}
}

// WithHandoff sets the handoff package path exported when the file exists
func (e *CommandExecutor) WithHandoff(path string) *CommandExecutor {
	e.handoffPath = path
	return e
}

// Timeout returns the per-phase limit from phases.yaml (0 means runner default)
func (e *CommandExecutor) Timeout() time.Duration {
	return time.Duration(e.spec.TimeoutSec) * time.Second
}

// Execute runs the command and returns the declared outputs followed by any
// paths the command printed as DEEPIPE_OUTPUT=<path>.
func (e *CommandExecutor) Execute(ctx context.Context) ([]string, error) {
	if len(e.spec.Command) == 0 {
		return nil, execution.Configurationf("phase %d: empty command", e.phase)
	}

	cmd := exec.CommandContext(ctx, e.spec.Command[0], e.spec.Command[1:]...)
	cmd.Dir = e.spec.Dir
	cmd.Env = append(os.Environ(), e.environment()...)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("running phase command",
		zap.Int("phase", e.phase),
		zap.Strings("command", e.spec.Command),
		zap.String("dir", e.spec.Dir))

	err := cmd.Run()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("phase %d command %s: %w", e.phase, e.spec.Command[0], ctxErr)
		}
		return nil, e.classifyFailure(err, stderr.String()+stdout.String())
	}

	outputs := append([]string{}, e.spec.Outputs...)
	outputs = append(outputs, reportedOutputs(stdout.Bytes())...)
	return outputs, nil
}

func (e *CommandExecutor) environment() []string {
	env := []string{
		fmt.Sprintf("DEEPIPE_PHASE=%d", e.phase),
		"DEEPIPE_EXECUTION_ID=" + e.executionID,
	}
	if e.handoffPath != "" {
		if _, err := os.Stat(e.handoffPath); err == nil {
			env = append(env, "DEEPIPE_HANDOFF="+e.handoffPath)
		}
	}
	keys := make([]string, 0, len(e.spec.Env))
	for k := range e.spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+e.spec.Env[k])
	}
	return env
}

// classifyFailure attaches an ErrorKind when the exit status says why the
// command failed; other failures keep the output for keyword classification.
func (e *CommandExecutor) classifyFailure(err error, output string) error {
	tail := strings.TrimSpace(output)
	if len(tail) > maxOutputTail {
		tail = "..." + tail[len(tail)-maxOutputTail:]
	}
	wrapped := fmt.Errorf("phase %d command %s: %w (output: %s)", e.phase, e.spec.Command[0], err, tail)

	if errors.Is(err, exec.ErrNotFound) {
		return execution.WithKind(execution.ErrorKindConfiguration, wrapped)
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return wrapped
	}
	switch exitErr.ExitCode() {
	case exitTempFail, exitUnavailable:
		return execution.WithKind(execution.ErrorKindTransient, wrapped)
	case exitConfig:
		return execution.WithKind(execution.ErrorKindConfiguration, wrapped)
	case exitDataErr, exitNoInput, exitNoPerm:
		return execution.WithKind(execution.ErrorKindPermanent, wrapped)
	}
	return wrapped
}

func reportedOutputs(stdout []byte) []string {
	var out []string
	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if path, ok := strings.CutPrefix(line, OutputMarker); ok && path != "" {
			out = append(out, path)
		}
	}
	return out
}

// NoopExecutor is used for phases without a command. It produces no outputs.
type NoopExecutor struct{}

// Execute returns immediately unless ctx is already done
func (NoopExecutor) Execute(ctx context.Context) ([]string, error) {
	return nil, ctx.Err()
}
