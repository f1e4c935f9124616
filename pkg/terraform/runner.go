// Package terraform wraps the terraform CLI as a subprocess.
package terraform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBinary is the executable looked up on PATH.
const DefaultBinary = "terraform"

// waitDelay bounds how long output pipes are drained after a cancelled command is killed.
const waitDelay = 2 * time.Second

// Options configures a Runner.
type Options struct {
	// Binary is the terraform executable. Defaults to DefaultBinary.
	Binary string

	// WorkDir is the root module directory commands run in.
	WorkDir string

	// Env holds extra environment variables added to the inherited environment.
	Env map[string]string

	// Output receives a live copy of stdout, e.g. for apply. May be nil.
	Output io.Writer
}

// Result is the outcome of a terraform invocation.
type Result struct {
	Args     []string      `json:"args"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// ExitError is returned when terraform exits with a non-zero status.
type ExitError struct {
	Result *Result
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Result.Stderr)
	if len(msg) > 512 {
		msg = msg[:512] + "..."
	}
	return fmt.Sprintf("terraform %s exited with code %d: %s",
		strings.Join(e.Result.Args, " "), e.Result.ExitCode, msg)
}

// Runner executes terraform commands.
type Runner struct {
	logger zerolog.Logger
	opts   Options
}

// NewRunner creates a new terraform runner.
func NewRunner(logger zerolog.Logger, opts Options) *Runner {
	if opts.Binary == "" {
		opts.Binary = DefaultBinary
	}
	return &Runner{
		logger: logger.With().Str("component", "terraform").Logger(),
		opts:   opts,
	}
}

// Binary returns the configured executable.
func (r *Runner) Binary() string {
	return r.opts.Binary
}

// Run executes terraform with args. A non-zero exit returns the result
// together with an *ExitError.
func (r *Runner) Run(ctx context.Context, args ...string) (*Result, error) {
	cmd := exec.CommandContext(ctx, r.opts.Binary, args...)
	if r.opts.WorkDir != "" {
		cmd.Dir = r.opts.WorkDir
	}

	env := append(os.Environ(), "TF_IN_AUTOMATION=1")
	keys := make([]string, 0, len(r.opts.Env))
	for k := range r.opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, r.opts.Env[k]))
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	if r.opts.Output != nil {
		cmd.Stdout = io.MultiWriter(&stdout, r.opts.Output)
	}
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	r.logger.Debug().
		Str("binary", r.opts.Binary).
		Strs("args", args).
		Str("dir", cmd.Dir).
		Msg("Running terraform")

	start := time.Now()
	err := cmd.Run()

	result := &Result{
		Args:     args,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("terraform %s: %w", strings.Join(args, " "), ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, &ExitError{Result: result}
		}
		return nil, fmt.Errorf("failed to execute %s: %w", r.opts.Binary, err)
	}

	return result, nil
}

// Version returns the terraform version reported by `terraform version -json`.
func (r *Runner) Version(ctx context.Context) (string, error) {
	result, err := r.Run(ctx, "version", "-json")
	if err != nil {
		return "", err
	}

	var out struct {
		TerraformVersion string `json:"terraform_version"`
	}
	if err := json.Unmarshal([]byte(result.Stdout), &out); err != nil {
		return "", fmt.Errorf("failed to parse terraform version output: %w", err)
	}
	return out.TerraformVersion, nil
}

// Plan writes a binary plan to out.
func (r *Runner) Plan(ctx context.Context, out string, extra ...string) (*Result, error) {
	args := append([]string{"plan", "-input=false", "-no-color", "-out=" + out}, extra...)
	return r.Run(ctx, args...)
}

// RefreshOnlyPlan writes a refresh-only plan to out. Its resource changes
// describe drift between state and real infrastructure.
func (r *Runner) RefreshOnlyPlan(ctx context.Context, out string) error {
	_, err := r.Run(ctx, "plan", "-refresh-only", "-input=false", "-no-color", "-out="+out)
	return err
}

// ShowJSON renders a binary plan as JSON.
func (r *Runner) ShowJSON(ctx context.Context, planFile string) ([]byte, error) {
	result, err := r.Run(ctx, "show", "-json", "-no-color", planFile)
	if err != nil {
		return nil, err
	}
	return []byte(result.Stdout), nil
}

// ExportPlanJSON renders planFile as JSON into dest.
func (r *Runner) ExportPlanJSON(ctx context.Context, planFile, dest string) error {
	data, err := r.ShowJSON(ctx, planFile)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dest, err)
	}
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return fmt.Errorf("failed to write plan JSON: %w", err)
	}
	return nil
}

// Apply applies a saved binary plan.
func (r *Runner) Apply(ctx context.Context, planFile string) (*Result, error) {
	return r.Run(ctx, "apply", "-input=false", "-no-color", planFile)
}
