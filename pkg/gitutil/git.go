// Package gitutil reads commit metadata from the git CLI.
package gitutil

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrNotRepository is returned when the directory is not inside a git work tree.
var ErrNotRepository = errors.New("not a git repository")

// Commit describes the HEAD commit.
type Commit struct {
	Hash    string `json:"hash"`
	Short   string `json:"short"`
	Message string `json:"message"`
	Branch  string `json:"branch,omitempty"`
}

// Repo runs git commands in a directory.
type Repo struct {
	dir    string
	binary string
}

// Open returns a Repo for dir. It fails with ErrNotRepository when dir is
// not inside a work tree.
func Open(ctx context.Context, dir string) (*Repo, error) {
	r := &Repo{dir: dir, binary: "git"}
	out, err := r.git(ctx, "rev-parse", "--is-inside-work-tree")
	if err != nil || out != "true" {
		return nil, fmt.Errorf("%w: %s", ErrNotRepository, dir)
	}
	return r, nil
}

// HeadCommit returns the hash, subject and body of HEAD.
func (r *Repo) HeadCommit(ctx context.Context) (*Commit, error) {
	hash, err := r.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	msg, err := r.CommitMessage(ctx, "HEAD")
	if err != nil {
		return nil, err
	}

	short := hash
	if len(short) > 12 {
		short = short[:12]
	}

	// Detached HEAD has no branch.
	branch, _ := r.git(ctx, "symbolic-ref", "--short", "-q", "HEAD")

	return &Commit{Hash: hash, Short: short, Message: msg, Branch: branch}, nil
}

// CommitMessage returns the full message of rev.
func (r *Repo) CommitMessage(ctx context.Context, rev string) (string, error) {
	msg, err := r.git(ctx, "log", "-1", "--format=%B", rev)
	if err != nil {
		return "", fmt.Errorf("failed to read commit message for %s: %w", rev, err)
	}
	return msg, nil
}

func (r *Repo) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, r.binary, append([]string{"-C", r.dir}, args...)...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("git %s: %s", args[0], strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return strings.TrimSpace(string(out)), nil
}
