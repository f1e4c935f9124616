package contextengine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/TheBearguy/tf-gatekeeper/pkg/engine"
	"github.com/TheBearguy/tf-gatekeeper/pkg/plan"
)

// DriftSource produces a refresh-only snapshot of the managed infrastructure.
// Snapshot visits every resource change of the snapshot in order.
type DriftSource interface {
	Name() string
	Snapshot(ctx context.Context, fn plan.Visitor) error
}

// TerraformCLI is the subset of the terraform runner used for drift detection.
type TerraformCLI interface {
	RefreshOnlyPlan(ctx context.Context, out string) error
	ShowJSON(ctx context.Context, planFile string) ([]byte, error)
}

// TerraformSource runs a refresh-only plan through the terraform CLI.
type TerraformSource struct {
	cli            TerraformCLI
	refreshTimeout time.Duration
	showTimeout    time.Duration
}

// NewTerraformSource creates a drift source backed by the terraform CLI.
// Zero timeouts default to 5 minutes for the refresh and 60 seconds for show.
func NewTerraformSource(cli TerraformCLI, refreshTimeout, showTimeout time.Duration) *TerraformSource {
	if refreshTimeout <= 0 {
		refreshTimeout = 5 * time.Minute
	}
	if showTimeout <= 0 {
		showTimeout = 60 * time.Second
	}
	return &TerraformSource{cli: cli, refreshTimeout: refreshTimeout, showTimeout: showTimeout}
}

// Name implements DriftSource.
func (s *TerraformSource) Name() string { return "terraform" }

// Snapshot implements DriftSource.
func (s *TerraformSource) Snapshot(ctx context.Context, fn plan.Visitor) error {
	dir, err := os.MkdirTemp("", "tf-gate-drift-")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	out := filepath.Join(dir, "drift.tfplan")

	refreshCtx, cancel := context.WithTimeout(ctx, s.refreshTimeout)
	err = s.cli.RefreshOnlyPlan(refreshCtx, out)
	cancel()
	if err != nil {
		return fmt.Errorf("refresh-only plan failed: %w", err)
	}

	showCtx, cancel := context.WithTimeout(ctx, s.showTimeout)
	data, err := s.cli.ShowJSON(showCtx, out)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to render refresh-only plan: %w", err)
	}

	_, err = plan.Decode(ctx, bytes.NewReader(data), fn)
	return err
}

// SnapshotFileSource reads a previously exported refresh-only plan JSON file.
type SnapshotFileSource struct {
	path string
}

// NewSnapshotFileSource creates a drift source reading path.
func NewSnapshotFileSource(path string) *SnapshotFileSource {
	return &SnapshotFileSource{path: path}
}

// Name implements DriftSource.
func (s *SnapshotFileSource) Name() string { return "snapshot" }

// Snapshot implements DriftSource.
func (s *SnapshotFileSource) Snapshot(ctx context.Context, fn plan.Visitor) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open drift snapshot: %w", err)
	}
	defer f.Close()

	_, err = plan.Decode(ctx, f, fn)
	return err
}

// IsDrifted reports whether a refresh-only change shows a difference between
// recorded state and real infrastructure.
func IsDrifted(rc engine.ResourceChange) bool {
	if !rc.Actions.Has(engine.ActionUpdate) && !rc.Actions.Has(engine.ActionNoop) {
		return false
	}
	return !reflect.DeepEqual(rc.Before, rc.After)
}

// DetectDrift compares a snapshot from src against the relevant plan changes.
// A nil source yields a skipped result; a failing source yields a degraded
// result with no drift.
func DetectDrift(ctx context.Context, src DriftSource, changes []engine.ResourceChange) engine.DriftResult {
	result := engine.DriftResult{
		DriftedResources:  []engine.ResourceChange{},
		ConflictResources: []engine.ResourceChange{},
		Status:            engine.DriftSkipped,
	}
	if src == nil {
		return result
	}

	planned := make(map[string]struct{}, len(changes))
	for i := range changes {
		planned[changes[i].Address] = struct{}{}
	}

	var drifted, conflicts []engine.ResourceChange
	err := src.Snapshot(ctx, func(rc engine.ResourceChange) error {
		if !IsDrifted(rc) {
			return nil
		}
		drifted = append(drifted, rc)
		if _, ok := planned[rc.Address]; ok {
			conflicts = append(conflicts, rc)
		}
		return nil
	})
	if err != nil {
		result.Status = engine.DriftDegraded
		result.Detail = fmt.Sprintf("%s drift source: %v", src.Name(), err)
		return result
	}

	result.Status = engine.DriftChecked
	if len(drifted) > 0 {
		result.HasDrift = true
		result.DriftedResources = drifted
	}
	if len(conflicts) > 0 {
		result.ConflictResources = conflicts
	}
	return result
}
