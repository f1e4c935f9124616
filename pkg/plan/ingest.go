// Package plan reads Terraform plan JSON artifacts.
//
// The ingestor walks the document with a token-level decoder: only the
// resource_changes array and the top-level metadata fields are decoded,
// every other section (planned_values, prior_state, configuration) is skipped
// token by token without being buffered. Resource changes are handed to a
// visitor one at a time, so arbitrarily large plans can be classified in
// constant memory.
package plan

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/TheBearguy/tf-gatekeeper/pkg/engine"
	"github.com/rs/zerolog"
)

// Options configures classification during ingestion.
type Options struct {
	// Thresholds are the blast radius thresholds.
	Thresholds engine.Thresholds

	// CriticalTypes overrides engine.DefaultCriticalTypes when non-nil.
	CriticalTypes []string
}

// DefaultOptions returns the standard ingestion options.
func DefaultOptions() Options {
	return Options{Thresholds: engine.DefaultThresholds()}
}

// Result is the output of Phase 1.
type Result struct {
	// Changes are the relevant resource changes in plan order.
	Changes []engine.ResourceChange `json:"changes"`

	// BlastRadius is the classification of Changes.
	BlastRadius engine.BlastRadius `json:"blast_radius"`

	// Metadata is the plan-level metadata.
	Metadata engine.PlanMetadata `json:"metadata"`

	// Ignored counts no-op and read changes that were dropped.
	Ignored int `json:"ignored"`
}

// Visitor receives resource changes in plan order.
type Visitor func(engine.ResourceChange) error

// Ingestor reads plan artifacts from disk.
type Ingestor struct {
	logger zerolog.Logger
	opts   Options
}

// NewIngestor creates a new plan ingestor.
func NewIngestor(logger zerolog.Logger, opts Options) *Ingestor {
	return &Ingestor{
		logger: logger.With().Str("component", "plan-ingestor").Logger(),
		opts:   opts,
	}
}

// Ingest reads the plan at path, keeping only relevant changes, and classifies them.
func (i *Ingestor) Ingest(ctx context.Context, path string) (*Result, error) {
	startTime := time.Now()
	classifier := engine.NewClassifier(i.opts.Thresholds, i.opts.CriticalTypes)
	result := &Result{Changes: []engine.ResourceChange{}}

	meta, err := i.Stream(ctx, path, func(rc engine.ResourceChange) error {
		if !IsRelevant(rc) {
			result.Ignored++
			return nil
		}
		classifier.Add(rc)
		result.Changes = append(result.Changes, rc)
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Metadata = meta
	result.BlastRadius = classifier.Result()

	i.logger.Debug().
		Str("path", path).
		Int("changes", len(result.Changes)).
		Int("ignored", result.Ignored).
		Str("level", string(result.BlastRadius.Level)).
		Dur("duration", time.Since(startTime)).
		Msg("Plan ingested")

	if meta.Errored {
		i.logger.Warn().Str("path", path).Msg("Plan reports errored=true")
	}

	return result, nil
}

// Classify computes the blast radius of the plan at path without retaining its changes.
func (i *Ingestor) Classify(ctx context.Context, path string) (engine.BlastRadius, engine.PlanMetadata, error) {
	classifier := engine.NewClassifier(i.opts.Thresholds, i.opts.CriticalTypes)
	meta, err := i.Stream(ctx, path, func(rc engine.ResourceChange) error {
		classifier.Add(rc)
		return nil
	})
	if err != nil {
		return engine.BlastRadius{}, engine.PlanMetadata{}, err
	}
	return classifier.Result(), meta, nil
}

// Stream visits every resource change of the plan at path, including ignored ones.
func (i *Ingestor) Stream(ctx context.Context, path string, fn Visitor) (engine.PlanMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return engine.PlanMetadata{}, engine.NewIngestNotFoundError(path, err)
		}
		return engine.PlanMetadata{}, engine.NewIngestNotFoundError(path, err).
			WithDetail("reason", "unreadable")
	}
	defer f.Close()

	meta, err := Decode(ctx, f, fn)
	if err != nil {
		var gerr *engine.GateError
		if errors.As(err, &gerr) && gerr.Path == "" {
			gerr.Path = path
		}
		return engine.PlanMetadata{}, err
	}
	return meta, nil
}

// IsRelevant reports whether a change is carried forward to the later phases.
// Changes whose action set is exactly {no-op} or {read} are dropped.
func IsRelevant(rc engine.ResourceChange) bool {
	return engine.KindOf(rc.Actions) != engine.KindIgnored
}

// rawResourceChange mirrors one element of resource_changes.
type rawResourceChange struct {
	Address       string `json:"address"`
	ModuleAddress string `json:"module_address"`
	Mode          string `json:"mode"`
	Type          string `json:"type"`
	Name          string `json:"name"`
	ProviderName  string `json:"provider_name"`
	Change        struct {
		Actions []string `json:"actions"`
		Before  any      `json:"before"`
		After   any      `json:"after"`
	} `json:"change"`
}

func (r *rawResourceChange) toResourceChange() engine.ResourceChange {
	return engine.ResourceChange{
		Address:      r.Address,
		Type:         r.Type,
		Name:         r.Name,
		Mode:         r.Mode,
		ProviderName: r.ProviderName,
		Actions:      engine.NewActionSet(r.Change.Actions...),
		Before:       r.Change.Before,
		After:        r.Change.After,
	}
}

// Decode streams a plan document from r. Numbers are kept as json.Number.
func Decode(ctx context.Context, r io.Reader, fn Visitor) (engine.PlanMetadata, error) {
	var meta engine.PlanMetadata

	dec := json.NewDecoder(bufio.NewReader(r))
	dec.UseNumber()

	if err := expectDelim(dec, '{'); err != nil {
		return meta, engine.NewIngestMalformedError("plan must be a JSON object", err)
	}

	for dec.More() {
		if err := ctx.Err(); err != nil {
			return meta, err
		}

		tok, err := dec.Token()
		if err != nil {
			return meta, engine.NewIngestMalformedError("invalid plan JSON", err)
		}
		key, _ := tok.(string)

		switch key {
		case "resource_changes":
			if err := decodeChanges(ctx, dec, fn); err != nil {
				return meta, err
			}
		case "terraform_version":
			err = decodeField(dec, key, &meta.TerraformVersion)
		case "format_version":
			err = decodeField(dec, key, &meta.FormatVersion)
		case "timestamp":
			err = decodeField(dec, key, &meta.Timestamp)
		case "errored":
			err = decodeField(dec, key, &meta.Errored)
		default:
			err = skipValue(dec)
			if err != nil {
				err = engine.NewIngestMalformedError("invalid plan JSON", err)
			}
		}
		if err != nil {
			return meta, err
		}
	}

	if err := expectDelim(dec, '}'); err != nil {
		return meta, engine.NewIngestMalformedError("invalid plan JSON", err)
	}

	return meta, nil
}

func decodeChanges(ctx context.Context, dec *json.Decoder, fn Visitor) error {
	tok, err := dec.Token()
	if err != nil {
		return engine.NewIngestMalformedError("invalid resource_changes", err)
	}
	if tok == nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return engine.NewIngestMalformedError("resource_changes must be an array", nil)
	}

	index := 0
	for dec.More() {
		if err := ctx.Err(); err != nil {
			return err
		}

		var raw rawResourceChange
		if err := dec.Decode(&raw); err != nil {
			return engine.NewIngestMalformedError(fmt.Sprintf("invalid resource_changes[%d]", index), err)
		}
		if err := fn(raw.toResourceChange()); err != nil {
			return err
		}
		index++
	}

	if err := expectDelim(dec, ']'); err != nil {
		return engine.NewIngestMalformedError("invalid resource_changes", err)
	}
	return nil
}

func decodeField(dec *json.Decoder, key string, v any) error {
	if err := dec.Decode(v); err != nil {
		return engine.NewIngestMalformedError(fmt.Sprintf("invalid %s", key), err)
	}
	return nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

// skipValue consumes one JSON value without buffering it.
func skipValue(dec *json.Decoder) error {
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
		if depth == 0 {
			return nil
		}
	}
}
