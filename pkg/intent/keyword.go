package intent

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/TheBearguy/tf-gatekeeper/pkg/engine"
)

// Keyword verdict confidences.
const (
	KeywordMismatchConfidence = 0.75
	KeywordAlignedConfidence  = 0.5
)

var benignWords = wordSet(
	"update", "updates", "updated", "updating",
	"tag", "tags", "tagged", "tagging", "retag",
	"add", "adds", "added", "adding",
	"create", "creates", "created", "creating",
	"rename", "renames", "renamed", "renaming",
	"bump", "bumps", "bumped", "bumping",
	"upgrade", "upgrades", "upgraded",
	"tweak", "tweaks", "adjust", "adjusts", "adjusted",
	"enable", "enables", "enabled",
	"fix", "fixes", "fixed",
	"modify", "modifies", "modified",
	"scale", "scales", "scaled",
	"label", "labels", "docs", "typo",
)

var destructiveWords = wordSet(
	"delete", "deletes", "deleted", "deleting", "deletion",
	"remove", "removes", "removed", "removing", "removal",
	"destroy", "destroys", "destroyed", "destroying",
	"decommission", "decommissions", "decommissioned", "decommissioning",
	"teardown", "tear",
	"drop", "drops", "dropped", "dropping",
	"cleanup", "purge", "purges", "retire", "retires", "retired",
	"replace", "replaces", "replaced", "recreate", "recreates",
)

func wordSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Signals are the intent words found in a commit message.
type Signals struct {
	Benign      []string `json:"benign,omitempty"`
	Destructive []string `json:"destructive,omitempty"`
}

// ScanMessage extracts benign and destructive intent words from msg.
func ScanMessage(msg string) Signals {
	var s Signals
	words := strings.FieldsFunc(strings.ToLower(msg), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if _, ok := destructiveWords[w]; ok {
			s.Destructive = append(s.Destructive, w)
		} else if _, ok := benignWords[w]; ok {
			s.Benign = append(s.Benign, w)
		}
	}
	return s
}

// Bucket is the coarse action category used to find the dominant action.
type Bucket string

const (
	BucketNone        Bucket = "none"
	BucketCreate      Bucket = "create"
	BucketUpdate      Bucket = "update"
	BucketDestructive Bucket = "destructive"
)

// DominantBucket returns the bucket with the most changes. Ties go to the
// more destructive bucket.
func DominantBucket(br engine.BlastRadius) Bucket {
	destructive := br.Destructive()
	switch {
	case br.TotalResources == 0:
		return BucketNone
	case destructive >= br.UpdateCount && destructive >= br.CreateCount:
		return BucketDestructive
	case br.UpdateCount >= br.CreateCount:
		return BucketUpdate
	default:
		return BucketCreate
	}
}

// AnalyzeKeywords compares the commit message with the dominant action of
// the plan. A benign-sounding message on a plan dominated by deletes and
// replacements is a mismatch.
func AnalyzeKeywords(msg string, br engine.BlastRadius) *engine.IntentVerdict {
	verdict := &engine.IntentVerdict{Mode: string(ModeKeyword)}

	if strings.TrimSpace(msg) == "" {
		verdict.Aligned = true
		verdict.Explanation = "No commit message provided"
		return verdict
	}

	signals := ScanMessage(msg)
	dominant := DominantBucket(br)

	if len(signals.Benign) > 0 && len(signals.Destructive) == 0 && dominant == BucketDestructive {
		verdict.Aligned = false
		verdict.Confidence = KeywordMismatchConfidence
		verdict.Explanation = fmt.Sprintf(
			"Commit message suggests a non-destructive change (%s) but %d of %d changes delete or replace resources",
			strings.Join(signals.Benign, ", "), br.Destructive(), br.TotalResources)
		verdict.ActionRequired = "Confirm the deletions are intended or correct the commit message"
		return verdict
	}

	verdict.Aligned = true
	verdict.Confidence = KeywordAlignedConfidence
	verdict.Explanation = fmt.Sprintf("Commit message does not contradict the plan (dominant action: %s)", dominant)
	return verdict
}
