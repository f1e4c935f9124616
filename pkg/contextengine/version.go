package contextengine

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// DriftKind names the most significant version component that changed.
type DriftKind string

const (
	DriftKindNone       DriftKind = ""
	DriftKindMajor      DriftKind = "major"
	DriftKindMinor      DriftKind = "minor"
	DriftKindPatch      DriftKind = "patch"
	DriftKindPrerelease DriftKind = "prerelease"
	// DriftKindUnparsed is reported when either version is not semver and
	// the raw strings differ.
	DriftKindUnparsed DriftKind = "unparsed"
)

// VersionCheck compares the plan's terraform version with the last applied one.
type VersionCheck struct {
	CurrentVersion     string    `json:"current_version"`
	LastAppliedVersion string    `json:"last_applied_version,omitempty"`
	VersionDrift       bool      `json:"version_drift"`
	Kind               DriftKind `json:"kind,omitempty"`
	Warning            string    `json:"warning,omitempty"`
}

// CheckVersionLock reports a version drift when a last applied version is
// known and differs from current. Versions are compared as semver with an
// optional "v" prefix; unparsable versions fall back to string comparison.
func CheckVersionLock(current, lastApplied string) VersionCheck {
	vc := VersionCheck{CurrentVersion: current, LastAppliedVersion: lastApplied}
	if lastApplied == "" {
		return vc
	}

	vc.Kind = versionDrift(current, lastApplied)
	if vc.Kind == DriftKindNone {
		return vc
	}

	vc.VersionDrift = true
	vc.Warning = fmt.Sprintf("Terraform %s version drift: plan uses %s, but state was last applied with %s",
		vc.Kind, current, lastApplied)
	if vc.Kind == DriftKindUnparsed {
		vc.Warning = fmt.Sprintf("Terraform version drift: plan uses %s, but state was last applied with %s",
			current, lastApplied)
	}
	return vc
}

func versionDrift(current, lastApplied string) DriftKind {
	cur, curErr := semver.NewVersion(strings.TrimPrefix(strings.TrimSpace(current), "v"))
	last, lastErr := semver.NewVersion(strings.TrimPrefix(strings.TrimSpace(lastApplied), "v"))
	if curErr != nil || lastErr != nil {
		if strings.TrimSpace(current) == strings.TrimSpace(lastApplied) {
			return DriftKindNone
		}
		return DriftKindUnparsed
	}

	switch {
	case cur.Equal(last):
		return DriftKindNone
	case cur.Major() != last.Major():
		return DriftKindMajor
	case cur.Minor() != last.Minor():
		return DriftKindMinor
	case cur.Patch() != last.Patch():
		return DriftKindPatch
	default:
		return DriftKindPrerelease
	}
}
