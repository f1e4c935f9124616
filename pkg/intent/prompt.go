package intent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/TheBearguy/tf-gatekeeper/pkg/engine"
)

// maxPromptChanges bounds the number of changes rendered into a prompt.
const maxPromptChanges = 100

// ErrUnparseableReply is returned when a reply starts with neither MATCH nor MISMATCH.
var ErrUnparseableReply = errors.New("reply does not start with MATCH or MISMATCH")

type promptChange struct {
	Resource string   `json:"resource"`
	Actions  []string `json:"actions"`
	After    any      `json:"after,omitempty"`
}

// FormatChanges renders changes as the JSON list embedded in prompts.
func FormatChanges(changes []engine.ResourceChange) string {
	n := len(changes)
	if n > maxPromptChanges {
		n = maxPromptChanges
	}

	out := make([]promptChange, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, promptChange{
			Resource: changes[i].Address,
			Actions:  changes[i].Actions.Strings(),
			After:    changes[i].After,
		})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		data = []byte("[]")
	}
	s := string(data)
	if len(changes) > n {
		s += fmt.Sprintf("\n(%d more changes omitted)", len(changes)-n)
	}
	return s
}

// IntentPrompt builds the MATCH/MISMATCH question for a reasoning backend.
func IntentPrompt(msg string, changes []engine.ResourceChange) string {
	return fmt.Sprintf(`Analyze the following Terraform plan changes against the user's stated intent.

User's Commit Message (Intent):
%s

Terraform Plan Changes (Reality):
%s

Question: Does the user's stated intent match the actual changes being made?
If there's a significant mismatch (e.g., user says they're updating tags but plan shows database deletion),
respond with "MISMATCH" followed by a brief explanation.
If the intent matches the changes, respond with "MATCH".`, strings.TrimSpace(msg), FormatChanges(changes))
}

// ReportPrompt builds the request for a short human-readable impact report.
func ReportPrompt(changes []engine.ResourceChange, br engine.BlastRadius) string {
	return fmt.Sprintf(`Generate a concise impact report (at most 5 lines) for this Terraform plan.
Focus on what an on-call engineer must know before approving it.

Blast radius: %s (%d create, %d update, %d delete, %d replace)
Critical resources: %s

Plan changes:
%s

Report:`, br.Level, br.CreateCount, br.UpdateCount, br.DeleteCount, br.ReplaceCount,
		strings.Join(br.CriticalResources, ", "), FormatChanges(changes))
}

// RecommendationsPrompt asks for one to three numbered recommendations
// addressing the risks the classifier found in the plan.
func RecommendationsPrompt(changes []engine.ResourceChange, br engine.BlastRadius) string {
	return fmt.Sprintf(`Based on the Terraform plan changes and identified risks, provide 1-3 specific recommendations
for improving the safety and security posture of this infrastructure change.

Changes:
%s

Risks identified:
%s

Provide the recommendations as a numbered list:`, FormatChanges(changes), planRisks(br))
}

func planRisks(br engine.BlastRadius) string {
	lines := []string{fmt.Sprintf("- %s: %d resources changed, %d destructive",
		br.Level, br.TotalResources, br.Destructive())}
	for _, addr := range br.CriticalResources {
		lines = append(lines, fmt.Sprintf("- CRITICAL: protected resource %s would be destroyed", addr))
	}
	return strings.Join(lines, "\n")
}

// ParseRecommendations returns the numbered items of a reply with their
// numbering removed. Unnumbered lines are dropped.
func ParseRecommendations(reply string) []string {
	var out []string
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !unicode.IsDigit(rune(line[0])) {
			continue
		}
		rest := strings.TrimLeftFunc(line, unicode.IsDigit)
		item := strings.TrimSpace(strings.TrimLeft(rest, ".) "))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ParseReply reads a MATCH/MISMATCH reply. Leading markdown emphasis and
// quotes are ignored; the explanation is the text after the token.
func ParseReply(reply string) (aligned bool, explanation string, err error) {
	s := strings.TrimLeft(strings.TrimSpace(reply), "*_`\"'# ")

	end := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsLetter(r) })
	if end < 0 {
		end = len(s)
	}

	switch strings.ToUpper(s[:end]) {
	case "MISMATCH":
	case "MATCH":
		aligned = true
	default:
		return false, "", ErrUnparseableReply
	}

	explanation = strings.TrimSpace(strings.TrimLeft(s[end:], "*_`\"':.-\u2014 \n"))
	if explanation == "" {
		if aligned {
			explanation = "Reasoning backend reports the commit message matches the plan"
		} else {
			explanation = "Reasoning backend reports the commit message does not match the plan"
		}
	}
	return aligned, explanation, nil
}
