package autofix

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/lumia-chat/sentinel/internal/models"
)

const diagnosisMaxTokens = 2000

var (
	// ErrLowConfidence marks a diagnosis the model itself is unsure of.
	ErrLowConfidence = errors.New("diagnosis confidence too low")
	// ErrWeakFix marks a diagnosis whose self-review score is below the
	// acceptance floor.
	ErrWeakFix = errors.New("diagnosis quality below threshold")
)

const diagnosisSystemPrompt = `You are an expert Python developer doing emergency triage on a production conversational service.

Rules for any fix you propose:
- The fix must be minimal: change as few lines as possible.
- Never change function signatures.
- Never remove error handling.
- Never touch imports unless the fix adds a missing one.
- The fix must be backward-compatible.
- If you are not sure the fix is correct and safe, say so with "confidence": "low".

Respond with ONLY a JSON object, no prose around it, with these keys:
{
  "diagnosis": "one or two sentences on the root cause",
  "file_path": "repo-relative path of the file to change",
  "original_code": "the exact lines to replace, 1-10 lines, verbatim from the file",
  "fixed_code": "the replacement lines with the same indentation",
  "diff_summary": "one line describing the change",
  "confidence": "high" | "medium" | "low",
  "quality": {"correctness": 0-10, "minimality": 0-10, "readability": 0-10, "safety": 0-10, "compatibility": 0-10, "generality": 0-10},
  "quality_score": "average of the six dimensions",
  "quality_weak": ["dimensions scoring under 7"]
}`

// Diagnosis is the strict shape the model must return. Anything that
// does not parse into it is discarded, never patched around.
type Diagnosis struct {
	Diagnosis    string         `json:"diagnosis"`
	FilePath     string         `json:"file_path"`
	OriginalCode string         `json:"original_code"`
	FixedCode    string         `json:"fixed_code"`
	DiffSummary  string         `json:"diff_summary"`
	Confidence   string         `json:"confidence"`
	Quality      map[string]int `json:"quality"`
	QualityScore float64        `json:"quality_score"`
	QualityWeak  []string       `json:"quality_weak"`
}

type fetchedFile struct {
	Path    string
	Content string
}

func buildPrompt(entry *models.ErrorLog, files []fetchedFile) string {
	var b strings.Builder
	b.WriteString("Error details:\n")
	fmt.Fprintf(&b, "- Category: %s\n", entry.Category)
	fmt.Fprintf(&b, "- Severity: %s\n", entry.SeverityTag)
	fmt.Fprintf(&b, "- Logger: %s\n", entry.LoggerName)
	fmt.Fprintf(&b, "- Message: %s\n", clip(entry.Message, 500))
	fmt.Fprintf(&b, "- Occurrences: %d\n", entry.OccurrenceCount)
	if entry.SuggestedAction != "" {
		fmt.Fprintf(&b, "- Suggested action: %s\n", entry.SuggestedAction)
	}
	if entry.Command != "" || entry.State != "" {
		fmt.Fprintf(&b, "- Context: command=%s state=%s\n", entry.Command, entry.State)
	}

	fmt.Fprintf(&b, "\nTraceback:\n%s\n", clip(entry.Traceback, 2000))

	b.WriteString("\nCurrent file contents:\n")
	for _, f := range files {
		fmt.Fprintf(&b, "\n--- %s ---\n%s\n", f.Path, f.Content)
	}

	b.WriteString("\nAnalyze this error and propose a minimal fix. Return JSON only.")
	return b.String()
}

// requiredDiagnosisKeys must be present as non-empty strings before the
// reply is bound to the struct.
var requiredDiagnosisKeys = []string{"diagnosis", "file_path", "original_code", "fixed_code", "confidence"}

// parseDiagnosis validates the raw model output against the contract.
// The raw text is checked key by key with gjson first; a malformed or
// mistyped reply is discarded, never patched around.
func parseDiagnosis(raw string, floor float64) (*Diagnosis, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if !gjson.Valid(cleaned) {
		return nil, errors.New("diagnosis is not valid JSON")
	}
	for _, key := range requiredDiagnosisKeys {
		v := gjson.Get(cleaned, key)
		if v.Type != gjson.String || v.Str == "" {
			return nil, fmt.Errorf("diagnosis is missing required field %q", key)
		}
	}

	var diag Diagnosis
	if err := json.Unmarshal([]byte(cleaned), &diag); err != nil {
		return nil, fmt.Errorf("diagnosis does not match the contract: %w", err)
	}

	switch diag.Confidence {
	case "high", "medium":
	case "low":
		return nil, ErrLowConfidence
	default:
		return nil, fmt.Errorf("diagnosis has unknown confidence %q", diag.Confidence)
	}

	if diag.QualityScore < floor {
		return nil, fmt.Errorf("%w: score %.1f", ErrWeakFix, diag.QualityScore)
	}
	return &diag, nil
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
