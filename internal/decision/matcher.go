// Package decision classifies free-form agent output into a review or
// verification verdict using keyword matching.
//
// A Matcher carries a success keyword list and a failure keyword list and
// applies four matching modes in priority order:
//
//  1. Standalone line: a line that, after trimming, equals the keyword
//     (case-insensitive).
//  2. Labeled prefix: a line containing one of "verdict:", "result:",
//     "status:", "outcome:" together with the keyword (case-insensitive).
//  3. Decorated form: the literal bytes "[KW]", "**KW**", or "`KW`".
//  4. Tail window: the last 100 characters contain the keyword
//     (case-insensitive).
//
// All success keywords are tried across all four modes before any failure
// keyword; the first hit wins. The tail window can match fragments inside
// other words ("APPROVED_BY_ADMIN" approves) -- it exists specifically to
// catch trailing phrasings like "Final: approved by reviewer".
package decision

import "strings"

// tailWindow is the number of trailing characters scanned by the tail mode.
const tailWindow = 100

// labels are the recognised prefixes for the labeled-prefix mode.
var labels = []string{"verdict:", "result:", "status:", "outcome:"}

// Verdict is the tri-state outcome of a Matcher check.
type Verdict int

const (
	// Undecided means no keyword matched.
	Undecided Verdict = iota
	// Success means a success keyword matched first.
	Success
	// Failure means a failure keyword matched first.
	Failure
)

// String returns the lowercase name of the verdict.
func (v Verdict) String() string {
	switch v {
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return "undecided"
	}
}

// Matcher classifies agent output against success and failure keyword lists.
type Matcher struct {
	successKeywords []string
	failKeywords    []string
}

// New creates a Matcher with custom keyword lists. The slices are copied so
// callers cannot mutate the matcher after construction.
func New(successKeywords, failKeywords []string) *Matcher {
	return &Matcher{
		successKeywords: append([]string(nil), successKeywords...),
		failKeywords:    append([]string(nil), failKeywords...),
	}
}

// ForReview returns the standard code-review matcher:
// success {APPROVED}, failure {NEEDS_CHANGES}.
func ForReview() *Matcher {
	return New([]string{"APPROVED"}, []string{"NEEDS_CHANGES"})
}

// ForVerification returns the standard verification matcher:
// success {VERIFIED}, failure {FAILED}.
func ForVerification() *Matcher {
	return New([]string{"VERIFIED"}, []string{"FAILED"})
}

// SuccessKeywords returns a copy of the success keyword list.
func (m *Matcher) SuccessKeywords() []string {
	return append([]string(nil), m.successKeywords...)
}

// FailKeywords returns a copy of the failure keyword list.
func (m *Matcher) FailKeywords() []string {
	return append([]string(nil), m.failKeywords...)
}

// Check classifies the output. Every success keyword is tried (across all
// four modes) before any failure keyword; the first hit wins. Undecided is
// returned when nothing matches -- the caller decides what that means
// (Review treats it as failure, Verification as success).
func (m *Matcher) Check(output string) Verdict {
	for _, kw := range m.successKeywords {
		if containsPattern(output, kw) {
			return Success
		}
	}
	for _, kw := range m.failKeywords {
		if containsPattern(output, kw) {
			return Failure
		}
	}
	return Undecided
}

// containsPattern applies the four matching modes in priority order.
func containsPattern(output, keyword string) bool {
	return matchLine(output, keyword) ||
		matchPrefix(output, keyword) ||
		matchDecorated(output, keyword) ||
		matchTail(output, keyword)
}

// matchLine matches a line that equals the keyword after trimming.
func matchLine(output, keyword string) bool {
	for _, line := range strings.Split(output, "\n") {
		if strings.EqualFold(strings.TrimSpace(line), keyword) {
			return true
		}
	}
	return false
}

// matchPrefix matches a line carrying one of the recognised labels together
// with the keyword, case-insensitively.
func matchPrefix(output, keyword string) bool {
	keywordLower := strings.ToLower(keyword)
	for _, line := range strings.Split(output, "\n") {
		lineLower := strings.ToLower(line)
		for _, label := range labels {
			if strings.Contains(lineLower, label) && strings.Contains(lineLower, keywordLower) {
				return true
			}
		}
	}
	return false
}

// matchDecorated matches the literal bracketed, bold, or code-span forms.
// These are exact-case: the decorated forms are emitted verbatim by prompt
// templates, so case variants fall through to the tail mode.
func matchDecorated(output, keyword string) bool {
	patterns := []string{
		"[" + keyword + "]",
		"**" + keyword + "**",
		"`" + keyword + "`",
	}
	for _, p := range patterns {
		if strings.Contains(output, p) {
			return true
		}
	}
	return false
}

// matchTail matches the keyword anywhere in the last tailWindow characters,
// case-insensitively. Substring hits inside larger words are accepted.
func matchTail(output, keyword string) bool {
	start := len(output) - tailWindow
	if start < 0 {
		start = 0
	}
	tail := strings.ToLower(output[start:])
	return strings.Contains(tail, strings.ToLower(keyword))
}
