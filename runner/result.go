package runner

import (
	"fmt"
)

// State is the progress of one file.
type State int

const (
	StatePending State = iota
	StateSegmenting
	StateTranslating
	StateReconstructing
	StateWriting
	StateDone
	StateFailed
	StateSkipped
)

var stateNames = [...]string{
	StatePending:        "Pending",
	StateSegmenting:     "Segmenting",
	StateTranslating:    "Translating",
	StateReconstructing: "Reconstructing",
	StateWriting:        "Writing",
	StateDone:           "Done",
	StateFailed:         "Failed",
	StateSkipped:        "Skipped",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// FileResult is the outcome of one input file.
type FileResult struct {
	Input  string
	Output string
	// Rel is the input path relative to the input root.
	Rel   string
	State State
	// Kind and Err are set when State is StateFailed.
	Kind Kind
	Err  error
	// Units is the number of translation units of the document and
	// Untranslated the number that kept their original text only.
	Units        int
	Untranslated int
	Warnings     []error
}

func (fr *FileResult) fail(err error) {
	fr.State = StateFailed
	fr.Kind = Classify(err)
	fr.Err = err
}

// Result summarizes a run. Files are listed in walk order.
type Result struct {
	Files []*FileResult

	Done       int
	Failed     int
	Skipped    int
	NotStarted int

	// Warnings are the non-fatal problems of the run: glossary lookups,
	// batches that fell back to the original text, language mismatches.
	Warnings []error

	// Aborted is set when a fatal error stopped the run; Err holds it.
	Aborted bool
	Err     error
	// Canceled is set when the caller's context stopped the run early.
	Canceled bool
}

func (r *Result) abort(err error) {
	r.Aborted = true
	r.Err = err
}

func (r *Result) count() {
	r.Done, r.Failed, r.Skipped, r.NotStarted = 0, 0, 0, 0
	for _, fr := range r.Files {
		switch fr.State {
		case StateDone:
			r.Done++
		case StateFailed:
			r.Failed++
		case StateSkipped:
			r.Skipped++
		case StatePending:
			r.NotStarted++
		}
	}
}

// FailedFiles returns the files that failed, in walk order.
func (r *Result) FailedFiles() []*FileResult {
	var out []*FileResult
	for _, fr := range r.Files {
		if fr.State == StateFailed {
			out = append(out, fr)
		}
	}
	return out
}

// Severity grades a summary line.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// SummaryLine is one line of the run summary.
type SummaryLine struct {
	Severity Severity
	Text     string
}

func (l SummaryLine) String() string { return l.Text }

// Summary returns one line per failed file (with its error kind), per file
// that was not started, and per warning, followed by the totals.
func (r *Result) Summary() []SummaryLine {
	var lines []SummaryLine
	add := func(sev Severity, format string, args ...any) {
		lines = append(lines, SummaryLine{Severity: sev, Text: fmt.Sprintf(format, args...)})
	}

	if r.Aborted {
		add(SeverityError, "aborted (%s): %v", Classify(r.Err), r.Err)
	}
	for _, fr := range r.FailedFiles() {
		add(SeverityError, "failed %s (%s): %v", fr.Input, fr.Kind, fr.Err)
	}
	for _, fr := range r.Files {
		if fr.State == StatePending {
			add(SeverityWarning, "not started %s", fr.Input)
		}
	}
	for _, w := range r.Warnings {
		add(SeverityWarning, "warning (%s): %v", Classify(w), w)
	}

	total := SeverityInfo
	if r.Aborted || r.Failed > 0 || r.NotStarted > 0 {
		total = SeverityWarning
	}
	add(total, "%d done, %d failed, %d skipped, %d not started, %d warnings",
		r.Done, r.Failed, r.Skipped, r.NotStarted, len(r.Warnings))
	return lines
}
