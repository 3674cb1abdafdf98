package backfill

import "errors"

// OutcomeKind classifies how a single work item ended.
type OutcomeKind int

// Outcome kinds.
const (
	OutcomeSucceeded OutcomeKind = iota
	OutcomeIneligible
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeIneligible:
		return "ineligible"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of processing one WorkItem.
type Outcome struct {
	Item   WorkItem
	Kind   OutcomeKind
	Reason string
	Err    error
	// SecondaryErr is set when the dependent update failed after a
	// successful upsert. The upsert is kept.
	SecondaryErr error
}

// Label is the metrics label for the outcome.
func (o Outcome) Label() string {
	if o.Kind == OutcomeFailed && errors.Is(o.Err, ErrValidationMismatch) {
		return "mismatch"
	}
	return o.Kind.String()
}

// Summary aggregates the outcomes of one run.
type Summary struct {
	Task   string
	Window Window
	// Skipped is true when the run did no work at all, either because the
	// sentinel was present or the definition's Skip guard fired.
	Skipped    bool
	SkipReason string

	Total             int
	Succeeded         int
	Ineligible        int
	Failed            int
	Mismatched        int
	SecondaryFailures int

	Items []Outcome

	RollupRan   bool
	RollupErr   error
	SentinelSet bool
}

func (s *Summary) add(o Outcome) {
	s.Items = append(s.Items, o)
	switch o.Kind {
	case OutcomeSucceeded:
		s.Succeeded++
		if o.SecondaryErr != nil {
			s.SecondaryFailures++
		}
	case OutcomeIneligible:
		s.Ineligible++
	case OutcomeFailed:
		s.Failed++
		if errors.Is(o.Err, ErrValidationMismatch) {
			s.Mismatched++
		}
	}
}

// Result is a coarse label for the whole run.
func (s Summary) Result() string {
	switch {
	case s.Skipped:
		return "skipped"
	case s.Failed > 0:
		return "partial"
	default:
		return "ok"
	}
}
