// Package classify decides what a model response means for one question.
package classify

// Outcome is the result of classifying one model response. Exactly one of the
// variant types below implements it.
type Outcome interface {
	Kind() string
	isOutcome()
}

// Scored is a usable grading with finite itemized scores.
type Scored struct {
	RawTotal      float64
	Itemized      []float64
	AnswerSummary string
	ScoringBasis  string
	RawResponse   string
}

// ManualIntervention halts the run until a human handles the paper.
type ManualIntervention struct {
	Reason      string
	RawFeedback string
}

// AnomalyPaper marks a paper to be routed through the anomaly button.
type AnomalyPaper struct {
	Reason      string
	RawFeedback string
}

// ZeroBlank is a blank or invalid answer graded as zero.
type ZeroBlank struct {
	Reason        string
	Itemized      []float64
	AnswerSummary string
	ScoringBasis  string
	RawResponse   string
}

// ParseError means the response could not be read as a grading.
type ParseError struct {
	Message     string
	RawResponse string
}

// TransientFailure wraps a call failure that may succeed on another attempt.
type TransientFailure struct {
	ErrorKind string
	Message   string
}

// UnusableReason names why a syntactically valid response cannot be used.
type UnusableReason string

const (
	ReasonUnrecognizable UnusableReason = "unrecognizable"
	ReasonImageRequested UnusableReason = "image_requested"
)

// Unusable is a well-formed response that says the image could not be read.
type Unusable struct {
	Reason      UnusableReason
	Message     string
	RawFeedback string
}

func (Scored) Kind() string             { return "scored" }
func (ManualIntervention) Kind() string { return "manual_intervention" }
func (AnomalyPaper) Kind() string       { return "anomaly_paper" }
func (ZeroBlank) Kind() string          { return "zero_blank" }
func (ParseError) Kind() string         { return "parse_error" }
func (TransientFailure) Kind() string   { return "transient_failure" }
func (Unusable) Kind() string           { return "unusable" }

func (Scored) isOutcome()             {}
func (ManualIntervention) isOutcome() {}
func (AnomalyPaper) isOutcome()       {}
func (ZeroBlank) isOutcome()          {}
func (ParseError) isOutcome()         {}
func (TransientFailure) isOutcome()   {}
func (Unusable) isOutcome()           {}

// IsSuccess reports whether the outcome carries a score.
func IsSuccess(o Outcome) bool {
	switch o.(type) {
	case Scored, ZeroBlank:
		return true
	}
	return false
}

// IsHalt reports whether the outcome must be returned to the run loop as-is,
// without trying the other backend.
func IsHalt(o Outcome) bool {
	switch o.(type) {
	case ManualIntervention, AnomalyPaper:
		return true
	}
	return false
}

// Graded is the common view of the two successful variants.
type Graded struct {
	Total         float64
	Itemized      []float64
	AnswerSummary string
	ScoringBasis  string
	RawResponse   string
}

// AsGraded extracts the score from a Scored or ZeroBlank outcome.
func AsGraded(o Outcome) (Graded, bool) {
	switch v := o.(type) {
	case Scored:
		return Graded{
			Total:         v.RawTotal,
			Itemized:      v.Itemized,
			AnswerSummary: v.AnswerSummary,
			ScoringBasis:  v.ScoringBasis,
			RawResponse:   v.RawResponse,
		}, true
	case ZeroBlank:
		return Graded{
			Total:         0,
			Itemized:      v.Itemized,
			AnswerSummary: v.AnswerSummary,
			ScoringBasis:  v.ScoringBasis,
			RawResponse:   v.RawResponse,
		}, true
	}
	return Graded{}, false
}

// Describe returns a one-line message for logs and failure reasons.
func Describe(o Outcome) string {
	switch v := o.(type) {
	case Scored:
		return "scored"
	case ZeroBlank:
		return "zero: " + v.Reason
	case ManualIntervention:
		return v.Reason
	case AnomalyPaper:
		return v.Reason
	case ParseError:
		return v.Message
	case TransientFailure:
		return v.Message
	case Unusable:
		return v.Message
	}
	return ""
}
