package domain

type Outcome string

const (
	OutcomeOK    Outcome = "OK"
	OutcomeRetry Outcome = "RETRY"
	OutcomeError Outcome = "ERROR"
)

// Result is the classification of a single execution attempt.
type Result struct {
	Outcome Outcome `json:"result"`
	Reason  string  `json:"reason"`
}

func OK(reason string) Result    { return Result{Outcome: OutcomeOK, Reason: reason} }
func Retry(reason string) Result { return Result{Outcome: OutcomeRetry, Reason: reason} }
func Error(reason string) Result { return Result{Outcome: OutcomeError, Reason: reason} }
