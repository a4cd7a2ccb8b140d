package note

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// DefaultMaxRegenerations allows four attempts in total.
const DefaultMaxRegenerations = 3

// State is a retry controller state.
type State string

const (
	StateInit       State = "INIT"
	StateGenerating State = "GENERATING"
	StateValidating State = "VALIDATING"
	StateApproved   State = "APPROVED"
	StateRetry      State = "RETRY"
	StateExhausted  State = "EXHAUSTED"
)

// AttemptVerdict classifies how a single attempt ended.
type AttemptVerdict string

const (
	VerdictApproved AttemptVerdict = "approved"
	VerdictRejected AttemptVerdict = "rejected"
	VerdictError    AttemptVerdict = "error"
)

// Attempt records one generate/validate cycle and the context snapshot it saw.
type Attempt struct {
	Index       int
	Context     Context
	Candidate   *StructuredNote
	Outcome     Outcome
	Verdict     AttemptVerdict
	Feedback    string
	Suggestions []string
}

// Result is the terminal outcome of a generate-and-validate run.
// It is always returned; exhaustion is a normal result, not an error.
type Result struct {
	State             State
	Note              *StructuredNote
	Approved          bool
	RegenerationCount int
	Feedback          string
	Attempts          []Attempt
}

// Observer receives attempt and outcome notifications, e.g. for metrics.
type Observer interface {
	ObserveAttempt(a Attempt)
	ObserveResult(state State, regenerations int)
}

// Controller drives a Generator and a Validator in a bounded, strictly sequential loop.
type Controller struct {
	generator        Generator
	validator        Validator
	maxRegenerations int
	observer         Observer
	logger           *slog.Logger
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithMaxRegenerations sets the retry budget. Negative values are treated as zero.
func WithMaxRegenerations(n int) ControllerOption {
	return func(c *Controller) {
		if n < 0 {
			n = 0
		}
		c.maxRegenerations = n
	}
}

// WithObserver attaches an observer.
func WithObserver(o Observer) ControllerOption {
	return func(c *Controller) {
		c.observer = o
	}
}

// WithLogger sets the logger used for state transitions.
func WithLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = l
	}
}

// NewController creates a retry controller.
func NewController(generator Generator, validator Validator, opts ...ControllerOption) *Controller {
	c := &Controller{
		generator:        generator,
		validator:        validator,
		maxRegenerations: DefaultMaxRegenerations,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxRegenerations returns the configured retry budget.
func (c *Controller) MaxRegenerations() int {
	return c.maxRegenerations
}

// Run generates and validates until approval or until the budget is spent.
func (c *Controller) Run(ctx context.Context, text string, base Context) *Result {
	c.transition(StateInit, 0)

	current := base
	attempts := make([]Attempt, 0, c.maxRegenerations+1)

	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			return c.exhausted(attempts, fmt.Sprintf("generation aborted: %v", err))
		}

		attempt := Attempt{Index: index, Context: current}
		var verdict Verdict

		c.transition(StateGenerating, index)
		generated, err := c.generator.Generate(ctx, text, current)
		if err != nil {
			attempt.Verdict = VerdictError
			attempt.Feedback = err.Error()
			c.logger.Warn("note generation attempt failed", "attempt", index, "error", err)
		} else {
			candidate := generated.Note
			attempt.Candidate = &candidate
			attempt.Outcome = generated.Outcome

			c.transition(StateValidating, index)
			verdict = c.validator.Validate(ctx, &candidate)
			if verdict.Approved {
				if empty := candidate.EmptySections(); len(empty) > 0 {
					verdict.Approved = false
					verdict.Reason = fmt.Sprintf("approved note has empty sections: %s", joinSections(empty))
					verdict.Suggestions = append(append([]string(nil), verdict.Suggestions...), "Fill every section with content from the session text")
				}
			}

			attempt.Feedback = verdict.Reason
			attempt.Suggestions = verdict.Suggestions
			attempt.Verdict = VerdictRejected
			if verdict.Approved {
				attempt.Verdict = VerdictApproved
			}
		}

		attempts = append(attempts, attempt)
		c.observeAttempt(attempt)

		if attempt.Verdict == VerdictApproved {
			c.transition(StateApproved, index)
			result := &Result{
				State:             StateApproved,
				Note:              attempt.Candidate,
				Approved:          true,
				RegenerationCount: index,
				Feedback:          attempt.Feedback,
				Attempts:          attempts,
			}
			c.observeResult(result)
			c.logger.Info("note approved", "regenerations", index, "outcome", attempt.Outcome.String())
			return result
		}

		if errors.Is(err, ErrEmptyInput) || index >= c.maxRegenerations {
			return c.exhausted(attempts, attempt.Feedback)
		}

		c.transition(StateRetry, index)
		if attempt.Verdict == VerdictRejected {
			current = current.WithFeedback(verdict)
		}
	}
}

func (c *Controller) exhausted(attempts []Attempt, feedback string) *Result {
	c.transition(StateExhausted, len(attempts))
	result := &Result{
		State:             StateExhausted,
		Approved:          false,
		RegenerationCount: len(attempts),
		Feedback:          feedback,
		Attempts:          attempts,
	}
	c.observeResult(result)
	c.logger.Info("note generation exhausted", "attempts", len(attempts), "feedback", feedback)
	return result
}

func (c *Controller) transition(state State, index int) {
	c.logger.Debug("note controller transition", "state", string(state), "attempt", index)
}

func (c *Controller) observeAttempt(a Attempt) {
	if c.observer != nil {
		c.observer.ObserveAttempt(a)
	}
}

func (c *Controller) observeResult(r *Result) {
	if c.observer != nil {
		c.observer.ObserveResult(r.State, r.RegenerationCount)
	}
}

func joinSections(names []SectionName) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = string(n)
	}
	return strings.Join(parts, ", ")
}
