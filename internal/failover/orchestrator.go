// Package failover runs grading calls against two redundant AI backends,
// switching between them on failure or running both for dual evaluation.
package failover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/autograder/constants"
	"github.com/joseph-ayodele/autograder/internal/classify"
	"github.com/joseph-ayodele/autograder/internal/entity"
	"github.com/joseph-ayodele/autograder/internal/llm"
	"github.com/joseph-ayodele/autograder/internal/retry"
)

// ReasonBothFailed is the manual-intervention reason when neither backend
// produced a usable grading.
const ReasonBothFailed = "both backends failed"

// Slot names one of the two backends.
type Slot int

const (
	SlotA Slot = iota
	SlotB
)

func (s Slot) String() string {
	if s == SlotB {
		return "B"
	}
	return "A"
}

func (s Slot) other() Slot {
	if s == SlotA {
		return SlotB
	}
	return SlotA
}

// Backend is one configured AI endpoint.
type Backend struct {
	Name     string
	Provider string
	APIKey   string
	Model    string
	Sender   llm.Sender
}

// Observer receives per-call outcomes and slot switches.
type Observer interface {
	ObserveOutcome(backend, outcome string)
	ObserveSwitch(from, to string)
}

// Decision is the result of evaluating one answer image.
type Decision struct {
	Outcome    classify.Outcome
	Backend    string
	Provenance constants.Provenance
	Dual       *entity.DualDetail
	// LastError is the most recent failure seen while producing the decision.
	LastError error
}

type slotState struct {
	Slot                Slot
	ConsecutiveFailures [2]int
}

// Orchestrator owns the active slot. It is used by one run loop at a time.
type Orchestrator struct {
	backends   [2]Backend
	classifier *classify.Classifier
	policy     retry.Policy
	logger     *slog.Logger
	observer   Observer

	// jitter returns the head start given to the first call in concurrent
	// dual evaluation.
	jitter func() time.Duration

	mu    sync.Mutex
	state slotState
}

// New creates an orchestrator starting on slot A.
func New(a, b Backend, classifier *classify.Classifier, policy retry.Policy, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if a.Name == "" {
		a.Name = "API 1"
	}
	if b.Name == "" {
		b.Name = "API 2"
	}
	policy.Logger = logger
	return &Orchestrator{
		backends:   [2]Backend{a, b},
		classifier: classifier,
		policy:     policy,
		logger:     logger,
		jitter:     defaultJitter,
	}
}

// WithObserver attaches an observer.
func (o *Orchestrator) WithObserver(obs Observer) *Orchestrator {
	o.observer = obs
	return o
}

// Active returns the slot that will serve the next single evaluation.
func (o *Orchestrator) Active() Slot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Slot
}

// Backend returns the backend bound to a slot.
func (o *Orchestrator) Backend(s Slot) Backend {
	return o.backends[s]
}

// Reset returns to slot A and clears failure counters.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.state = slotState{}
	o.mu.Unlock()
}

// ResetClients drops pooled connections on both backends.
func (o *Orchestrator) ResetClients() {
	for _, b := range o.backends {
		if b.Sender != nil {
			b.Sender.Reset()
		}
	}
	o.logger.Info("failover.clients_reset")
}

// Evaluate grades with the active backend, switching to the other one on any
// failure that is not a manual or anomaly halt.
func (o *Orchestrator) Evaluate(ctx context.Context, image []byte, prompt llm.Prompt, q entity.QuestionConfig) (Decision, error) {
	var lastErr error
	tried := map[Slot]bool{}

	for attempt := 0; attempt < 2; attempt++ {
		slot := o.Active()
		tried[slot] = true
		b := o.backends[slot]

		out, err := o.call(ctx, b, image, prompt, q)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Decision{Backend: b.Name, LastError: err}, ctxErr
		}

		if classify.IsSuccess(out) || classify.IsHalt(out) {
			if classify.IsSuccess(out) {
				o.recordSuccess(slot)
			}
			return Decision{Outcome: out, Backend: b.Name, Provenance: constants.ProvenanceSingle, LastError: lastErr}, nil
		}

		if err == nil {
			err = fmt.Errorf("%s: %s", b.Name, classify.Describe(out))
		}
		lastErr = err
		next := slot.other()
		o.recordFailure(slot, next)
		o.logger.Warn("failover.switch",
			"from", b.Name,
			"to", o.backends[next].Name,
			"outcome", out.Kind(),
			"question", q.Index,
			"error", err,
		)
		if tried[next] {
			break
		}
	}

	o.logger.Error("failover.exhausted", "question", q.Index, "error", lastErr)
	return Decision{
		Outcome:    classify.ManualIntervention{Reason: ReasonBothFailed},
		Provenance: constants.ProvenanceSingle,
		LastError:  lastErr,
	}, nil
}

// call sends one grading request with retries and classifies the reply. A
// transport failure yields a TransientFailure outcome and the error.
func (o *Orchestrator) call(ctx context.Context, b Backend, image []byte, prompt llm.Prompt, q entity.QuestionConfig) (classify.Outcome, error) {
	start := time.Now()
	o.logger.Info("failover.call.start", "backend", b.Name, "provider", b.Provider, "question", q.Index)

	if b.Sender == nil {
		err := errors.New(b.Name + ": backend not configured")
		o.observe(b.Name, "transient_failure")
		return classify.TransientFailure{ErrorKind: retry.KindNotImplemented, Message: err.Error()}, err
	}

	text, err := retry.Do(ctx, o.policy, b.Name, func(ctx context.Context) (string, error) {
		return b.Sender.Send(ctx, llm.Call{
			Provider: b.Provider,
			APIKey:   b.APIKey,
			Model:    b.Model,
			Image:    image,
			Prompt:   prompt,
		})
	})
	if err != nil {
		c := retry.Classify(err)
		o.logger.Warn("failover.call.failed",
			"backend", b.Name,
			"kind", c.Kind,
			"elapsed_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		o.observe(b.Name, "transient_failure")
		return classify.TransientFailure{ErrorKind: c.Kind, Message: err.Error()}, err
	}

	out := o.classifier.Classify(text, q)
	o.logger.Info("failover.call.ok",
		"backend", b.Name,
		"outcome", out.Kind(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	o.observe(b.Name, out.Kind())
	return out, nil
}

func (o *Orchestrator) recordSuccess(s Slot) {
	o.mu.Lock()
	o.state.ConsecutiveFailures[s] = 0
	o.mu.Unlock()
}

func (o *Orchestrator) recordFailure(from, to Slot) {
	o.mu.Lock()
	o.state.ConsecutiveFailures[from]++
	o.state.Slot = to
	o.mu.Unlock()
	if o.observer != nil {
		o.observer.ObserveSwitch(o.backends[from].Name, o.backends[to].Name)
	}
}

func (o *Orchestrator) observe(backend, outcome string) {
	if o.observer != nil {
		o.observer.ObserveOutcome(backend, outcome)
	}
}
