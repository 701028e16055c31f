// Package orchestrator runs the end-to-end pipeline for one inbound message:
// policy first, then context assembly, reply generation, persistence of both
// turns, and delivery back over the transport.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kalambet/wachat/internal/assembler"
	"github.com/kalambet/wachat/internal/generator"
	"github.com/kalambet/wachat/internal/memory"
	"github.com/kalambet/wachat/internal/observability"
	"github.com/kalambet/wachat/internal/policy"
	"github.com/kalambet/wachat/internal/storage"
)

// apologyText goes out when generation produced nothing. The user never sees
// silence or an internal error.
const apologyText = "Sorry, I'm having trouble generating a response right now. " +
	"Please try again in a moment or contact support."

// handleTimeout bounds the whole pipeline for one message, including tool
// calls inside generation.
const handleTimeout = 60 * time.Second

// Outcome classifies how a message was answered.
type Outcome string

const (
	OutcomeHandoff   Outcome = "handoff"
	OutcomeAutomated Outcome = "automated"
	OutcomeGenerated Outcome = "generated"
	OutcomeApology   Outcome = "apology"
	OutcomeDiscarded Outcome = "discarded"
)

// Sender delivers the reply back to the user over the transport.
type Sender interface {
	Send(ctx context.Context, phone, text string) error
}

// TurnRecorder is the durable turn store. Implemented by storage.Store.
type TurnRecorder interface {
	RecordTurn(t storage.Turn) error
}

// CacheInvalidator drops cached state for one identity. Implemented by the
// profile resolver and the behavior analyzer.
type CacheInvalidator interface {
	Invalidate(identity string)
}

// Inbound is one normalized inbound message entering the pipeline.
type Inbound struct {
	Phone    string
	FromName string
	Text     string
}

// Result reports what the pipeline did with a message.
type Result struct {
	Outcome Outcome
	Reply   string
}

// Orchestrator wires the pipeline stages together. Processing for one
// identity is serialized: concurrent messages from the same number queue
// behind each other, so per-identity caches see no racing writers.
type Orchestrator struct {
	policy    *policy.Engine
	assembler *assembler.Assembler
	generator *generator.Generator
	window    memory.Store
	turns     TurnRecorder
	sender    Sender
	metrics   *observability.Metrics
	logger    zerolog.Logger

	invalidators []CacheInvalidator

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	wg sync.WaitGroup
}

// New creates an Orchestrator. Sender, turns and metrics may be nil; the
// corresponding steps are then skipped.
func New(
	pol *policy.Engine,
	asm *assembler.Assembler,
	gen *generator.Generator,
	window memory.Store,
	turns TurnRecorder,
	sender Sender,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		policy:    pol,
		assembler: asm,
		generator: gen,
		window:    window,
		turns:     turns,
		sender:    sender,
		metrics:   metrics,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

// InvalidateOnWrite registers caches to drop for an identity whenever a
// generation wrote to the CRM. Cached profiles and behavior otherwise serve
// stale data for up to their TTL after the agent changes the contact.
func (o *Orchestrator) InvalidateOnWrite(caches ...CacheInvalidator) {
	o.invalidators = append(o.invalidators, caches...)
}

// Dispatch processes the message asynchronously. The inbound webhook
// acknowledges immediately; generation latency never holds the transport.
func (o *Orchestrator) Dispatch(msg Inbound) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
		defer cancel()
		o.Handle(ctx, msg)
	}()
}

// Wait blocks until all dispatched messages have finished. Used on shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Handle runs the pipeline synchronously for one message.
func (o *Orchestrator) Handle(ctx context.Context, msg Inbound) Result {
	if msg.Phone == "" || msg.Text == "" {
		return Result{Outcome: OutcomeDiscarded}
	}

	lock := o.identityLock(msg.Phone)
	lock.Lock()
	defer lock.Unlock()

	result := o.process(ctx, msg)
	o.countOutcome(result.Outcome)

	log := o.logger.Info().
		Str("identity", msg.Phone).
		Str("outcome", string(result.Outcome))
	log.Msg("message processed")
	return result
}

func (o *Orchestrator) process(ctx context.Context, msg Inbound) Result {
	decision := o.policy.Evaluate(msg.Text)

	switch decision.Kind {
	case policy.DecisionHandoff:
		o.logger.Info().
			Str("identity", msg.Phone).
			Str("rule", decision.RuleID).
			Str("reason", decision.Reason).
			Msg("handing conversation to a human")
		o.recordTurn(msg.Phone, "user", msg.Text)
		if decision.Message != "" {
			o.recordTurn(msg.Phone, "assistant", decision.Message)
			o.reply(ctx, msg.Phone, decision.Message)
		}
		return Result{Outcome: OutcomeHandoff, Reply: decision.Message}

	case policy.DecisionAutomatedReply:
		o.recordTurn(msg.Phone, "user", msg.Text)
		o.recordTurn(msg.Phone, "assistant", decision.Message)
		o.reply(ctx, msg.Phone, decision.Message)
		return Result{Outcome: OutcomeAutomated, Reply: decision.Message}
	}

	// Assemble before recording the inbound turn so the prompt history does
	// not contain the current message twice.
	pc := o.assembler.Assemble(ctx, msg.Phone, msg.Text)
	conversationType := classify(pc)

	start := time.Now()
	text, ok, mutated := o.generator.Generate(ctx, pc, conversationType)
	if o.metrics != nil {
		o.metrics.GenerationDuration.Observe(time.Since(start).Seconds())
	}
	if mutated {
		for _, c := range o.invalidators {
			c.Invalidate(msg.Phone)
		}
	}

	outcome := OutcomeGenerated
	if !ok {
		text = apologyText
		outcome = OutcomeApology
	}

	o.recordTurn(msg.Phone, "user", msg.Text)
	o.recordTurn(msg.Phone, "assistant", text)
	o.reply(ctx, msg.Phone, text)
	return Result{Outcome: outcome, Reply: text}
}

// classify picks the conversation type from the assembled context. Unknown
// contacts go through onboarding; frustrated ones get the support register.
func classify(pc assembler.PromptContext) string {
	switch {
	case pc.Profile.Minimal:
		return generator.TypeOnboarding
	case pc.Behavior.Predictive.SupportRisk > 0.5:
		return generator.TypeSupport
	default:
		return generator.TypeGeneral
	}
}

// recordTurn appends to the conversation window and the durable store.
// Both writes are best-effort: a storage outage must not block delivery.
func (o *Orchestrator) recordTurn(identity, speaker, text string) {
	now := time.Now().UTC()

	if o.window != nil {
		turn := memory.Turn{Speaker: speaker, Text: text, Timestamp: now}
		if err := o.window.Append(context.Background(), identity, turn); err != nil {
			o.logger.Warn().Err(err).Str("identity", identity).Msg("window append failed")
		}
	}
	if o.turns != nil {
		turn := storage.Turn{Identity: identity, Speaker: speaker, Content: text, CreatedAt: now}
		if err := o.turns.RecordTurn(turn); err != nil {
			o.logger.Warn().Err(err).Str("identity", identity).Msg("turn persistence failed")
		}
	}
}

func (o *Orchestrator) reply(ctx context.Context, phone, text string) {
	if o.sender == nil {
		return
	}
	if err := o.sender.Send(ctx, phone, text); err != nil {
		o.logger.Error().Err(err).Str("identity", phone).Msg("reply delivery failed")
	}
}

func (o *Orchestrator) countOutcome(outcome Outcome) {
	if o.metrics != nil {
		o.metrics.MessagesTotal.WithLabelValues(string(outcome)).Inc()
	}
}

func (o *Orchestrator) identityLock(identity string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.locks[identity]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[identity] = lock
	}
	return lock
}
