// Package assembler gathers everything the reply generator needs to answer
// one message: CRM profile, recent transcript, the best knowledge snippet and
// behavioral tone signals. Assembly never fails: a collaborator error drops
// that section from the context instead of aborting.
package assembler

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/wachat/internal/analytics"
	"github.com/kalambet/wachat/internal/knowledge"
	"github.com/kalambet/wachat/internal/memory"
	"github.com/kalambet/wachat/internal/profile"
)

// ProfileSource resolves the CRM profile for a phone identity.
type ProfileSource interface {
	Resolve(ctx context.Context, phone string) profile.Profile
}

// HistorySource returns the recent transcript, oldest first.
type HistorySource interface {
	Recent(ctx context.Context, identity string, window int) ([]memory.Turn, error)
}

// KnowledgeSource retrieves knowledge snippets for a query.
type KnowledgeSource interface {
	Retrieve(ctx context.Context, query string, topK int, minSimilarity float32) []knowledge.Snippet
}

// BehaviorSource derives the behavior profile from a transcript.
type BehaviorSource interface {
	Profile(identity string, turns []memory.Turn) analytics.BehaviorProfile
}

// PromptContext is the assembled input for reply generation. Sections a
// collaborator could not provide are zero-valued; the generator renders only
// what is present.
type PromptContext struct {
	Identity string
	Message  string

	Profile  profile.Profile
	History  []memory.Turn
	Snippet  *knowledge.Snippet
	Behavior analytics.BehaviorProfile
}

// Assembler fans out to the context collaborators and merges their results.
type Assembler struct {
	profiles  ProfileSource
	history   HistorySource
	knowledge KnowledgeSource
	behavior  BehaviorSource

	window        int
	topK          int
	minSimilarity float32
	logger        zerolog.Logger
}

// Options tunes the assembled context.
type Options struct {
	Window        int
	TopK          int
	MinSimilarity float32
}

// New creates an Assembler. Any source may be nil; its section is then
// always omitted.
func New(profiles ProfileSource, history HistorySource, know KnowledgeSource, behavior BehaviorSource, opts Options, logger zerolog.Logger) *Assembler {
	if opts.Window <= 0 {
		opts.Window = 10
	}
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	return &Assembler{
		profiles:      profiles,
		history:       history,
		knowledge:     know,
		behavior:      behavior,
		window:        opts.Window,
		topK:          opts.TopK,
		minSimilarity: opts.MinSimilarity,
		logger:        logger,
	}
}

// Assemble builds the prompt context for one inbound message. The profile
// and knowledge lookups run concurrently; the behavior analysis runs after
// the history fetch it depends on.
func (a *Assembler) Assemble(ctx context.Context, identity, message string) PromptContext {
	pc := PromptContext{Identity: identity, Message: message}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if a.profiles != nil {
			pc.Profile = a.profiles.Resolve(gCtx, identity)
		}
		return nil
	})

	g.Go(func() error {
		if a.knowledge == nil {
			return nil
		}
		snippets := a.knowledge.Retrieve(gCtx, message, a.topK, a.minSimilarity)
		if len(snippets) > 0 {
			// Only the best snippet enters the prompt.
			pc.Snippet = &snippets[0]
		}
		return nil
	})

	g.Go(func() error {
		if a.history == nil {
			return nil
		}
		turns, err := a.history.Recent(gCtx, identity, a.window)
		if err != nil {
			a.logger.Warn().Err(err).Str("identity", identity).Msg("history unavailable, assembling without transcript")
			return nil
		}
		pc.History = turns
		if a.behavior != nil {
			pc.Behavior = a.behavior.Profile(identity, turns)
		}
		return nil
	})

	_ = g.Wait() // goroutines degrade instead of returning errors
	return pc
}
