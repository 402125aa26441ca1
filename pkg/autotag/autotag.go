// Package autotag classifies content items through an external analysis
// provider and links the results to labels.
package autotag

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cognicore/autotag/internal/keylock"
	"github.com/cognicore/autotag/pkg/autotag/config"
	"github.com/cognicore/autotag/pkg/autotag/gate"
	"github.com/cognicore/autotag/pkg/autotag/internalerr"
	"github.com/cognicore/autotag/pkg/autotag/linker"
	"github.com/cognicore/autotag/pkg/autotag/normalize"
	"github.com/cognicore/autotag/pkg/autotag/provider"
	"github.com/cognicore/autotag/pkg/autotag/similarity"
	"github.com/cognicore/autotag/pkg/autotag/store"
)

// Embedder is implemented by providers that can embed arbitrary text, used to
// build the label vector pool.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Orchestrator is the public entry point: normalize, classify, link
type Orchestrator struct {
	store      store.Store
	provider   provider.Provider
	normalizer *normalize.Normalizer
	linker     *linker.Linker
	settings   config.Settings
	logger     *slog.Logger
	veto       func(ctx context.Context, itemID string) bool
	timeout    time.Duration
	now        func() time.Time
	locks      *keylock.Locker

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// Options configures an Orchestrator
type Options struct {
	Store    store.Store
	Provider provider.Provider
	Settings config.Settings
	Logger   *slog.Logger
	// ShouldClassify runs before every classification; returning false skips
	// the run without error. When nil, Settings.ClassifyWhen is used.
	ShouldClassify func(ctx context.Context, itemID string) bool
	// Timeout bounds each provider call. Zero leaves the caller's context as is.
	Timeout time.Duration
	Now     func() time.Time
}

// New fills settings defaults, validates the snapshot and checks that every enabled
// feature's label group exists.
func New(ctx context.Context, opts Options) (*Orchestrator, error) {
	if opts.Store == nil || opts.Provider == nil {
		return nil, fmt.Errorf("autotag: store and provider required: %w", internalerr.ErrInvalidConfig)
	}
	settings := opts.Settings.WithDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if opts.Provider.Kind() != settings.Provider {
		return nil, fmt.Errorf("autotag: provider %s configured but %s supplied: %w",
			settings.Provider, opts.Provider.Kind(), internalerr.ErrInvalidConfig)
	}
	for _, f := range settings.Enabled() {
		name := settings.Feature(f).LabelGroup
		if _, err := opts.Store.GetLabelGroup(ctx, name); err != nil {
			return nil, fmt.Errorf("autotag: feature %s label group %q: %w", f, name, err)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	veto := opts.ShouldClassify
	if veto == nil && settings.ClassifyWhen != "" {
		g, err := gate.New(settings.ClassifyWhen)
		if err != nil {
			return nil, fmt.Errorf("autotag: %w: %v", internalerr.ErrInvalidConfig, err)
		}
		veto = gateVeto(g, opts.Store, logger)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Orchestrator{
		store:      opts.Store,
		provider:   opts.Provider,
		normalizer: normalize.New(opts.Store),
		linker:     linker.New(opts.Store, logger),
		settings:   settings,
		logger:     logger,
		veto:       veto,
		timeout:    opts.Timeout,
		now:        now,
		locks:      keylock.New(),
		entropy:    ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// Close closes the underlying store.
func (o *Orchestrator) Close() error {
	return o.store.Close()
}

// Settings returns a copy of the settings snapshot.
func (o *Orchestrator) Settings() config.Settings {
	return o.settings.Clone()
}

// Classify runs the provider on the item without linking.
func (o *Orchestrator) Classify(ctx context.Context, itemID string) (*provider.Result, error) {
	return o.ClassifyAndLink(ctx, itemID, false)
}

// ClassifyAndLink classifies the item and, when link is true, hands the
// results to the linker. In manual review mode the labels are resolved but
// never written. The raw provider result is returned either way.
func (o *Orchestrator) ClassifyAndLink(ctx context.Context, itemID string, link bool) (*provider.Result, error) {
	if o.veto != nil && !o.veto(ctx, itemID) {
		o.logger.InfoContext(ctx, "classification skipped", "item_id", itemID)
		return &provider.Result{Kind: o.provider.Kind(), Skipped: true}, nil
	}

	unlock, err := o.locks.Lock(ctx, itemID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	runID := o.newRunID()
	logger := o.logger.With("run_id", runID, "item_id", itemID, "provider", o.provider.Kind())

	text, err := o.normalizer.Normalize(ctx, itemID, nil)
	if err != nil {
		return nil, err
	}

	res, err := o.callProvider(ctx, text)
	if err != nil {
		if !errors.Is(err, provider.ErrEmptyInput) {
			o.recordError(ctx, logger, itemID, runID, err)
		}
		logger.WarnContext(ctx, "classification failed", "err", err)
		return nil, err
	}

	if err := o.store.ClearItemError(ctx, itemID); err != nil {
		return res, fmt.Errorf("clear item error: %w", err)
	}

	if !link {
		logger.InfoContext(ctx, "classified")
		return res, nil
	}

	replace := o.settings.Mode == config.ModeAutomatic
	out, err := o.link(ctx, itemID, res, replace)
	if err != nil {
		logger.ErrorContext(ctx, "linking failed", "err", err)
		return res, err
	}
	logger.InfoContext(ctx, "classified", "applied", out.Applied, "labels", counts(out))
	return res, nil
}

// Link applies a previously returned result with replace semantics,
// regardless of mode. It is the explicit second call of manual review.
func (o *Orchestrator) Link(ctx context.Context, itemID string, res *provider.Result) (linker.Outcome, error) {
	if res == nil || res.Skipped {
		return linker.Outcome{}, fmt.Errorf("link %q: no result: %w", itemID, internalerr.ErrInvalidInput)
	}
	unlock, err := o.locks.Lock(ctx, itemID)
	if err != nil {
		return linker.Outcome{}, err
	}
	defer unlock()
	return o.link(ctx, itemID, res, true)
}

// Preview resolves the labels res would link without writing anything.
func (o *Orchestrator) Preview(ctx context.Context, itemID string, res *provider.Result) (linker.Outcome, error) {
	if res == nil || res.Skipped {
		return linker.Outcome{}, fmt.Errorf("preview %q: no result: %w", itemID, internalerr.ErrInvalidInput)
	}
	return o.link(ctx, itemID, res, false)
}

// LastError returns the error recorded by the item's last failed run.
func (o *Orchestrator) LastError(ctx context.Context, itemID string) (store.ItemError, bool, error) {
	return o.store.GetItemError(ctx, itemID)
}

// EmbedLabel embeds the label's name, followed by description when given,
// and stores the vector as the label's entry in the candidate pool.
func (o *Orchestrator) EmbedLabel(ctx context.Context, labelID int64, description string) error {
	emb, ok := o.provider.(Embedder)
	if !ok {
		return fmt.Errorf("embed label: provider %s cannot embed: %w", o.provider.Kind(), internalerr.ErrInvalidConfig)
	}
	label, err := o.store.GetLabel(ctx, labelID)
	if err != nil {
		return err
	}

	text := label.Name
	if d := normalize.Text(description); d != "" {
		text += "\n" + d
	}

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()
	vec, err := emb.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed label %d: %w", labelID, err)
	}
	return o.store.SetLabelVector(ctx, labelID, vec)
}

// EmbedGroup embeds every label of the feature's group that has no vector
// yet and returns how many were embedded.
func (o *Orchestrator) EmbedGroup(ctx context.Context, f config.Feature) (int, error) {
	group, err := o.store.GetLabelGroup(ctx, o.settings.Feature(f).LabelGroup)
	if err != nil {
		return 0, err
	}
	labels, err := o.store.ListLabels(ctx, group.ID)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, l := range labels {
		_, ok, err := o.store.GetLabelVector(ctx, l.ID)
		if err != nil {
			return n, err
		}
		if ok {
			continue
		}
		if err := o.EmbedLabel(ctx, l.ID, ""); err != nil {
			return n, err
		}
		n++
	}
	o.logger.InfoContext(ctx, "label group embedded", "feature", f, "group", group.Name, "embedded", n)
	return n, nil
}

func (o *Orchestrator) callProvider(ctx context.Context, text string) (*provider.Result, error) {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()
	return o.provider.Classify(ctx, text, provider.OptionsFromSettings(o.settings))
}

func (o *Orchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}

func (o *Orchestrator) link(ctx context.Context, itemID string, res *provider.Result, replace bool) (linker.Outcome, error) {
	matches, err := o.matches(ctx, res)
	if err != nil {
		return linker.Outcome{}, err
	}
	return o.linker.Link(ctx, itemID, matches, o.settings, replace)
}

// matches turns a provider result into per-feature candidates. Embedding
// results are ranked against the stored vectors of each feature's group.
func (o *Orchestrator) matches(ctx context.Context, res *provider.Result) (map[config.Feature][]linker.Match, error) {
	out := make(map[config.Feature][]linker.Match)
	if res.Kind == config.ProviderTagging {
		for f, tags := range res.Tags {
			out[f] = linker.FromScored(tags)
		}
		return out, nil
	}

	for _, f := range o.settings.Enabled() {
		group, err := o.store.GetLabelGroup(ctx, o.settings.Feature(f).LabelGroup)
		if err != nil {
			return nil, &linker.Error{Feature: f, Stage: linker.StageResolve, Err: err}
		}
		labels, err := o.store.ListLabels(ctx, group.ID)
		if err != nil {
			return nil, &linker.Error{Feature: f, Stage: linker.StageResolve, Err: err}
		}

		byID := make(map[int64]store.Label, len(labels))
		candidates := make([]similarity.Candidate, 0, len(labels))
		for _, l := range labels {
			vec, ok, err := o.store.GetLabelVector(ctx, l.ID)
			if err != nil {
				return nil, &linker.Error{Feature: f, Stage: linker.StageResolve, Err: err}
			}
			if !ok {
				continue
			}
			byID[l.ID] = l
			candidates = append(candidates, similarity.Candidate{ID: l.ID, Vector: vec})
		}

		ranked, err := similarity.Rank(res.Vector, candidates, 0)
		if err != nil {
			return nil, fmt.Errorf("rank %s: %w", f, err)
		}
		out[f] = linker.FromSimilarity(ranked, byID)
	}
	return out, nil
}

func (o *Orchestrator) recordError(ctx context.Context, logger *slog.Logger, itemID, runID string, err error) {
	rec := store.ItemError{Code: "unknown", Message: err.Error(), RunID: runID, At: o.now().UTC()}
	if pe, ok := provider.AsError(err); ok {
		rec.Code = string(pe.Code)
		rec.Message = pe.Message
	}
	if perr := o.store.PersistItemError(ctx, itemID, rec); perr != nil {
		logger.ErrorContext(ctx, "persist item error", "err", perr)
	}
}

func (o *Orchestrator) newRunID() string {
	o.entropyMu.Lock()
	defer o.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(o.now()), o.entropy).String()
}

// gateVeto evaluates g against the stored body. Lookup and evaluation
// failures let the run proceed so the real error surfaces from it.
func gateVeto(g *gate.Gate, st store.Store, logger *slog.Logger) func(context.Context, string) bool {
	return func(ctx context.Context, itemID string) bool {
		body, err := st.GetContentBody(ctx, itemID)
		if err != nil {
			return true
		}
		ok, err := g.Allow(itemID, body)
		if err != nil {
			logger.WarnContext(ctx, "classify_when failed", "item_id", itemID, "err", err)
			return true
		}
		return ok
	}
}

func counts(out linker.Outcome) map[config.Feature]int {
	m := make(map[config.Feature]int, len(out.Labels))
	for f, labels := range out.Labels {
		m[f] = len(labels)
	}
	return m
}
