package linker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/cognicore/autotag/pkg/autotag/config"
	"github.com/cognicore/autotag/pkg/autotag/provider"
	"github.com/cognicore/autotag/pkg/autotag/similarity"
	"github.com/cognicore/autotag/pkg/autotag/store"
)

// Match is a candidate label for one feature. LabelID is set when the match
// already refers to a stored label (similarity results); otherwise the label
// is resolved by exact name.
type Match struct {
	Name    string
	LabelID int64
	Score   float64
}

// FromScored converts tagging results to matches.
func FromScored(tags []provider.ScoredResult) []Match {
	out := make([]Match, 0, len(tags))
	for _, t := range tags {
		out = append(out, Match{Name: t.Name, Score: t.Score})
	}
	return out
}

// FromSimilarity converts ranked results to matches scored 1 - distance,
// so a threshold t keeps results with distance <= 1 - t.
func FromSimilarity(results []similarity.Result, labels map[int64]store.Label) []Match {
	out := make([]Match, 0, len(results))
	for _, r := range results {
		out = append(out, Match{
			Name:    labels[r.CandidateID].Name,
			LabelID: r.CandidateID,
			Score:   1 - r.Distance,
		})
	}
	return out
}

// Stage identifies where linking failed
type Stage string

const (
	// StageResolve failures happen before any association is written.
	StageResolve Stage = "resolve"
	// StageReplace failures leave the failing feature's previous labels in
	// place, since ReplaceItemLabels is atomic.
	StageReplace Stage = "replace"
)

// Error is a label resolution or application failure. Linked lists the
// features whose labels were already replaced during this call; the failing
// feature and those after it keep their previous labels.
type Error struct {
	Feature config.Feature
	Stage   Stage
	Linked  []config.Feature
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("link %s (%s): %v", e.Feature, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Outcome is the resolved label set per enabled feature. Labels not yet
// stored (preview of a label that would be created) have ID 0.
type Outcome struct {
	Labels  map[config.Feature][]store.Label
	Applied bool
}

// Linker resolves matches to labels and applies them with replace semantics.
type Linker struct {
	store  store.Store
	logger *slog.Logger
}

// New creates a linker over st.
func New(st store.Store, logger *slog.Logger) *Linker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Linker{store: st, logger: logger.With("component", "linker")}
}

type staged struct {
	feature config.Feature
	group   store.LabelGroup
	labels  []store.Label
}

// Link filters matches per enabled feature, resolves them to labels and,
// when replace is true, swaps each feature's associations for the new set.
// Every feature is resolved before any association is written. With replace
// false nothing is written, including labels that would be created.
func (l *Linker) Link(ctx context.Context, itemID string, matches map[config.Feature][]Match, settings config.Settings, replace bool) (Outcome, error) {
	plan := make([]staged, 0, len(settings.Features))
	for _, f := range settings.Enabled() {
		fs := settings.Feature(f)
		group, err := l.store.GetLabelGroup(ctx, fs.LabelGroup)
		if err != nil {
			return Outcome{}, &Error{Feature: f, Stage: StageResolve, Err: err}
		}

		labels, err := l.resolve(ctx, group, Filter(matches[f], fs), settings.Method, replace)
		if err != nil {
			return Outcome{}, &Error{Feature: f, Stage: StageResolve, Err: err}
		}
		plan = append(plan, staged{feature: f, group: group, labels: labels})
	}

	out := Outcome{Labels: make(map[config.Feature][]store.Label, len(plan))}
	for _, p := range plan {
		out.Labels[p.feature] = p.labels
	}
	if !replace {
		return out, nil
	}

	var linked []config.Feature
	for _, p := range plan {
		if err := l.store.ReplaceItemLabels(ctx, itemID, p.group.ID, store.LabelIDs(p.labels)); err != nil {
			return out, &Error{Feature: p.feature, Stage: StageReplace, Linked: linked, Err: err}
		}
		linked = append(linked, p.feature)

		l.logger.DebugContext(ctx, "labels replaced",
			"item_id", itemID,
			"feature", p.feature,
			"group", p.group.Name,
			"labels", labelNames(p.labels),
		)
	}
	out.Applied = true
	return out, nil
}

// Filter keeps matches scoring at least the feature threshold, orders them
// by descending score (ties keep input order) and caps them at TopN.
func Filter(matches []Match, fs config.FeatureSettings) []Match {
	kept := make([]Match, 0, len(matches))
	for _, m := range matches {
		if m.Score >= fs.Threshold {
			kept = append(kept, m)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Score > kept[j].Score
	})
	if fs.TopN > 0 && len(kept) > fs.TopN {
		kept = kept[:fs.TopN]
	}
	return kept
}

func (l *Linker) resolve(ctx context.Context, group store.LabelGroup, matches []Match, method config.Method, create bool) ([]store.Label, error) {
	seen := make(map[string]struct{}, len(matches))
	labels := make([]store.Label, 0, len(matches))

	for _, m := range matches {
		label, ok, err := l.resolveOne(ctx, group, m, method, create)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		key := label.Name
		if label.ID != 0 {
			key = fmt.Sprintf("#%d", label.ID)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		labels = append(labels, label)
	}
	return labels, nil
}

func (l *Linker) resolveOne(ctx context.Context, group store.LabelGroup, m Match, method config.Method, create bool) (store.Label, bool, error) {
	if m.LabelID != 0 {
		label, err := l.store.GetLabel(ctx, m.LabelID)
		if err != nil {
			return store.Label{}, false, err
		}
		if label.GroupID != group.ID {
			l.logger.WarnContext(ctx, "match outside label group dropped",
				"label_id", label.ID, "group", group.Name)
			return store.Label{}, false, nil
		}
		return label, true, nil
	}

	name := strings.TrimSpace(m.Name)
	if name == "" {
		return store.Label{}, false, nil
	}

	label, found, err := l.store.FindLabel(ctx, group.ID, name)
	if err != nil {
		return store.Label{}, false, err
	}
	if found {
		return label, true, nil
	}
	if method == config.MethodExistingTerms {
		return store.Label{}, false, nil
	}
	if !create {
		return store.Label{Name: name, GroupID: group.ID}, true, nil
	}

	label, err = l.store.CreateLabel(ctx, group.ID, name)
	if err != nil {
		return store.Label{}, false, err
	}
	return label, true, nil
}

func labelNames(labels []store.Label) []string {
	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = l.Name
	}
	return names
}
