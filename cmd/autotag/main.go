package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cognicore/autotag/internal/jsonl"
	"github.com/cognicore/autotag/internal/retry"
	"github.com/cognicore/autotag/pkg/autotag"
	"github.com/cognicore/autotag/pkg/autotag/config"
	"github.com/cognicore/autotag/pkg/autotag/linker"
	"github.com/cognicore/autotag/pkg/autotag/provider"
	"github.com/cognicore/autotag/pkg/autotag/store/sqlite"
)

type runOptions struct {
	dataPath    string
	itemID      string
	all         bool
	preview     bool
	embedLabels bool
	workers     int
	retries     uint64
}

func main() {
	var (
		dbPath      = flag.String("db", "", "Database path (required)")
		configPath  = flag.String("config", "", "Config file (required)")
		dataPath    = flag.String("data", "", "JSONL file of {id, body} items to import (optional)")
		groups      = flag.Bool("groups", false, "Create configured label groups that do not exist yet")
		itemID      = flag.String("item", "", "Classify a single item")
		all         = flag.Bool("all", false, "Classify every stored item")
		preview     = flag.Bool("preview", false, "Resolve labels without writing them")
		embedLabels = flag.Bool("embed-labels", false, "Embed labels that have no vector yet")
		workers     = flag.Int("workers", 4, "Concurrent classifications")
		retries     = flag.Uint64("retries", 3, "Retries for network, timeout and rate-limit errors")
		timeout     = flag.Duration("timeout", 30*time.Second, "Provider call timeout")
	)
	flag.Parse()

	if *dbPath == "" {
		log.Fatal("--db required")
	}
	if *configPath == "" {
		log.Fatal("--config required")
	}
	if *itemID == "" && !*all && !*embedLabels && *dataPath == "" {
		log.Fatal("nothing to do: pass --item, --all, --embed-labels or --data")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	o, st, cleanup, err := buildOrchestrator(ctx, *dbPath, *configPath, *groups, *timeout)
	if err != nil {
		log.Fatal("Failed to start:", err)
	}
	defer cleanup()

	opts := runOptions{
		dataPath:    *dataPath,
		itemID:      *itemID,
		all:         *all,
		preview:     *preview,
		embedLabels: *embedLabels,
		workers:     *workers,
		retries:     *retries,
	}
	if err := run(ctx, o, st, opts); err != nil {
		log.Fatal(err)
	}
}

// buildOrchestrator loads config, opens the database and wires the
// configured provider.
func buildOrchestrator(ctx context.Context, dbPath, configPath string, ensureGroups bool, timeout time.Duration) (*autotag.Orchestrator, *sqlite.Store, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	st, err := sqlite.OpenSQLite(ctx, dbPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}

	if ensureGroups {
		for _, f := range cfg.Settings.Enabled() {
			name := cfg.Settings.Feature(f).LabelGroup
			if _, err := st.EnsureLabelGroup(ctx, name); err != nil {
				st.Close()
				return nil, nil, nil, fmt.Errorf("ensure group %q: %w", name, err)
			}
		}
	}

	var p provider.Provider
	switch cfg.Settings.Provider {
	case config.ProviderEmbedding:
		p = provider.NewEmbeddingFromConfig(cfg.Providers.Embedding)
	default:
		p = provider.NewTaggingFromConfig(cfg.Providers.Tagging)
	}

	o, err := autotag.New(ctx, autotag.Options{
		Store:    st,
		Provider: p,
		Settings: cfg.Settings,
		Logger:   slog.Default(),
		Timeout:  timeout,
	})
	if err != nil {
		st.Close()
		return nil, nil, nil, err
	}

	return o, st, func() { o.Close() }, nil
}

func run(ctx context.Context, o *autotag.Orchestrator, st *sqlite.Store, opts runOptions) error {
	if opts.dataPath != "" {
		n, err := importItems(ctx, st, opts.dataPath)
		if err != nil {
			return err
		}
		log.Printf("Imported %d items from %s", n, opts.dataPath)
	}

	if opts.embedLabels {
		if err := embedLabels(ctx, o, opts.workers); err != nil {
			return err
		}
	}

	var ids []string
	switch {
	case opts.all:
		all, err := st.ListItemIDs(ctx)
		if err != nil {
			return fmt.Errorf("list items: %w", err)
		}
		ids = all
	case opts.itemID != "":
		ids = []string{opts.itemID}
	}
	if len(ids) == 0 {
		return nil
	}

	failed := classifyAll(ctx, o, ids, opts)
	log.Printf("Classified %d/%d items", len(ids)-failed, len(ids))
	if failed > 0 {
		return fmt.Errorf("%d items failed", failed)
	}
	return nil
}

func importItems(ctx context.Context, st *sqlite.Store, path string) (int, error) {
	items, err := jsonl.Load(path)
	if err != nil {
		return 0, fmt.Errorf("load items: %w", err)
	}
	for _, item := range items {
		if err := st.UpsertItem(ctx, item.ID, item.Body); err != nil {
			return 0, fmt.Errorf("import %q: %w", item.ID, err)
		}
	}
	return len(items), nil
}

func embedLabels(ctx context.Context, o *autotag.Orchestrator, workers int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for _, f := range o.Settings().Enabled() {
		g.Go(func() error {
			n, err := o.EmbedGroup(ctx, f)
			if err != nil {
				return fmt.Errorf("embed %s labels: %w", f, err)
			}
			log.Printf("Embedded %d %s labels", n, f)
			return nil
		})
	}
	return g.Wait()
}

// classifyAll runs every item through the orchestrator with bounded
// concurrency and returns the number of failures.
func classifyAll(ctx context.Context, o *autotag.Orchestrator, ids []string, opts runOptions) int {
	var failed atomic.Int64
	policy := retry.Policy{MaxRetries: opts.retries}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.workers, 1))
	for _, id := range ids {
		g.Go(func() error {
			var res *provider.Result
			err := policy.Do(ctx, func(ctx context.Context) error {
				var err error
				res, err = o.ClassifyAndLink(ctx, id, !opts.preview)
				return err
			})
			if err != nil {
				failed.Add(1)
				log.Printf("Failed to classify %s: %v", id, err)
				return nil
			}
			if res.Skipped {
				log.Printf("Skipped %s", id)
				return nil
			}
			if opts.preview {
				out, err := o.Preview(ctx, id, res)
				if err != nil {
					failed.Add(1)
					log.Printf("Failed to preview %s: %v", id, err)
					return nil
				}
				log.Printf("%s: %s", id, formatOutcome(out))
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(failed.Load())
}

func formatOutcome(out linker.Outcome) string {
	var parts []string
	for _, f := range config.Features {
		labels, ok := out.Labels[f]
		if !ok {
			continue
		}
		names := make([]string, len(labels))
		for i, l := range labels {
			names[i] = l.Name
			if l.ID == 0 {
				names[i] += "*"
			}
		}
		parts = append(parts, fmt.Sprintf("%s=[%s]", f, strings.Join(names, ", ")))
	}
	if len(parts) == 0 {
		return "no labels"
	}
	return strings.Join(parts, " ")
}
