// Package main is the jinzai CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/jinzai/internal/cli"
	"github.com/hyperjump/jinzai/internal/config"
	"github.com/hyperjump/jinzai/internal/embedding"
	"github.com/hyperjump/jinzai/internal/ingest"
	"github.com/hyperjump/jinzai/internal/metrics"
	"github.com/hyperjump/jinzai/internal/models"
	"github.com/hyperjump/jinzai/internal/search"
	"github.com/hyperjump/jinzai/internal/server"
	"github.com/hyperjump/jinzai/internal/storage"
	"github.com/hyperjump/jinzai/internal/vector"
	"github.com/hyperjump/jinzai/internal/watcher"
	"github.com/hyperjump/jinzai/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/jinzai/config.yaml"

// options holds the persistent flags shared by every subcommand.
type options struct {
	configPath string
	debug      bool
	output     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "jinzai",
		Short:        "Semantic search over candidate profiles",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath, "config file path")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVar(&opts.output, "output", "text", "output format: text or json")

	root.AddCommand(
		newServerCmd(opts),
		newAddCmd(opts),
		newIngestCmd(opts),
		newRegenerateCmd(opts),
		newSearchCmd(opts),
		newGetCmd(opts),
		newStatusCmd(opts),
		newDeleteCmd(opts),
		newVersionCmd(),
	)
	return root
}

// loadConfig loads config from path. When path is the default and a config.yaml exists
// in the working directory, that file is used instead.
// It returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				path = fallback
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// app holds the initialized services.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *storage.SQLiteStorage
	provider *embedding.Provider
	index    *vector.MemoryIndex
	metrics  *metrics.Collector
	coord    *ingest.Coordinator
	engine   *search.Engine
	format   cli.OutputFormat
}

func newApp(opts *options) (*app, error) {
	format, err := cli.ParseOutputFormat(opts.output)
	if err != nil {
		return nil, err
	}
	cfg, configPath, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	debug := cfg.Debug || opts.debug
	logger, err := utils.NewLogger(debug)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", configPath), zap.Bool("debug", debug))

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("initialize storage: %w", err)
	}

	factory, err := embedding.NewFactory(cfg.Embedding.Type, embedding.ONNXConfig{
		ModelPath:  cfg.Embedding.ModelPath,
		Dimensions: cfg.Embedding.Dimensions,
		MaxTokens:  cfg.Embedding.MaxTokens,
	})
	if err != nil {
		_ = store.Close()
		_ = logger.Sync()
		return nil, err
	}
	provider := embedding.NewProvider(factory, cfg.Embedding.Dimensions,
		embedding.WithTimeout(cfg.Embedding.Timeout.Std()),
		embedding.WithRateLimit(cfg.Embedding.RateLimit, 1),
		embedding.WithCacheSize(cfg.Embedding.CacheSize),
		embedding.WithInitRetries(uint(cfg.Embedding.InitRetries), time.Second),
		embedding.WithProviderLogger(logger))

	index := vector.NewMemoryIndex()
	collector := metrics.NewCollector(
		metrics.WithLogger(logger),
		metrics.WithSlowQueryThreshold(cfg.Search.SlowQueryThreshold.Std()))

	a := &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		provider: provider,
		index:    index,
		metrics:  collector,
		format:   format,
	}
	a.coord = ingest.NewCoordinator(store, provider, cfg.Ingestion,
		ingest.WithLogger(logger),
		ingest.WithMetrics(collector),
		ingest.WithIndex(index))
	a.engine = search.NewEngine(store, provider, index, cfg.Search,
		search.WithLogger(logger),
		search.WithMetrics(collector))
	return a, nil
}

func (a *app) Close() {
	if err := a.provider.Close(); err != nil {
		a.logger.Warn("close embedding provider", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close storage", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// withApp runs fn with an initialized app and closes it afterwards.
func withApp(opts *options, fn func(ctx context.Context, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(opts)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd.Context(), a)
	}
}

func newServerCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Start the HTTP API, the ingestion scheduler and the inbox watcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	sched := ingest.NewScheduler(a.coord, a.cfg.Ingestion.Interval.Std())
	sched.OnBatch(func(r *ingest.BatchReport) {
		a.logger.Info("ingestion batch finished",
			zap.Int("claimed", r.Claimed),
			zap.Int("completed", r.Count(ingest.OutcomeCompleted)),
			zap.Int("failed", r.Count(ingest.OutcomeFailed)),
			zap.Int("requeued", r.Count(ingest.OutcomeRequeued)))
	})

	srv := server.NewServer(a.engine, a.coord, a.store, &a.cfg.Server, a.logger,
		server.WithMetrics(a.metrics),
		server.WithIngestTrigger(sched.Trigger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(sched.Run(gctx)) })
	// The CLI writes to the same database from other processes.
	g.Go(func() error { return ignoreCanceled(a.engine.RunRefresh(gctx, a.cfg.Search.RefreshInterval.Std())) })
	g.Go(func() error { return srv.Start(gctx) })

	if a.cfg.Inbox.Directory != "" {
		inbox := watcher.NewInbox(a.coord, a.cfg.Inbox, sched.Trigger, a.logger)
		if err := inbox.Start(gctx); err != nil {
			a.logger.Error("inbox watcher failed to start", zap.Error(err))
		} else {
			defer inbox.Stop()
		}
	}

	err := g.Wait()
	a.logger.Info("shut down")
	return ignoreCanceled(err)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newAddCmd(opts *options) *cobra.Command {
	var ingestNow bool
	cmd := &cobra.Command{
		Use:   "add <file.json>...",
		Short: "Add or update documents from JSON files",
		Long: `Add or update documents from JSON files. Each file holds one document:

  {"id": "cand-42", "summary": "...", "skills": "...", "experience": "...",
   "education": "...", "certifications": "..."}

A file without "id" is stored under its file name without the extension.`,
		Args: cobra.MinimumNArgs(1),
	}
	cmd.Flags().BoolVar(&ingestNow, "ingest", false, "run an ingestion batch for the added documents")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return withApp(opts, func(ctx context.Context, a *app) error {
			out := cmd.OutOrStdout()
			var (
				docs    []*models.Document
				pending []string
			)
			for _, path := range args {
				loader := watcher.NewInbox(a.coord, config.InboxConfig{Directory: filepath.Dir(path)}, nil, a.logger)
				doc, err := loader.Load(ctx, path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				docs = append(docs, doc)
				if doc.Status == models.StatusPending {
					pending = append(pending, doc.ID)
				}
				if a.format == cli.OutputText {
					fmt.Fprintf(out, "%s: %s (%s)\n", path, doc.ID, doc.Status)
				}
			}
			if !ingestNow || len(pending) == 0 {
				if a.format == cli.OutputJSON {
					return cli.WriteJSON(out, docs)
				}
				return nil
			}
			report, err := a.coord.Enqueue(ctx, pending...)
			if err != nil {
				return err
			}
			return cli.WriteBatchReport(out, report, a.format)
		})(cmd, args)
	}
	return cmd
}

func newIngestCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [id]...",
		Short: "Run one ingestion batch over due documents, or over the given ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(ctx context.Context, a *app) error {
				if _, err := a.coord.Recover(ctx); err != nil {
					a.logger.Warn("stale document recovery failed", zap.Error(err))
				}
				report, err := a.coord.Enqueue(ctx, args...)
				if err != nil {
					return err
				}
				return cli.WriteBatchReport(cmd.OutOrStdout(), report, a.format)
			})(cmd, args)
		},
	}
}

func newRegenerateCmd(opts *options) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "regenerate <id>",
		Short: "Queue a completed or failed document for ingestion again",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-embed even when the text is unchanged")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return withApp(opts, func(ctx context.Context, a *app) error {
			doc, err := a.coord.Regenerate(ctx, args[0], force)
			if err != nil {
				return err
			}
			return cli.WriteDocument(cmd.OutOrStdout(), doc, nil, a.format)
		})(cmd, args)
	}
	return cmd
}

func newSearchCmd(opts *options) *cobra.Command {
	var (
		topK      int
		threshold float64
		fields    []string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search documents by meaning",
		Long: `Search documents by meaning. The query is all remaining arguments joined by spaces,
so multi-word queries work with or without quotes.

Examples:
  jinzai search backend engineer with kubernetes
  jinzai search --field skills --top-k 5 "go, postgres"
  jinzai search --threshold 0 --output json distributed systems`,
		Args: cobra.MinimumNArgs(1),
	}
	cmd.Flags().IntVar(&topK, "top-k", 0, "maximum number of results (default from config)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "minimum similarity in [-1, 1] (default from config)")
	cmd.Flags().StringSliceVar(&fields, "field", nil, "restrict to field types: summary, skills, experience, education, certifications")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		query, err := buildSearchQuery(args, topK, fields)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("threshold") {
			query.Threshold = &threshold
		}
		return withApp(opts, func(ctx context.Context, a *app) error {
			response, err := a.engine.Search(ctx, query)
			if err != nil {
				return err
			}
			return cli.WriteSearchResults(cmd.OutOrStdout(), response, a.format)
		})(cmd, args)
	}
	return cmd
}

// buildSearchQuery joins args into the query text and parses the field filter.
func buildSearchQuery(args []string, topK int, fields []string) (*models.SearchQuery, error) {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return nil, fmt.Errorf("%w: query text is required", models.ErrInvalidInput)
	}
	q := &models.SearchQuery{Query: text, TopK: topK}
	for _, f := range fields {
		ft, err := models.ParseFieldType(strings.TrimSpace(f))
		if err != nil {
			return nil, err
		}
		q.FieldTypes = append(q.FieldTypes, ft)
	}
	return q, nil
}

func newGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a document and its embedding records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(ctx context.Context, a *app) error {
				doc, err := a.store.GetDocument(ctx, args[0])
				if err != nil {
					return err
				}
				records, err := a.store.GetEmbeddingsByDocumentID(ctx, args[0])
				if err != nil {
					return err
				}
				return cli.WriteDocument(cmd.OutOrStdout(), doc, records, a.format)
			})(cmd, args)
		},
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show document counts, embeddings and storage usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(ctx context.Context, a *app) error {
				if err := a.engine.Reload(ctx); err != nil {
					return err
				}
				st, err := a.engine.Status(ctx)
				if err != nil {
					return err
				}
				return cli.WriteStatus(cmd.OutOrStdout(), st, a.format)
			})(cmd, args)
		},
	}
}

func newDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a document and its embedding records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(ctx context.Context, a *app) error {
				if err := a.coord.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Document deleted: %s\n", args[0])
				return nil
			})(cmd, args)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "jinzai version %s\n", version)
		},
	}
}
