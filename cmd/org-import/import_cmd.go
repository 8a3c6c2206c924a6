package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iota-uz/org-import/modules/orgimport/domain/record"
	"github.com/iota-uz/org-import/modules/orgimport/infrastructure/persistence"
	"github.com/iota-uz/org-import/modules/orgimport/services"
	"github.com/iota-uz/org-import/pkg/batchimport"
	"github.com/iota-uz/org-import/pkg/configuration"
	"github.com/iota-uz/org-import/pkg/metrics"
)

type importOptions struct {
	tenantID    uuid.UUID
	input       inputOptions
	apply       bool
	resolve     []string
	autoResolve bool
	manifestDir string
	maxDepth    int
	batch       batchimport.Options
}

// importDeps are the side-effecting collaborators of an import run.
type importDeps struct {
	provider  services.ExistingCodesProvider
	processor batchimport.Processor[record.ImportItem]
	// afterRun runs once the batch run finished, e.g. to drop cached codes.
	afterRun func(ctx context.Context) error
	log      *logrus.Entry
}

func newImportCmd() *cobra.Command {
	var (
		opts      importOptions
		tenant    string
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Validate spreadsheets against the database and import them in batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conf := configuration.Use()
			log := logrus.NewEntry(conf.Logger()).WithFields(logrus.Fields{
				"cmd":       "import",
				"tenant_id": opts.tenantID.String(),
			})

			if opts.maxDepth <= 0 {
				opts.maxDepth = conf.Import.MaxDepth
			}
			if strings.TrimSpace(opts.manifestDir) == "" {
				opts.manifestDir = conf.Import.ManifestDir
			}
			defer startTracing(ctx, conf)()

			opts.batch = batchOptions(conf.Import, log)
			if batchSize > 0 {
				opts.batch.BatchSize = batchSize
			}

			pool, err := pgxpool.New(ctx, conf.Database.Opts)
			if err != nil {
				return withCode(exitDB, fmt.Errorf("connect: %w", err))
			}
			defer pool.Close()
			if err := pool.Ping(ctx); err != nil {
				return withCode(exitDB, fmt.Errorf("ping: %w", err))
			}

			deps := importDeps{
				provider: persistence.NewCodesRepository(pool),
				processor: persistence.NewItemProcessor(pool, opts.tenantID,
					persistence.WithConcurrency(conf.Import.Concurrency),
					persistence.WithProcessorLogger(log),
				),
				log: log,
			}
			if conf.Redis.Enabled {
				client := redis.NewClient(&redis.Options{
					Addr:     conf.Redis.Addr,
					Password: conf.Redis.Password,
					DB:       conf.Redis.DB,
				})
				defer func() { _ = client.Close() }()

				cache := persistence.NewRedisCodesCache(client, deps.provider,
					persistence.WithCachePrefix(conf.Redis.Prefix),
					persistence.WithCacheTTL(conf.Redis.CacheTTL),
					persistence.WithCacheLogger(log),
				)
				deps.provider = cache
				deps.afterRun = func(ctx context.Context) error { return cache.Invalidate(ctx, opts.tenantID) }
			}
			if conf.Prometheus.Enabled && opts.apply {
				stop := metrics.Serve(conf.Prometheus.Addr, conf.Prometheus.Path, log)
				defer stop()
			}

			return runImport(ctx, cmd.OutOrStdout(), opts, deps)
		},
	}

	opts.input.bind(cmd)
	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant UUID (required)")
	cmd.Flags().BoolVar(&opts.apply, "apply", false, "Write to the database (default is dry-run)")
	cmd.Flags().StringArrayVar(&opts.resolve, "resolve", nil, "Duplicate strategy as sheet:code=strategy (repeatable)")
	cmd.Flags().BoolVar(&opts.autoResolve, "auto-resolve", false, "Apply the recommended strategy to unresolved duplicates")
	cmd.Flags().StringVar(&opts.manifestDir, "manifest-dir", "", "Directory for the run manifest (default: IMPORT_MANIFEST_DIR, else next to the input)")
	cmd.Flags().IntVar(&opts.maxDepth, "max-depth", 0, "Maximum hierarchy depth (default: IMPORT_MAX_DEPTH)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Items per batch (default: IMPORT_BATCH_SIZE, else sized from the item count)")
	_ = cmd.MarkFlagRequired("tenant")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(strings.TrimSpace(tenant))
		if err != nil {
			return withCode(exitUsage, fmt.Errorf("invalid --tenant: %w", err))
		}
		opts.tenantID = id
		return nil
	}

	return cmd
}

func batchOptions(c configuration.ImportOptions, log *logrus.Entry) batchimport.Options {
	return batchimport.Options{
		BatchSize:           c.BatchSize,
		RetryAttempts:       c.RetryAttempts,
		RetryDelay:          c.RetryDelay,
		DelayBetweenBatches: c.DelayBetweenBatches,
		Backoff:             batchimport.BackoffPolicy(c.Backoff),
		MaxRetryDelay:       c.MaxRetryDelay,
		Logger:              log,
	}
}

type importManifestV1 struct {
	Version     int                          `json:"version"`
	RunID       string                       `json:"run_id"`
	TenantID    uuid.UUID                    `json:"tenant_id"`
	StartedAt   time.Time                    `json:"started_at"`
	FinishedAt  time.Time                    `json:"finished_at"`
	Input       manifestInput                `json:"input"`
	Resolutions []record.DuplicateResolution `json:"resolutions"`
	Counts      planCounts                   `json:"counts"`
	Cancelled   bool                         `json:"cancelled"`
	Succeeded   []manifestItem               `json:"succeeded"`
	Failed      []manifestItem               `json:"failed"`
	Errors      []batchimport.ImportError    `json:"errors"`
}

type manifestInput struct {
	File        string `json:"file,omitempty"`
	Departments string `json:"departments,omitempty"`
	Positions   string `json:"positions,omitempty"`
}

type manifestItem struct {
	ID        string           `json:"id"`
	Operation record.Operation `json:"operation"`
	Code      string           `json:"code"`
}

func manifestItems(items []record.ImportItem) []manifestItem {
	out := make([]manifestItem, 0, len(items))
	for _, it := range items {
		out = append(out, manifestItem{ID: it.ID, Operation: it.Operation, Code: it.Data.Code})
	}
	return out
}

func runImport(ctx context.Context, w io.Writer, opts importOptions, deps importDeps) error {
	if opts.tenantID == uuid.Nil {
		return withCode(exitUsage, fmt.Errorf("--tenant is required"))
	}
	log := deps.log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	wb, err := loadWorkbook(opts.input)
	if err != nil {
		return err
	}
	resolutions, err := parseResolutions(opts.resolve)
	if err != nil {
		return err
	}

	pipeline := services.NewPipeline(deps.provider,
		services.WithLogger(log),
		services.WithValidator(services.NewValidator(services.WithMaxDepth(opts.maxDepth))),
	)
	plan, err := pipeline.Prepare(ctx, services.PrepareInput{
		TenantID:    opts.tenantID,
		Workbook:    wb,
		Resolutions: resolutions,
		AutoResolve: opts.autoResolve,
	})
	if err != nil {
		if errors.Is(err, services.ErrEmptyWorkbook) {
			return withCode(exitValidation, err)
		}
		return withCode(exitDB, err)
	}

	if !plan.Ready {
		s := summarize(statusInvalid, wb, plan)
		s.TenantID = opts.tenantID.String()
		if err := writeJSONLine(w, s); err != nil {
			return err
		}
		return withCode(exitValidation, fmt.Errorf("validation failed: %d error(s)", len(s.Errors)))
	}
	if !opts.apply {
		s := summarize(statusDryRun, wb, plan)
		s.TenantID = opts.tenantID.String()
		return writeJSONLine(w, s)
	}

	mgr, err := batchimport.NewManager[record.ImportItem](opts.batch)
	if err != nil {
		return withCode(exitUsage, err)
	}
	if err := mgr.Initialize(plan.Items, deps.processor); err != nil {
		return withCode(exitUsage, err)
	}
	unsubscribe := mgr.Subscribe(func(st batchimport.Status) {
		log.WithFields(logrus.Fields{
			"run_id":    st.RunID,
			"batch":     st.CurrentBatch,
			"batches":   st.TotalBatches,
			"processed": st.Processed,
			"failed":    st.Failed,
			"progress":  st.Progress,
		}).Info("orgimport: progress")
	})
	defer unsubscribe()

	// Interrupts stop the run at the next batch boundary instead of aborting writes.
	stopWatch := context.AfterFunc(ctx, mgr.Cancel)
	defer stopWatch()

	startedAt := time.Now().UTC()
	res, err := mgr.Start(context.WithoutCancel(ctx))
	if err != nil {
		return withCode(exitDBWrite, err)
	}
	if deps.afterRun != nil {
		if err := deps.afterRun(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("orgimport: post-run hook failed")
		}
	}

	manifest := &importManifestV1{
		Version:     1,
		RunID:       res.RunID,
		TenantID:    opts.tenantID,
		StartedAt:   startedAt,
		FinishedAt:  time.Now().UTC(),
		Input:       manifestInput{File: opts.input.file, Departments: opts.input.departments, Positions: opts.input.positions},
		Resolutions: plan.Resolutions,
		Counts:      summarize(statusApplied, wb, plan).Counts,
		Cancelled:   res.Cancelled,
		Succeeded:   manifestItems(res.Succeeded),
		Failed:      manifestItems(res.Failed),
		Errors:      res.Errors,
	}
	if manifest.Resolutions == nil {
		manifest.Resolutions = []record.DuplicateResolution{}
	}
	path, err := writeManifest(manifestDir(opts), res.RunID, manifest)
	if err != nil {
		return err
	}

	status := statusApplied
	switch {
	case res.Cancelled:
		status = statusCancelled
	case len(res.Failed) > 0:
		status = statusPartial
	}
	s := summarize(status, wb, plan)
	s.Apply = true
	s.RunID = res.RunID
	s.TenantID = opts.tenantID.String()
	s.ManifestPath = path
	s.Run = &runCounts{Processed: res.Processed, Succeeded: len(res.Succeeded), Failed: len(res.Failed)}
	if err := writeJSONLine(w, s); err != nil {
		return err
	}

	switch status {
	case statusCancelled:
		return withCode(exitPartial, fmt.Errorf("import cancelled after %d of %d item(s)", res.Processed, res.Total))
	case statusPartial:
		return withCode(exitPartial, fmt.Errorf("import finished with %d failed item(s)", len(res.Failed)))
	}
	return nil
}

func manifestDir(opts importOptions) string {
	if dir := strings.TrimSpace(opts.manifestDir); dir != "" {
		return dir
	}
	for _, p := range []string{opts.input.file, opts.input.departments, opts.input.positions} {
		if strings.TrimSpace(p) != "" {
			return filepath.Dir(p)
		}
	}
	return "."
}
