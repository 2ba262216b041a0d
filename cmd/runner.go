package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/benbjohnson/clock"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/kvx/internal/audit"
	"github.com/desertthunder/kvx/internal/jobs"
	"github.com/desertthunder/kvx/internal/metadata"
	"github.com/desertthunder/kvx/internal/metrics"
	"github.com/desertthunder/kvx/internal/repositories"
	"github.com/desertthunder/kvx/internal/services"
	"github.com/desertthunder/kvx/internal/shared"
	"github.com/desertthunder/kvx/internal/tasks"
	"github.com/urfave/cli/v3"
)

// cliUser is recorded as the user on jobs and audit entries started from the command line.
const cliUser = "cli"

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// Storage and the KV store are opened on first use so commands like setup run without them.
type Runner struct {
	config     *shared.Config
	configPath string
	logger     *log.Logger
	output     io.Writer
	clock      clock.Clock

	db      *sql.DB
	ownsDB  bool
	store   services.KVStore
	metrics *metrics.Metrics
	ledger  *jobs.Ledger
	audit   *audit.Log
	index   *metadata.Index
	engine  *tasks.TransferEngine
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Logger     *log.Logger
	Output     io.Writer
	Clock      clock.Clock
	// DB and Store replace the configured database and KV store when set.
	DB    *sql.DB
	Store services.KVStore
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		logger:     opts.Logger,
		output:     opts.Output,
		clock:      opts.Clock,
		db:         opts.DB,
		store:      opts.Store,
	}
}

// open connects storage and the KV store and builds the pipelines. It is a no-op after the first call.
func (r *Runner) open(ctx context.Context) error {
	if r.engine != nil {
		return nil
	}

	if r.db == nil {
		db, err := shared.NewDatabase(r.config.Database.Path)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)
		r.db, r.ownsDB = db, true
	}
	if err := shared.RunMigrations(r.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if r.store == nil {
		store, err := newStore(ctx, r.config.KV, r.logger)
		if err != nil {
			return err
		}
		r.store = store
	}

	r.metrics = metrics.New()
	r.ledger = jobs.NewLedger(repositories.NewJobRepository(r.db), r.clock, r.logger)
	r.audit = audit.New(repositories.NewAuditRepository(r.db), r.clock, r.logger)
	r.index = metadata.NewIndex(repositories.NewMetadataRepository(r.db), r.audit, r.clock, r.logger)
	r.engine = tasks.NewTransferEngine(tasks.EngineOpts{
		Store:     r.store,
		Ledger:    r.ledger,
		Audit:     r.audit,
		Metrics:   r.metrics,
		Logger:    r.logger,
		BatchSize: r.config.KV.BatchSize,
		PageSize:  r.config.KV.ListPageSize,
	})
	return nil
}

// Close releases the database when the runner opened it.
func (r *Runner) Close() error {
	if r.db == nil || !r.ownsDB {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// newStore selects the Cloudflare KV client, or the in-memory store when no account is configured.
func newStore(ctx context.Context, cfg shared.KVConfig, logger *log.Logger) (services.KVStore, error) {
	if cfg.LocalDev() {
		logger.Warn("kv.account_id not set; using in-memory store (data is not persisted)")
		return services.NewMemoryKV(), nil
	}

	store, err := services.NewCloudflareKV(ctx, services.CloudflareOptions{
		BaseURL:   cfg.BaseURL,
		AccountID: cfg.AccountID,
		APIToken:  cfg.APIToken,
		RateLimit: cfg.RateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create KV client: %w", err)
	}
	return store, nil
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, serveCommand, exportCommand, importCommand, deleteCommand,
		jobsCommand, tagCommand, searchCommand, auditCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// printProgress drains progress updates to the output until the channel is closed, then signals done.
func (r *Runner) printProgress(progress <-chan tasks.ProgressUpdate, done chan<- struct{}) {
	defer close(done)
	for update := range progress {
		switch update.Phase {
		case tasks.ListKeys, tasks.ParsePayload:
			r.writePlain("📥 %s\n", update.Message)
		case tasks.FetchValues, tasks.WriteBatches, tasks.DeleteBatches:
			r.writePlain("   %s\n", update.Message)
		case tasks.EncodeExport:
			r.writePlain("📝 %s\n", update.Message)
		case tasks.Finalize:
			r.writePlain("✓ %s\n", update.Message)
		}
	}
}

// withProgress runs fn with a progress channel whose updates are printed, unless quiet is set.
func (r *Runner) withProgress(quiet bool, fn func(progress chan<- tasks.ProgressUpdate) error) error {
	if quiet {
		return fn(nil)
	}

	progress := make(chan tasks.ProgressUpdate, 64)
	done := make(chan struct{})
	go r.printProgress(progress, done)

	err := fn(progress)
	close(progress)
	<-done
	return err
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
