package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"undoengine/internal/bufferpool"
	"undoengine/internal/cfg"
	"undoengine/internal/page"
	"undoengine/internal/undolog"
	"undoengine/internal/urs"
	"undoengine/internal/wal"
	"undoengine/internal/xactundo"
	"undoengine/pkg/utils"
)

// CloseTimeout is the timeout of the context Close creates, mirroring the
// teacher's own APIEntrypoint.CloseTimeout. Neither the WAL close nor the
// logger sync takes that context, so it does not bound either call.
const CloseTimeout = 15 * time.Second

// Deps bundles every collaborator a Command needs, assembled once in
// Init and handed to Action on Run. It exists so Entrypoint itself stays a
// thin lifecycle shell, the same separation the teacher draws between
// APIEntrypoint (lifecycle) and delivery.Server (the actual work).
type Deps struct {
	Engine   *urs.Engine
	AllocLog undolog.Manager
	Pool     bufferpool.Pool[*page.Page]
	WAL      *wal.Manager
	Xact     *xactundo.Recorder
	Log      *zap.SugaredLogger
	Cfg      cfg.Config
}

// Command is one CLI subcommand's body: given the wired-up engine, do
// whatever that subcommand promises and return.
type Command func(ctx context.Context, d *Deps) error

// UndoEntrypoint is the Entrypoint the CLI's root command installs,
// parameterized by which Command to run. It plays the role the teacher's
// APIEntrypoint plays for the HTTP/gRPC server: load config, build a
// logger, wire the domain collaborators, run one thing, close everything.
type UndoEntrypoint struct {
	ConfigPath string
	Action     Command

	deps *Deps
}

func (e *UndoEntrypoint) Init(ctx context.Context) error {
	config, err := cfg.LoadConfig(e.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var log *zap.SugaredLogger
	if config.Environment == cfg.EnvDev {
		log = utils.Must(zap.NewDevelopment()).Sugar()
	} else {
		log = utils.Must(zap.NewProduction()).Sugar()
	}

	fs := afero.NewOsFs()
	if err := fs.MkdirAll(config.UndoDir, 0o755); err != nil {
		return fmt.Errorf("create undo dir %s: %w", config.UndoDir, err)
	}

	allocLog := undolog.NewFSManager(fs, config.UndoDir, log)

	replacer := bufferpool.NewLRUReplacer()
	pool := bufferpool.New[*page.Page](uint64(config.BufferPoolSize), replacer, allocLog)

	w, err := wal.Open(fs, config.WALPath)
	if err != nil {
		return fmt.Errorf("open WAL at %s: %w", config.WALPath, err)
	}

	xact := &xactundo.Recorder{}
	engine := urs.NewEngine(pool, allocLog, w, xact)

	e.deps = &Deps{
		Engine:   engine,
		AllocLog: allocLog,
		Pool:     pool,
		WAL:      w,
		Xact:     xact,
		Log:      log,
		Cfg:      config,
	}

	log.Infow("undo engine initialized", "undo_dir", config.UndoDir, "wal_path", config.WALPath)
	return nil
}

func (e *UndoEntrypoint) Run(ctx context.Context) error {
	if e.Action == nil {
		return nil
	}
	return e.Action(ctx, e.deps)
}

func (e *UndoEntrypoint) Close() (err error) {
	if e.deps == nil {
		return nil
	}

	_, cancel := context.WithTimeout(context.Background(), CloseTimeout)
	defer cancel()

	if e.deps.WAL != nil {
		if closeErr := e.deps.WAL.Close(); closeErr != nil {
			err = closeErr
		}
	}

	if e.deps.Log != nil {
		if err != nil {
			e.deps.Log.Error("failed to close undo engine", zap.Error(err))
		}
		if syncErr := e.deps.Log.Sync(); syncErr != nil {
			if err != nil {
				err = fmt.Errorf("%w, %w", err, syncErr)
			} else {
				err = syncErr
			}
		}
	}

	return err
}
