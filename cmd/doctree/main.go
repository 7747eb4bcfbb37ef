// doctree manages ordered document trees stored either on a local
// filesystem or in PostgreSQL, behind one virtual path namespace.
//
// Configuration comes from the environment (see internal/config) and a YAML
// roots file mapping root keys to base paths and backings.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fruitsalade/doctree/internal/config"
	"github.com/fruitsalade/doctree/internal/db"
	"github.com/fruitsalade/doctree/internal/logging"
	"github.com/fruitsalade/doctree/internal/reorder"
	"github.com/fruitsalade/doctree/internal/search"
	"github.com/fruitsalade/doctree/internal/vfs"
	"github.com/fruitsalade/doctree/internal/vfs/native"
	"github.com/fruitsalade/doctree/internal/vfs/relational"
)

// app holds the components every command works through.
type app struct {
	cfg      *config.Config
	exec     *db.Executor
	router   *vfs.Router
	reorder  *reorder.Engine
	searcher *search.Engine
}

var (
	rootsFile string
	logLevel  string
	current   *app
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "doctree",
		Short: "Ordered document trees over filesystem and PostgreSQL storage",
		Long: `doctree stores documents and folders under configured roots. Each root
is served by the local filesystem or by a PostgreSQL table; sibling order is
encoded in zero-padded filename prefixes such as 0005_file5.md.

Example:
  ROOTS_FILE=roots.yaml doctree ls /docs
  doctree reorder --root pgroot --folder /docs --file 0005_file5.md --direction up`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch cmd.Name() {
			case "help", "completion":
				return nil
			case "migrate":
				if err := initConfig(); err != nil {
					return err
				}
			default:
				if err := setup(); err != nil {
					return err
				}
			}
			cmd.SetContext(logging.WithFields(cmd.Context(), zap.String("command", cmd.CommandPath())))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			shutdown()
		},
	}

	rootCmd.PersistentFlags().StringVar(&rootsFile, "roots", "", "Roots file (overrides ROOTS_FILE)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")

	rootCmd.AddCommand(
		migrateCmd(),
		lsCmd(),
		statCmd(),
		catCmd(),
		putCmd(),
		mkdirCmd(),
		mvCmd(),
		rmCmd(),
		reorderCmd(),
		searchCmd(),
		serveMetricsCmd(),
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		shutdown()
		os.Exit(1)
	}
}

// initConfig loads configuration and starts logging.
func initConfig() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if rootsFile != "" {
		cfg.RootsFile = rootsFile
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		OutputPath: "stderr",
	}); err != nil {
		return fmt.Errorf("logging init error: %w", err)
	}
	current = &app{cfg: cfg}
	return nil
}

// setup builds the router from the roots file, opening the database only
// when a relational root is configured.
func setup() error {
	if err := initConfig(); err != nil {
		return err
	}
	cfg := current.cfg

	entries, err := config.LoadRoots(cfg.RootsFile)
	if err != nil {
		return err
	}
	list := make([]vfs.Root, len(entries))
	needDB := false
	for i, e := range entries {
		list[i] = vfs.Root{Key: e.Key, BasePath: e.Path, Type: vfs.StorageType(e.Type)}
		if list[i].Type == vfs.StorageRelational {
			needDB = true
		}
	}
	roots, err := vfs.NewRoots(list)
	if err != nil {
		return fmt.Errorf("roots file %s: %w", cfg.RootsFile, err)
	}

	router := vfs.NewRouter(roots)
	router.Register(vfs.StorageNative, native.NewOS(roots))

	if needDB {
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("relational roots configured but DATABASE_URL is not set")
		}
		if cfg.AutoMigrate {
			if err := db.Migrate(cfg.DatabaseURL); err != nil {
				return err
			}
		}
		exec, err := db.Open(db.Config{
			DatabaseURL:     cfg.DatabaseURL,
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.DBConnMaxLifetime,
			AcquireTimeout:  cfg.DBAcquireTimeout,
		})
		if err != nil {
			return err
		}
		current.exec = exec
		router.Register(vfs.StorageRelational, relational.New(exec, roots))
	}

	current.router = router
	current.reorder = reorder.New(router)
	current.searcher = search.New(router)

	logging.Debug("doctree ready",
		zap.String("roots_file", cfg.RootsFile),
		zap.Int("roots", len(list)),
		zap.Bool("database", needDB))
	return nil
}

func shutdown() {
	if current == nil {
		return
	}
	if current.exec != nil {
		if err := current.exec.Close(); err != nil {
			logging.Error("closing database pool failed", zap.Error(err))
		}
		current.exec = nil
	}
	logging.Sync()
}
