// Command opql parses, completes and runs OPQL queries against a local
// replica of recorded search responses.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hack-pad/hackpadfs"
	"github.com/hack-pad/hackpadfs/mem"
	osfs "github.com/hack-pad/hackpadfs/os"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/knesgoda/outpaged-opql/internal/config"
	"github.com/knesgoda/outpaged-opql/internal/logging"
	"github.com/knesgoda/outpaged-opql/internal/store"
	"github.com/knesgoda/outpaged-opql/pkg/engine"
	"github.com/knesgoda/outpaged-opql/pkg/offline"
)

const Version = "0.3.0"

var (
	cfgPath   string
	workspace string
	verbose   bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:     "opql",
	Short:   "opql - query language tooling for OutPaged search",
	Long:    `opql parses and completes OPQL statements and runs them offline against a replica of recorded search responses.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(cfgPath); err != nil {
			return err
		}
		if workspace != "" {
			cfg.Access.WorkspaceID = workspace
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		logger, err = logging.New(cfg.Logging)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "opql.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace to query (overrides access.workspace_id)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(parseCmd, completeCmd, planCmd, recordCmd, queryCmd, relatedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openReplica opens the configured row store and replica directory. An
// empty directory keeps everything in memory for the life of the command.
func openReplica() (*offline.Replica, store.Storer, error) {
	var (
		st  store.Storer
		err error
	)
	if cfg.Offline.DSN != "" {
		if st, err = store.NewSQLiteStoreWithDSN(cfg.Offline.DSN); err != nil {
			return nil, nil, err
		}
	} else {
		st = store.NewMemStore()
	}

	fs, dir, err := replicaFS(cfg.Offline.Dir)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	r, err := offline.Open(fs, dir,
		offline.WithStore(st),
		offline.WithLogger(logger),
		offline.WithRanking(cfg.Ranking),
		offline.WithDefaultLimit(cfg.Offline.DefaultLimit),
		offline.WithWorkers(cfg.Offline.Workers),
	)
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("failed to open replica: %w", err)
	}
	return r, st, nil
}

func replicaFS(dir string) (hackpadfs.FS, string, error) {
	if dir == "" {
		fs, err := mem.NewFS()
		return fs, ".", err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve replica dir: %w", err)
	}
	// hackpadfs paths are rooted without a leading slash
	return osfs.NewFS(), strings.TrimPrefix(filepath.ToSlash(abs), "/"), nil
}

func principal() engine.Principal {
	return cfg.Access.Principal()
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
