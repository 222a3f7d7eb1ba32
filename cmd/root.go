package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andresmejia3/facelog/internal/config"
	"github.com/andresmejia3/facelog/internal/logging"
	"github.com/andresmejia3/facelog/internal/metrics"
	"github.com/andresmejia3/facelog/internal/store"
	"github.com/spf13/cobra"
)

// Options holds shared flags for the watch, scan, find and detect commands
type Options struct {
	InputPath      string
	Camera         int
	MaxFrames      int
	NthFrame       int
	NumEngines     int
	MatchThreshold float64
	Limit          int
	Journal        bool
	OutputPath     string
}

// annotation keys understood by the root command
const (
	needsDB  = "facelog/db"      // "required" or "optional"; absent means no connection
	noSetup  = "facelog/nosetup" // skip directory creation (config dump)
	required = "required"
	optional = "optional"
)

var (
	// Settings is the effective configuration shared by subcommands
	Settings *config.Settings
	// Log is the process logger
	Log *logging.Logger
	// DB is the sighting journal, nil when no database is configured
	DB *store.Store

	cfgFile string
	dbURL   string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "facelog",
	Short:   "Camera face logger with quality gating and duplicate suppression",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, warnings, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if dbURL != "" {
			s.DatabaseURL = dbURL
		}
		if s.DatabaseURL == "" {
			s.DatabaseURL = postgresFromEnv()
		}
		if cmd.Annotations[noSetup] == "" {
			if err := s.EnsureDirs(); err != nil {
				return fmt.Errorf("failed to prepare directories: %w", err)
			}
		}
		Settings = s

		logDir := s.LogsDir
		if cmd.Annotations[noSetup] != "" {
			logDir = ""
		}
		Log, err = logging.New(logging.Config{
			Level:      s.LogLevel,
			Format:     s.LogFormat,
			Dir:        logDir,
			MaxSizeMB:  s.LogMaxSizeMB,
			MaxBackups: s.LogMaxBackups,
			MaxAgeDays: s.LogMaxAgeDays,
		}, os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to open log: %w", err)
		}
		for _, w := range warnings {
			Log.Module("config").Debug("config value ignored", "reason", w)
		}

		switch cmd.Annotations[needsDB] {
		case required:
			if s.DatabaseURL == "" {
				return errors.New("this command needs a database: pass --db or set database_url")
			}
		case optional:
			if s.DatabaseURL == "" {
				return nil
			}
		default:
			return nil
		}

		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), s.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
}

// closeResources releases the journal pool and the log file. It runs as a cobra
// finalizer, so it also runs when a command's RunE fails.
func closeResources() {
	if DB != nil {
		// Use Background here because the main context might be cancelled already (due to Ctrl+C)
		// and we still need to send the "Close" command to the DB.
		DB.Close(context.Background())
		DB = nil
	}
	if Log != nil {
		Log.Close()
		Log = nil
	}
}

// postgresFromEnv builds a connection string from POSTGRES_* variables, if POSTGRES_HOST is set.
func postgresFromEnv() string {
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	user := os.Getenv("POSTGRES_USER")
	pass := os.Getenv("POSTGRES_PASSWORD")
	name := os.Getenv("POSTGRES_DB")
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
}

// serveMetrics exposes m on addr until ctx is done. An empty addr disables the listener.
func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics) {
	if addr == "" || m == nil {
		return
	}
	log := Log.Module("metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics listener stopped", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnFinalize(closeResources)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default: ./config.yaml or $HOME/.facelog/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for the sighting journal (overrides database_url)")
}
