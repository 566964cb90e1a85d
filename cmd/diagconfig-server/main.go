package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/diagconfig/internal/config"
	"github.com/ehr/diagconfig/internal/domain/pack"
	"github.com/ehr/diagconfig/internal/domain/readiness"
	"github.com/ehr/diagconfig/internal/platform/db"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "diagconfig-server",
		Short:         "Diagnostics catalog configuration server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(packCmd())
	rootCmd.AddCommand(readinessCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// newLogger writes JSON to out, or console output in development.
func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out})
	} else {
		logger = zerolog.New(out)
	}
	return logger.Level(cfg.Level()).With().Timestamp().Logger()
}

func connect(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

// parsePlacements reads CODE=NODE_UUID flag values.
func parsePlacements(values []string) ([]pack.Placement, error) {
	out := make([]pack.Placement, 0, len(values))
	for _, v := range values {
		code, node, ok := strings.Cut(v, "=")
		if !ok || strings.TrimSpace(code) == "" {
			return nil, fmt.Errorf("placement %q: expected CODE=LOCATION_NODE_ID", v)
		}
		id, err := uuid.Parse(strings.TrimSpace(node))
		if err != nil {
			return nil, fmt.Errorf("placement %q: %w", v, err)
		}
		out = append(out, pack.Placement{ServicePointCode: code, LocationNodeID: id})
	}
	return out, nil
}

func printSummary(w io.Writer, s pack.Summary) {
	fmt.Fprintf(w, "%-15s %s\n", "STAGE", "ROWS")
	for _, sc := range s.Stages() {
		fmt.Fprintf(w, "%-15s %d\n", sc.Stage, sc.Rows)
	}
	fmt.Fprintf(w, "%-15s %d\n", "total", s.Total())
}

func printReport(w io.Writer, r *readiness.Report) {
	verdict := "NOT READY"
	if r.Ready {
		verdict = "READY"
	}
	fmt.Fprintf(w, "Branch %s: %s (%d blocker(s), %d warning(s))\n", r.BranchID, verdict, r.Blockers(), r.Warnings())
	for _, is := range r.Issues {
		fmt.Fprintf(w, "  [%-7s] %-14s %s: %s\n", is.Severity, is.Fix.Kind, is.Title, is.Detail)
	}
}
