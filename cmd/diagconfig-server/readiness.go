package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ehr/diagconfig/internal/domain/readiness"
)

func readinessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "readiness",
		Short: "Inspect the go-live readiness of a branch",
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Print or export the readiness report of a branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			branchFlag, _ := cmd.Flags().GetString("branch-id")
			xlsxPath, _ := cmd.Flags().GetString("xlsx")
			asJSON, _ := cmd.Flags().GetBool("json")

			branchID, err := uuid.Parse(branchFlag)
			if err != nil {
				return fmt.Errorf("--branch-id: %w", err)
			}

			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			ctx, cancel := context.WithTimeout(ctx, cfg.ReadinessTimeout)
			defer cancel()

			svc := newServices(pool, nil, newLogger(cfg, os.Stderr))
			report, err := svc.analyzer.Check(ctx, branchID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if xlsxPath != "" {
				if err := writeWorkbookFile(xlsxPath, report, time.Now()); err != nil {
					return err
				}
				fmt.Fprintf(out, "Wrote %s\n", xlsxPath)
			}
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printReport(out, report)
			return nil
		},
	}
	checkCmd.Flags().String("branch-id", "", "Branch id")
	checkCmd.Flags().String("xlsx", "", "Also write the report to this .xlsx file")
	checkCmd.Flags().Bool("json", false, "Print the report as JSON")
	_ = checkCmd.MarkFlagRequired("branch-id")
	cmd.AddCommand(checkCmd)

	return cmd
}

func writeWorkbookFile(path string, r *readiness.Report, at time.Time) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := readiness.WriteWorkbook(f, r, at); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
