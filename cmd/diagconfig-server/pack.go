package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/diagconfig/internal/domain/catalog"
	"github.com/ehr/diagconfig/internal/domain/pack"
	"github.com/ehr/diagconfig/internal/domain/readiness"
)

func packCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Validate, preview and apply diagnostic packs",
	}
	cmd.AddCommand(packValidateCmd(), packPreviewCmd(), packApplyCmd())
	return cmd
}

func packValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a payload file without touching any catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			values, _ := cmd.Flags().GetStringArray("placement")

			_, p, err := pack.LoadPayloadFile(file)
			if err != nil {
				return err
			}
			if err := p.Validate(); err != nil {
				return err
			}
			if len(values) > 0 {
				placements, err := placementsFromFlags(values)
				if err != nil {
					return err
				}
				if err := p.CheckPlacements(placements); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: payload is valid\n", file)
			return nil
		},
	}
	cmd.Flags().String("file", "", "Payload file (.json, .yaml or .yml)")
	cmd.Flags().StringArray("placement", nil, "Service point placement CODE=LOCATION_NODE_ID (repeatable)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func placementsFromFlags(values []string) (pack.Placements, error) {
	ps, err := parsePlacements(values)
	if err != nil {
		return nil, err
	}
	return pack.NewPlacements(ps)
}

// previewPayload applies p to an empty in-memory catalog and evaluates the
// readiness of the resulting branch.
func previewPayload(ctx context.Context, p *pack.Payload, placements pack.Placements, logger zerolog.Logger) (pack.Summary, *readiness.Report, error) {
	store := catalog.NewMemStore()
	branchID := uuid.New()

	summary, err := pack.NewApplier(store, logger).Apply(ctx, branchID, p, placements)
	if err != nil {
		return pack.Summary{}, nil, err
	}
	report, err := readiness.NewAnalyzer(store, nil, logger).Check(ctx, branchID)
	if err != nil {
		return pack.Summary{}, nil, err
	}
	return summary, report, nil
}

func packPreviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Apply a payload file to an empty catalog and print the resulting readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			values, _ := cmd.Flags().GetStringArray("placement")
			asJSON, _ := cmd.Flags().GetBool("json")

			_, p, err := pack.LoadPayloadFile(file)
			if err != nil {
				return err
			}
			placements, err := placementsFromFlags(values)
			if err != nil {
				return err
			}

			summary, report, err := previewPayload(cmd.Context(), p, placements, zerolog.Nop())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{"summary": summary, "readiness": report})
			}
			printSummary(out, summary)
			fmt.Fprintln(out)
			printReport(out, report)
			return nil
		},
	}
	cmd.Flags().String("file", "", "Payload file (.json, .yaml or .yml)")
	cmd.Flags().StringArray("placement", nil, "Service point placement CODE=LOCATION_NODE_ID (repeatable)")
	cmd.Flags().Bool("json", false, "Print the summary and report as JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func packApplyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a stored ACTIVE pack version to a branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			versionFlag, _ := cmd.Flags().GetString("version-id")
			branchFlag, _ := cmd.Flags().GetString("branch-id")
			values, _ := cmd.Flags().GetStringArray("placement")
			appliedBy, _ := cmd.Flags().GetString("applied-by")

			versionID, err := uuid.Parse(versionFlag)
			if err != nil {
				return fmt.Errorf("--version-id: %w", err)
			}
			branchID, err := uuid.Parse(branchFlag)
			if err != nil {
				return fmt.Errorf("--branch-id: %w", err)
			}
			placements, err := parsePlacements(values)
			if err != nil {
				return err
			}

			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			logger := newLogger(cfg, os.Stderr)

			ctx, cancel := context.WithTimeout(ctx, cfg.ApplyTimeout)
			defer cancel()

			svc := newServices(pool, nil, logger)
			app, err := svc.packs.Apply(ctx, pack.ApplyRequest{
				BranchID:      branchID,
				PackVersionID: versionID,
				Placements:    placements,
				AppliedBy:     appliedBy,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Application %s recorded.\n", app.ID)
			printSummary(out, app.Summary)
			return nil
		},
	}
	cmd.Flags().String("version-id", "", "Pack version id")
	cmd.Flags().String("branch-id", "", "Target branch id")
	cmd.Flags().StringArray("placement", nil, "Service point placement CODE=LOCATION_NODE_ID (repeatable)")
	cmd.Flags().String("applied-by", "cli", "Recorded as the applying user")
	_ = cmd.MarkFlagRequired("version-id")
	_ = cmd.MarkFlagRequired("branch-id")
	return cmd
}
