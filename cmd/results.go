package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/surface/internal/core"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/types"
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Query persisted scan runs",
	Long:  `List and inspect runs saved with "surface scan --save".`,
}

func init() {
	rootCmd.AddCommand(resultsCmd)

	resultsCmd.AddCommand(resultsListCmd)
	resultsCmd.AddCommand(resultsShowCmd)

	resultsListCmd.Flags().String("domain", "", "only runs for this domain")
	resultsListCmd.Flags().String("status", "", "only runs with this status (done, failed, cancelled, timed_out)")
	resultsListCmd.Flags().Int("limit", 20, "maximum runs to list")
	resultsListCmd.Flags().Int("offset", 0, "runs to skip")
	resultsListCmd.Flags().Bool("json", false, "print JSON")

	resultsShowCmd.Flags().Bool("json", false, "print JSON")
	resultsShowCmd.Flags().String("artifact", "", "print one stored artifact (assets, ports, ssl_results, tech_stack, features, risk_scores)")
}

var resultsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scan runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.WithComponent("results")

		domain, _ := cmd.Flags().GetString("domain")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		asJSON, _ := cmd.Flags().GetBool("json")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		filter := core.RunFilter{
			Domain: domain,
			Status: types.RunStatus(status),
			Limit:  limit,
			Offset: offset,
		}

		start := time.Now()
		runs, err := store.ListRuns(cmd.Context(), filter)
		if err != nil {
			logger.Errorw("Failed to list runs", "error", err, "filter", filter)
			return fmt.Errorf("failed to list runs: %w", err)
		}
		logger.Debugw("Runs listed", "count", len(runs), "duration_ms", time.Since(start).Milliseconds())

		out := cmd.OutOrStdout()
		if asJSON {
			return writeJSON(out, runs)
		}
		if len(runs) == 0 {
			fmt.Fprintln(out, "No runs found.")
			return nil
		}

		fmt.Fprintf(out, "%-36s  %-28s  %-14s  %6s  %9s  %s\n", "ID", "DOMAIN", "STATUS", "ASSETS", "MEAN RISK", "STARTED")
		for _, r := range runs {
			fmt.Fprintf(out, "%-36s  %-28s  %-14s  %6d  %9.2f  %s\n",
				r.ID, r.Domain, colorStatus(r.Status), r.AssetCount, r.MeanRisk,
				r.StartedAt.Local().Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var resultsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run and its risk records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID := args[0]
		asJSON, _ := cmd.Flags().GetBool("json")
		artifact, _ := cmd.Flags().GetString("artifact")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if artifact != "" {
			data, err := store.GetArtifact(ctx, runID, artifact)
			if err != nil {
				return fmt.Errorf("failed to get artifact %s of run %s: %w", artifact, runID, err)
			}
			_, err = out.Write(append(data, '\n'))
			return err
		}

		summary, err := store.GetRun(ctx, runID)
		if err != nil {
			return fmt.Errorf("failed to get run %s: %w", runID, err)
		}
		risks, err := store.GetRiskRecords(ctx, runID)
		if err != nil {
			return fmt.Errorf("failed to get risk records of run %s: %w", runID, err)
		}

		if asJSON {
			return writeJSON(out, struct {
				Summary *types.RunSummary  `json:"summary"`
				Risks   []types.RiskRecord `json:"risk_scores"`
			}{summary, risks})
		}

		printSummary(out, *summary)
		printRisks(out, risks)
		return nil
	},
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
