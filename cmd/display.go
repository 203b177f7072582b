package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/CodeMonkeyCybersecurity/surface/internal/orchestrator"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/types"
)

func colorStatus(status types.RunStatus) string {
	switch status {
	case types.RunStatusDone:
		return color.New(color.FgGreen).Sprint("✓ " + string(status))
	case types.RunStatusFailed:
		return color.New(color.FgRed).Sprint("✗ " + string(status))
	case types.RunStatusCancelled, types.RunStatusTimedOut:
		return color.New(color.FgYellow).Sprint("⊘ " + string(status))
	case types.RunStatusResolving, types.RunStatusProbing, types.RunStatusAggregating:
		return color.New(color.FgYellow).Sprint("⟳ " + string(status))
	default:
		return string(status)
	}
}

func colorRisk(score int) string {
	text := fmt.Sprintf("%3d", score)
	switch {
	case score >= 70:
		return color.New(color.FgRed, color.Bold).Sprint(text)
	case score >= 40:
		return color.New(color.FgYellow).Sprint(text)
	default:
		return color.New(color.FgGreen).Sprint(text)
	}
}

func printSummary(w io.Writer, s types.RunSummary) {
	fmt.Fprintf(w, "Run:       %s\n", s.ID)
	fmt.Fprintf(w, "Domain:    %s\n", s.Domain)
	fmt.Fprintf(w, "Status:    %s\n", colorStatus(s.Status))
	fmt.Fprintf(w, "Assets:    %d (dropped %d)\n", s.AssetCount, s.Dropped)
	fmt.Fprintf(w, "Mean risk: %.2f\n", s.MeanRisk)
	fmt.Fprintf(w, "Started:   %s\n", s.StartedAt.Format("2006-01-02 15:04:05"))
	if s.CompletedAt != nil {
		fmt.Fprintf(w, "Duration:  %s\n", s.CompletedAt.Sub(s.StartedAt).Round(time.Millisecond))
	}
	if s.Error != "" {
		fmt.Fprintf(w, "Error:     %s\n", color.RedString(s.Error))
	}
}

func printRisks(w io.Writer, risks []types.RiskRecord) {
	if len(risks) == 0 {
		return
	}
	width := len("ASSET")
	for _, r := range risks {
		if n := len(r.Identity); n > width {
			width = n
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-*s  RISK  PORTS  HIGH  TLS  LEAKS  SUBS\n", width, "ASSET")
	fmt.Fprintln(w, strings.Repeat("─", width+38))
	for _, r := range risks {
		d := r.Details
		fmt.Fprintf(w, "%-*s  %s   %5d  %4d  %3d  %5d  %4d\n",
			width, r.Identity, colorRisk(r.RiskScore),
			d.OpenPorts, d.HighRiskOpenPorts, d.WeakTLS, d.SensitiveLeaks, d.SubdomainCount)
	}
}

func printAssetErrors(w io.Writer, errs []orchestrator.AssetError, limit int) {
	if len(errs) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s\n", color.YellowString("%d asset errors:", len(errs)))
	for i, e := range errs {
		if i == limit {
			fmt.Fprintf(w, "  ... and %d more\n", len(errs)-limit)
			break
		}
		fmt.Fprintf(w, "  [%s] %s: %s\n", e.Stage, e.Identity, e.Message)
	}
}
