package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/surface/pkg/leaks"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/types"
)

var leaksCmd = &cobra.Command{
	Use:   "leaks",
	Short: "Prepare leak records for scoring",
}

var leaksExtractCmd = &cobra.Command{
	Use:   "extract <domain> <dump-file>...",
	Short: "Extract and label lines mentioning a domain from text dumps",
	Long: `Scan paste or breach dumps for lines mentioning the domain, label
credential and API-key lines as sensitive, and print leak records that
"surface scan --leaks" accepts.

With --entities the e-mail addresses, IPs, URLs and credentials found in
the dumps are printed instead.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runLeaksExtract,
}

func init() {
	rootCmd.AddCommand(leaksCmd)
	leaksCmd.AddCommand(leaksExtractCmd)

	leaksExtractCmd.Flags().String("subdomain", "", "attribute records to this subdomain (default: the domain)")
	leaksExtractCmd.Flags().Bool("entities", false, "print extracted entities instead of leak records")
}

func runLeaksExtract(cmd *cobra.Command, args []string) error {
	logger := log.WithComponent("leaks")

	domain, err := types.NewAssetIdentity(args[0])
	if err != nil {
		return fmt.Errorf("invalid domain %q: %w", args[0], err)
	}
	subdomain, _ := cmd.Flags().GetString("subdomain")
	if subdomain == "" {
		subdomain = string(domain)
	}
	entitiesOnly, _ := cmd.Flags().GetBool("entities")

	now := time.Now().UTC()
	var (
		records []types.LeakRecord
		corpus  []byte
	)
	for _, path := range args[1:] {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		if entitiesOnly {
			corpus = append(corpus, data...)
			corpus = append(corpus, '\n')
			continue
		}
		found := leaks.ExtractLines(string(data), string(domain), filepath.Base(path), now)
		records = append(records, leaks.Records(found, subdomain, leaks.RuleLabeler{})...)
		logger.Debugw("Dump processed", "file", path, "matches", len(found))
	}

	out := cmd.OutOrStdout()
	if entitiesOnly {
		return writeJSON(out, leaks.ExtractEntities(string(corpus)))
	}
	if records == nil {
		records = []types.LeakRecord{}
	}
	logger.Infow("Leak records extracted", "domain", domain, "records", len(records))
	return writeJSON(out, records)
}
