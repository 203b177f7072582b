package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/CodeMonkeyCybersecurity/surface/internal/artifacts"
	"github.com/CodeMonkeyCybersecurity/surface/internal/cache"
	"github.com/CodeMonkeyCybersecurity/surface/internal/config"
	"github.com/CodeMonkeyCybersecurity/surface/internal/enumerate"
	"github.com/CodeMonkeyCybersecurity/surface/internal/orchestrator"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/discovery/dns"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/leaks"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/shutdown"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/types"
)

var scanCmd = &cobra.Command{
	Use:   "scan <domain>",
	Short: "Resolve, probe and risk-score the hosts of a domain",
	Long: `Run the full pipeline against a domain.

Hostnames come from --hosts (a newline list or a JSON asset file) or from
the configured enumerator command, subfinder by default. Leak records from
--leaks feed the sensitive-leak feature. Artifacts are written to
--output-dir and the run is persisted with --save.

Interrupting the scan with Ctrl-C ends the run as cancelled.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	defaults := config.DefaultConfig()
	flags := scanCmd.Flags()

	flags.String("hosts", "", "hostname list or JSON asset file (skips enumeration)")
	flags.String("leaks", "", "labelled leak records (JSON or YAML)")
	flags.Bool("save", false, "persist the run to the result store")
	flags.Bool("json", false, "print risk records as JSON")

	flags.String("ports", defaults.Ports.Spec, "port spec, e.g. 22,80,443,8000-8100")
	flags.Int("port-concurrency", defaults.Ports.Concurrency, "concurrent port probes")
	flags.Duration("port-timeout", defaults.Ports.Timeout, "per-port connect timeout")
	flags.Int("cert-concurrency", defaults.Cert.Concurrency, "concurrent certificate inspections")
	flags.Duration("cert-timeout", defaults.Cert.Timeout, "per-host TLS handshake timeout")
	flags.Int("tech-concurrency", defaults.Tech.Concurrency, "concurrent fingerprint requests")
	flags.Duration("tech-timeout", defaults.Tech.Timeout, "per-request fingerprint timeout")
	flags.Duration("run-timeout", defaults.Pipeline.RunTimeout, "overall run deadline (0 disables)")
	flags.String("model", "", "linear risk model file (YAML or JSON)")
	flags.String("output-dir", defaults.Pipeline.OutputDir, "artifact directory (empty disables)")
	flags.String("enumerator", "", "enumeration command, {domain} is substituted")
	flags.Bool("bruteforce", false, "also resolve wordlist candidates under the domain")
	flags.String("wordlist", "", "brute-force wordlist file (default: built-in list)")

	bindings := map[string]string{
		"ports.spec":           "ports",
		"ports.concurrency":    "port-concurrency",
		"ports.timeout":        "port-timeout",
		"cert.concurrency":     "cert-concurrency",
		"cert.timeout":         "cert-timeout",
		"tech.concurrency":     "tech-concurrency",
		"tech.timeout":         "tech-timeout",
		"pipeline.run_timeout": "run-timeout",
		"pipeline.model_path":  "model",
		"pipeline.output_dir":  "output-dir",
		"pipeline.enumerator":  "enumerator",
	}
	for key, flag := range bindings {
		viper.BindPFlag(key, flags.Lookup(flag))
	}
}

func runScan(cmd *cobra.Command, args []string) error {
	scanLog := log.WithComponent("scan")

	domain, err := types.NewAssetIdentity(args[0])
	if err != nil {
		return fmt.Errorf("invalid domain %q: %w", args[0], err)
	}

	hostsFile, _ := cmd.Flags().GetString("hosts")
	leaksFile, _ := cmd.Flags().GetString("leaks")
	save, _ := cmd.Flags().GetBool("save")
	asJSON, _ := cmd.Flags().GetBool("json")
	bruteforce, _ := cmd.Flags().GetBool("bruteforce")
	wordlist, _ := cmd.Flags().GetString("wordlist")

	handler := shutdown.NewHandler(scanLog)
	ctx, cancel := handler.Context(cmd.Context())
	defer cancel()
	defer handler.Shutdown()

	req := orchestrator.RunRequest{Domain: string(domain)}

	dnsCache := cache.NewMemoryCache(cfg.Redis.TTL)
	if cfg.Redis.Enabled {
		shared, err := cache.NewRedisCache(cfg.Redis)
		if err != nil {
			scanLog.Warnw("Redis unavailable, caching DNS answers in memory", "error", err)
		} else {
			dnsCache = shared
		}
	}
	handler.RegisterShutdownFunc(dnsCache.Close)

	enumerator, file, err := buildEnumerator(hostsFile)
	if err != nil {
		return err
	}
	if bruteforce {
		var words []string
		if wordlist != "" {
			if words, err = dns.LoadWordlist(wordlist); err != nil {
				return types.NewBatchError(types.CategoryInvalidConfig, fmt.Errorf("load wordlist: %w", err))
			}
		}
		brute := dns.NewBruteforcer(orchestrator.BuildLookup(cfg, dnsCache), words,
			cfg.Resolver.Concurrency, cfg.Resolver.Timeout, log)
		enumerator = enumerate.Merged{enumerator, brute}
	}
	req.Hostnames, err = enumerator.Enumerate(ctx, string(domain))
	if err != nil {
		return types.NewBatchError(types.CategoryEnumerationFailed, err)
	}
	if file != nil {
		req.SubdomainCounts = file.SubdomainCounts()
	}
	scanLog.Infow("Hostnames enumerated", "domain", domain, "count", len(req.Hostnames))

	if leaksFile != "" {
		req.Leaks, err = leaks.Load(leaksFile)
		if err != nil {
			return err
		}
	}

	stages, err := orchestrator.BuildStages(cfg, log, telem, dnsCache)
	if err != nil {
		return err
	}
	model, err := orchestrator.LoadModel(cfg.Pipeline.ModelPath)
	if err != nil {
		return err
	}

	var opts []orchestrator.Option
	if cfg.Pipeline.OutputDir != "" {
		opts = append(opts, orchestrator.WithArtifacts(artifacts.NewWriter(cfg.Pipeline.OutputDir)))
	}
	if save {
		store, err := openStore()
		if err != nil {
			return err
		}
		handler.RegisterShutdownFunc(store.Close)
		opts = append(opts, orchestrator.WithStore(store))
	}

	pipeline := orchestrator.NewPipeline(cfg, stages, model, log, telem, opts...)
	result, runErr := pipeline.Run(ctx, req)

	out := cmd.OutOrStdout()
	if asJSON {
		if err := writeJSON(out, result.Report.Risks); err != nil {
			return err
		}
		return runErr
	}

	printSummary(out, result.Report.Summary)
	printRisks(out, result.Report.Risks)
	printAssetErrors(out, result.AssetErrors, 10)
	for _, p := range result.ArtifactPaths {
		fmt.Fprintf(out, "wrote %s\n", p)
	}
	return runErr
}

// buildEnumerator prefers an explicit host file over the enumeration
// command. The returned *enumerate.File is nil unless a file is used.
func buildEnumerator(hostsFile string) (enumerate.Enumerator, *enumerate.File, error) {
	if hostsFile != "" {
		f := enumerate.NewFile(hostsFile)
		return f, f, nil
	}
	line := cfg.Pipeline.Enumerator
	if line == "" {
		line = enumerate.DefaultCommand
	}
	c, err := enumerate.NewCommand(line, cfg.Pipeline.EnumeratorTimeout, log)
	if err != nil {
		return nil, nil, err
	}
	return c, nil, nil
}
