package orchestrator

import (
	"fmt"
	"net"

	"github.com/CodeMonkeyCybersecurity/surface/internal/config"
	"github.com/CodeMonkeyCybersecurity/surface/internal/core"
	"github.com/CodeMonkeyCybersecurity/surface/internal/logger"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/discovery/certs"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/discovery/dns"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/discovery/portscan"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/discovery/techstack"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/risk"
)

// BuildLookup returns the configured DNS servers, or the system
// resolver, behind an optional answer cache.
func BuildLookup(cfg *config.Config, cache core.Cache) dns.HostLookup {
	var lookup dns.HostLookup = net.DefaultResolver
	if len(cfg.Resolver.Servers) > 0 {
		lookup = dns.NewDNSLookup(cfg.Resolver.Servers, cfg.Resolver.Timeout)
	}
	if cache != nil {
		lookup = dns.NewCachedLookup(lookup, cache, cfg.Redis.TTL)
	}
	return lookup
}

// BuildStages wires the network probes from configuration. A nil cache
// disables DNS answer caching.
func BuildStages(cfg *config.Config, log *logger.Logger, telemetry core.Telemetry, cache core.Cache) (Stages, error) {
	lookup := BuildLookup(cfg, cache)

	var techOpts []techstack.Option
	if cfg.Tech.SignaturesPath != "" {
		sigs, err := techstack.LoadSignatures(cfg.Tech.SignaturesPath)
		if err != nil {
			return Stages{}, fmt.Errorf("load signatures: %w", err)
		}
		techOpts = append(techOpts, techstack.WithSignatures(sigs))
	}

	return Stages{
		Resolver:      dns.NewResolverWithLookup(lookup, cfg.Resolver, log, telemetry),
		Ports:         portscan.NewProber(cfg.Ports, log),
		Certs:         certs.NewInspector(cfg.Cert, log, telemetry),
		Fingerprinter: techstack.NewFingerprinter(cfg.Tech, log, telemetry, techOpts...),
	}, nil
}

// LoadModel returns the linear model at path, or the built-in model when
// path is empty.
func LoadModel(path string) (risk.Model, error) {
	if path == "" {
		return risk.DefaultLinearModel(), nil
	}
	return risk.LoadLinearModel(path)
}
