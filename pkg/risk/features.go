// Package risk joins probe results into feature vectors and scores them.
package risk

import (
	"github.com/CodeMonkeyCybersecurity/surface/pkg/types"
)

// WeakTLSDays is the expiry horizon under which a certificate counts as weak.
const WeakTLSDays = 15

var highRiskPorts = map[int]struct{}{
	22:   {},
	23:   {},
	3389: {},
}

// IsHighRiskPort reports whether port is one of the remote-administration
// ports weighted separately by the model.
func IsHighRiskPort(port int) bool {
	_, ok := highRiskPorts[port]
	return ok
}

// WeakTLS reports whether a certificate record signals weak TLS. Failed
// inspections and certificates that do not verify against the system roots
// for their hostname count as weak, as do expired certificates and those
// expiring within WeakTLSDays.
func WeakTLS(info types.CertificateInfo) bool {
	if !info.OK() || !info.Cert.Trusted {
		return true
	}
	return info.Cert.IsExpired || info.Cert.DaysToExpiry < WeakTLSDays
}

// BuildFeatures performs a left-outer join rooted at assets. Every asset
// yields exactly one vector; probes with no record for an asset
// contribute zero. Subdomain counts below one are ignored and default to one.
func BuildFeatures(
	assets []types.ResolvedAsset,
	ports []types.PortScanResult,
	certs []types.CertificateInfo,
	leakCounts map[types.AssetIdentity]int,
	subdomainCounts map[types.AssetIdentity]int,
) map[types.AssetIdentity]types.FeatureVector {
	portsByID := make(map[types.AssetIdentity]types.PortScanResult, len(ports))
	for _, p := range ports {
		portsByID[p.Identity] = p
	}
	certsByID := make(map[types.AssetIdentity]types.CertificateInfo, len(certs))
	for _, c := range certs {
		certsByID[c.Identity] = c
	}

	features := make(map[types.AssetIdentity]types.FeatureVector, len(assets))
	for _, asset := range assets {
		var fv types.FeatureVector

		if p, ok := portsByID[asset.Identity]; ok {
			for _, port := range p.OpenPorts() {
				fv.OpenPorts++
				if IsHighRiskPort(port) {
					fv.HighRiskOpenPorts++
				}
			}
		}

		if c, ok := certsByID[asset.Identity]; ok && WeakTLS(c) {
			fv.WeakTLS = 1
		}

		fv.SensitiveLeaks = leakCounts[asset.Identity]

		fv.SubdomainCount = 1
		if n := subdomainCounts[asset.Identity]; n >= 1 {
			fv.SubdomainCount = n
		}

		features[asset.Identity] = fv
	}
	return features
}
