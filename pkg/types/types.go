package types

import (
	"time"
)

type PortState string

const (
	PortStateOpen     PortState = "open"
	PortStateClosed   PortState = "closed"
	PortStateFiltered PortState = "filtered"
	PortStateUnknown  PortState = "unknown"
)

// ResolvedAsset pairs an identity with its first resolved address.
// An empty Address means the hostname did not resolve.
type ResolvedAsset struct {
	Identity AssetIdentity `json:"subdomain"`
	Address  string        `json:"ip"`
}

func (a ResolvedAsset) Resolved() bool {
	return a.Address != ""
}

type PortObservation struct {
	Port     int       `json:"port"`
	Protocol string    `json:"protocol"`
	State    PortState `json:"state"`
}

// PortScanResult holds the open ports found for one asset, ascending by port.
type PortScanResult struct {
	Identity     AssetIdentity     `json:"subdomain"`
	Address      string            `json:"ip"`
	Observations []PortObservation `json:"ports"`
	Error        string            `json:"error,omitempty"`
}

// OpenPorts returns the ports observed in the open state.
func (r PortScanResult) OpenPorts() []int {
	var ports []int
	for _, obs := range r.Observations {
		if obs.State == PortStateOpen {
			ports = append(ports, obs.Port)
		}
	}
	return ports
}

type CertificateDetails struct {
	Issuer       map[string]string `json:"issuer"`
	Subject      map[string]string `json:"subject"`
	SerialNumber string            `json:"serial_number"`
	Version      int               `json:"version"`
	NotBefore    time.Time         `json:"not_before"`
	NotAfter     time.Time         `json:"not_after"`
	DaysToExpiry int               `json:"days_to_expiry"`
	IsExpired    bool              `json:"is_expired"`
	SANs         []string          `json:"sans,omitempty"`
	Trusted      bool              `json:"trusted"`
	TrustError   string            `json:"trust_error,omitempty"`
}

// CertificateInfo is either a parsed certificate or an error, never both.
// Use CertOK and CertErr to build one.
type CertificateInfo struct {
	Identity AssetIdentity       `json:"subdomain"`
	Cert     *CertificateDetails `json:"certificate,omitempty"`
	Error    string              `json:"error,omitempty"`
}

func CertOK(id AssetIdentity, details CertificateDetails) CertificateInfo {
	return CertificateInfo{Identity: id, Cert: &details}
}

func CertErr(id AssetIdentity, err error) CertificateInfo {
	msg := "unknown certificate error"
	if err != nil {
		msg = err.Error()
	}
	return CertificateInfo{Identity: id, Error: msg}
}

func (c CertificateInfo) OK() bool {
	return c.Cert != nil
}

type TechnologyResult struct {
	Identity     AssetIdentity `json:"subdomain"`
	Technologies []string      `json:"technologies"`
}

const LabelSensitive = "sensitive"

type LeakRecord struct {
	Source    string `json:"source" yaml:"source"`
	Subdomain string `json:"subdomain,omitempty" yaml:"subdomain,omitempty"`
	Label     string `json:"label" yaml:"label"`
	Content   string `json:"content,omitempty" yaml:"content,omitempty"`
}

// FeatureVector is the fixed-order model input for one asset.
type FeatureVector struct {
	OpenPorts         int `json:"open_ports"`
	HighRiskOpenPorts int `json:"high_risk_ports"`
	WeakTLS           int `json:"has_weak_ssl"`
	SensitiveLeaks    int `json:"leak_count"`
	SubdomainCount    int `json:"subdomain_count"`
}

// FeatureCount is the arity every scoring model must accept.
const FeatureCount = 5

func (f FeatureVector) Slice() []float64 {
	return []float64{
		float64(f.OpenPorts),
		float64(f.HighRiskOpenPorts),
		float64(f.WeakTLS),
		float64(f.SensitiveLeaks),
		float64(f.SubdomainCount),
	}
}

type RiskRecord struct {
	Identity  AssetIdentity `json:"subdomain"`
	RiskScore int           `json:"risk_score"`
	Details   FeatureVector `json:"details"`
}

type RunStatus string

const (
	RunStatusIdle        RunStatus = "idle"
	RunStatusResolving   RunStatus = "resolving"
	RunStatusProbing     RunStatus = "probing"
	RunStatusAggregating RunStatus = "aggregating"
	RunStatusDone        RunStatus = "done"
	RunStatusFailed      RunStatus = "failed"
	RunStatusCancelled   RunStatus = "cancelled"
	RunStatusTimedOut    RunStatus = "timed_out"
)

func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusDone, RunStatusFailed, RunStatusCancelled, RunStatusTimedOut:
		return true
	}
	return false
}

// RunSummary is the persisted header of a pipeline run.
type RunSummary struct {
	ID          string     `json:"id" db:"id"`
	Domain      string     `json:"domain" db:"domain"`
	Status      RunStatus  `json:"status" db:"status"`
	Error       string     `json:"error,omitempty" db:"error"`
	AssetCount  int        `json:"asset_count" db:"asset_count"`
	Dropped     int        `json:"dropped" db:"dropped"`
	MeanRisk    float64    `json:"mean_risk" db:"mean_risk"`
	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// RunReport is everything a completed run produced.
type RunReport struct {
	Summary      RunSummary                      `json:"summary"`
	Assets       []ResolvedAsset                 `json:"assets"`
	Ports        []PortScanResult                `json:"ports"`
	Certificates []CertificateInfo               `json:"ssl_results"`
	Technologies []TechnologyResult              `json:"tech_stack"`
	Features     map[AssetIdentity]FeatureVector `json:"features"`
	Risks        []RiskRecord                    `json:"risk_scores"`
}

// Artifact kinds written for every completed run.
const (
	ArtifactAssets       = "assets"
	ArtifactPorts        = "ports"
	ArtifactCertificates = "ssl_results"
	ArtifactTechnologies = "tech_stack"
	ArtifactFeatures     = "features"
	ArtifactRisks        = "risk_scores"
)

// Artifacts maps each artifact kind to the slice of the report it holds.
func (r *RunReport) Artifacts() map[string]interface{} {
	return map[string]interface{}{
		ArtifactAssets:       r.Assets,
		ArtifactPorts:        r.Ports,
		ArtifactCertificates: r.Certificates,
		ArtifactTechnologies: r.Technologies,
		ArtifactFeatures:     r.Features,
		ArtifactRisks:        r.Risks,
	}
}
