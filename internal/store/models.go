package store

import (
	"time"
)

// Finding is a detected vulnerability instance for a package within an
// organization. Enrichment owns the derived fields; triage dispositions
// live in Triage rows; deletion is a CRUD concern outside this core.
type Finding struct {
	ID    string `json:"uuid" gorm:"primaryKey;type:uuid"`
	OrgID string `json:"orgId" gorm:"type:uuid;index;not null"`

	DetectionTitle   string `json:"detectionTitle" gorm:"index;not null"`
	PackageName      string `json:"packageName"`
	PackageVersion   string `json:"packageVersion"`
	PackageEcosystem string `json:"packageEcosystem"`
	PackageLicense   string `json:"packageLicense"`
	Source           string `json:"source"`   // osv.dev, upload
	Category         string `json:"category"` // sca, sast

	CreatedAt     time.Time  `json:"createdAt"`
	ModifiedAt    time.Time  `json:"modifiedAt"`
	PublishedAt   *time.Time `json:"publishedAt"`
	CisaDateAdded *time.Time `json:"cisaDateAdded"`

	Cwes                   string `json:"-" gorm:"type:text"` // JSON array
	Aliases                string `json:"-" gorm:"type:text"` // JSON array
	ReferencesJSON         string `json:"-" gorm:"type:text"`
	ExploitsJSON           string `json:"-" gorm:"type:text"`
	AdvisoryURL            string `json:"advisoryUrl"`
	VulnerableVersionRange string `json:"vulnerableVersionRange"`
	FixVersion             string `json:"fixVersion"`
	FixAutomatable         *bool  `json:"fixAutomatable"`
	Malicious              *bool  `json:"malicious"`

	ConfidenceScore     float64 `json:"confidenceScore"`
	ConfidenceLevel     string  `json:"confidenceLevel"`
	ConfidenceRationale string  `json:"-" gorm:"type:text"` // JSON array
	TimelineJSON        string  `json:"-" gorm:"type:text"`
}

func (Finding) TableName() string { return "findings" }

// Triage is the VEX disposition of a finding in one analysis state. At
// most one row exists per (finding, state); the composite unique index
// backs the idempotent upsert.
type Triage struct {
	ID            string `json:"uuid" gorm:"primaryKey;type:uuid"`
	FindingID     string `json:"findingUuid" gorm:"type:uuid;not null;uniqueIndex:idx_triage_finding_state"`
	AnalysisState string `json:"analysisState" gorm:"not null;uniqueIndex:idx_triage_finding_state"`

	TriageAutomated bool       `json:"triageAutomated"`
	TriagedAt       *time.Time `json:"triagedAt"`
	Seen            bool       `json:"seen"`
	SeenAt          *time.Time `json:"seenAt"`

	// CVSS and EPSS scores are persisted as decimal text on purpose,
	// so values survive storage round-trips without float drift.
	CvssVector     string `json:"cvssVector"`
	CvssScore      string `json:"cvssScore"`
	EpssScore      string `json:"epssScore"`
	EpssPercentile string `json:"epssPercentile"`

	AnalysisDetail string    `json:"analysisDetail" gorm:"type:text"`
	CreatedAt      time.Time `json:"createdAt"`
	LastObserved   time.Time `json:"lastObserved"`
}

func (Triage) TableName() string { return "triages" }

// CVERecordCache holds one normalized MITRE CVE record per id. The raw
// upstream document lives in the blob store; this row carries the
// normalized form so repeat enrichments skip the network entirely.
type CVERecordCache struct {
	CveID     string    `gorm:"primaryKey;type:varchar(32)"`
	DataJSON  string    `gorm:"type:text;not null"`
	FetchedAt time.Time `gorm:"not null"`
}

func (CVERecordCache) TableName() string { return "cve_record_cache" }

// IntegrationConfig is the per-organization toggle for one advisory
// source.
type IntegrationConfig struct {
	ID      uint   `gorm:"primaryKey"`
	OrgID   string `gorm:"type:uuid;not null;uniqueIndex:idx_integration_org_source"`
	Source  string `gorm:"not null;uniqueIndex:idx_integration_org_source"`
	Enabled bool   `gorm:"not null"`
}

func (IntegrationConfig) TableName() string { return "integration_configs" }

// UsageLog is the append-only audit trail of outbound advisory calls.
type UsageLog struct {
	ID           uint   `gorm:"primaryKey"`
	OrgID        string `gorm:"type:uuid;index"`
	MemberEmail  string
	Source       string
	Request      string    `gorm:"type:text"`
	ResponseJSON string    `gorm:"type:text"`
	StatusCode   int
	Timestamp    time.Time `gorm:"index"`
}

func (UsageLog) TableName() string { return "usage_logs" }
