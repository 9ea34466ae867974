// Package store is the PostgreSQL persistence layer. The idempotency
// invariant (at most one triage row per finding and state) is enforced
// here by a composite unique index plus an insert-or-update, never by
// application-level find-then-create alone.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/xerrors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/seclens/vuln-triage/internal/advisory"
)

// enrichmentColumns are the Finding columns enrichment owns. The
// partial update never touches user-owned or triage fields.
var enrichmentColumns = []string{
	"modified_at", "published_at", "cisa_date_added",
	"cwes", "aliases", "references_json", "advisory_url",
	"package_ecosystem", "vulnerable_version_range", "fix_version",
	"fix_automatable", "malicious",
	"confidence_score", "confidence_level", "confidence_rationale",
}

type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open connects, migrates and returns the store.
func Open(dsn string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, xerrors.Errorf("open database: %w", err)
	}
	s := &Store{db: db, log: log}
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing gorm handle (used by tests).
func NewWithDB(db *gorm.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: log}
}

// Tx runs fn against a store bound to one database transaction. An
// error from fn rolls back every write made through that store.
func (s *Store) Tx(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewWithDB(tx, s.log))
	})
}

func (s *Store) Migrate() error {
	err := s.db.AutoMigrate(
		&Finding{}, &Triage{}, &CVERecordCache{}, &IntegrationConfig{}, &UsageLog{},
	)
	if err != nil {
		return xerrors.Errorf("migrate: %w", err)
	}
	return nil
}

// Finding loads one finding by primary key.
func (s *Store) Finding(ctx context.Context, id string) (*Finding, error) {
	var f Finding
	if err := s.db.WithContext(ctx).First(&f, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerrors.Errorf("finding %s: %w", id, err)
		}
		return nil, err
	}
	return &f, nil
}

// UpdateFindingEnrichment writes only the enrichment-owned columns in a
// single update call.
func (s *Store) UpdateFindingEnrichment(ctx context.Context, f *Finding) error {
	return s.db.WithContext(ctx).
		Model(&Finding{ID: f.ID}).
		Select(enrichmentColumns).
		Updates(f).Error
}

// UpdateFindingTimeline persists the recomputed timeline document.
func (s *Store) UpdateFindingTimeline(ctx context.Context, findingID, timelineJSON string) error {
	return s.db.WithContext(ctx).
		Model(&Finding{ID: findingID}).
		Update("timeline_json", timelineJSON).Error
}

// Triages returns every triage row of a finding, oldest first.
func (s *Store) Triages(ctx context.Context, findingID string) ([]Triage, error) {
	var rows []Triage
	err := s.db.WithContext(ctx).
		Where("finding_id = ?", findingID).
		Order("created_at asc").
		Find(&rows).Error
	return rows, err
}

// TriageByState returns the row for (finding, state), or nil.
func (s *Store) TriageByState(ctx context.Context, findingID, state string) (*Triage, error) {
	var t Triage
	err := s.db.WithContext(ctx).
		Where("finding_id = ? AND analysis_state = ?", findingID, state).
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// triageUpdateColumns are the columns refreshed when an upsert hits an
// existing (finding, state) row. CreatedAt and TriagedAt are
// deliberately absent: first-write wins for those. SeenAt is also
// first-write-wins but a finding can be reviewed after the row was
// created, so it joins the update set behind a COALESCE.
var triageUpdateColumns = []string{
	"triage_automated", "seen", "cvss_vector", "cvss_score",
	"epss_score", "epss_percentile", "analysis_detail", "last_observed",
}

// UpsertTriage inserts the row or, on conflict with the unique
// (finding_id, analysis_state) index, updates it in place. A concurrent
// duplicate call therefore converges on one row; the conflict is the
// update path, not an error. Returns whether a new row was created.
func (s *Store) UpsertTriage(ctx context.Context, t *Triage) (bool, error) {
	existing, err := s.TriageByState(ctx, t.FindingID, t.AnalysisState)
	if err != nil {
		return false, err
	}
	set := clause.AssignmentColumns(triageUpdateColumns)
	set = append(set, clause.Assignment{
		Column: clause.Column{Name: "seen_at"},
		Value:  gorm.Expr("COALESCE(triages.seen_at, excluded.seen_at)"),
	})
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "finding_id"}, {Name: "analysis_state"}},
		DoUpdates: set,
	}).Create(t)
	if res.Error != nil {
		return false, xerrors.Errorf("upsert triage %s/%s: %w", t.FindingID, t.AnalysisState, res.Error)
	}
	return existing == nil, nil
}

// FindEnabled implements advisory.IntegrationStore. An organization
// without a row has the source disabled.
func (s *Store) FindEnabled(ctx context.Context, orgID, source string) (bool, error) {
	var cfg IntegrationConfig
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND source = ?", orgID, source).
		First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return cfg.Enabled, nil
}

// SetEnabled toggles a source for an organization.
func (s *Store) SetEnabled(ctx context.Context, orgID, source string, enabled bool) error {
	cfg := IntegrationConfig{OrgID: orgID, Source: source, Enabled: enabled}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "org_id"}, {Name: "source"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled"}),
	}).Create(&cfg).Error
}

// Record implements advisory.UsageSink.
func (s *Store) Record(ctx context.Context, entry advisory.UsageEntry) error {
	response, err := json.Marshal(entry.Response)
	if err != nil {
		response = []byte(`null`)
	}
	row := UsageLog{
		OrgID:        entry.OrgID,
		MemberEmail:  entry.MemberEmail,
		Source:       entry.Source,
		Request:      entry.Request,
		ResponseJSON: string(response),
		StatusCode:   entry.StatusCode,
		Timestamp:    entry.Timestamp,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// FindCVERecord implements advisory.CVECacheStore.
func (s *Store) FindCVERecord(ctx context.Context, cveID string) (*advisory.CVERecord, bool, error) {
	var row CVERecordCache
	err := s.db.WithContext(ctx).First(&row, "cve_id = ?", cveID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec advisory.CVERecord
	if err := json.Unmarshal([]byte(row.DataJSON), &rec); err != nil {
		return nil, false, xerrors.Errorf("decode cached cve %s: %w", cveID, err)
	}
	return &rec, true, nil
}

// SaveCVERecord implements advisory.CVECacheStore. The cache key is
// unique; a concurrent writer's conflict is a no-op, which makes the
// lookup-then-create race benign (worst case one duplicate fetch).
func (s *Store) SaveCVERecord(ctx context.Context, rec *advisory.CVERecord) error {
	data, err := rec.MarshalData()
	if err != nil {
		return err
	}
	row := CVERecordCache{CveID: rec.CveID, DataJSON: data, FetchedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cve_id"}},
		DoNothing: true,
	}).Create(&row).Error
}
