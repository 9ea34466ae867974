package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "store.db")), &gorm.Config{})
	require.NoError(t, err)
	s := NewWithDB(db, zap.NewNop())
	require.NoError(t, s.Migrate())
	return s
}

const (
	testFindingID = "f0000000-0000-0000-0000-000000000001"
	testOrgID     = "o0000000-0000-0000-0000-000000000001"
)

func seedFinding(t *testing.T, s *Store) {
	t.Helper()
	require.NoError(t, s.db.Create(&Finding{
		ID:             testFindingID,
		OrgID:          testOrgID,
		DetectionTitle: "GHSA-prpj-rchv-9q2w",
		CreatedAt:      time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC),
	}).Error)
}

func TestUpsertTriageIdempotent(t *testing.T) {
	s := newTestStore(t)
	seedFinding(t, s)
	ctx := context.Background()

	row := &Triage{
		ID:            "t0000000-0000-0000-0000-000000000001",
		FindingID:     testFindingID,
		AnalysisState: "exploitable",
		CreatedAt:     time.Now().UTC(),
		LastObserved:  time.Now().UTC(),
	}
	created, err := s.UpsertTriage(ctx, row)
	require.NoError(t, err)
	assert.True(t, created)

	row.ID = "t0000000-0000-0000-0000-000000000002"
	created, err = s.UpsertTriage(ctx, row)
	require.NoError(t, err)
	assert.False(t, created)

	rows, err := s.Triages(ctx, testFindingID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestUpsertTriageSeenAtSetOnLaterUpsert(t *testing.T) {
	s := newTestStore(t)
	seedFinding(t, s)
	ctx := context.Background()
	created := time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC)

	// Row first exists unreviewed.
	_, err := s.UpsertTriage(ctx, &Triage{
		ID:            "t0000000-0000-0000-0000-000000000001",
		FindingID:     testFindingID,
		AnalysisState: "in_triage",
		CreatedAt:     created,
		LastObserved:  created,
	})
	require.NoError(t, err)

	// A later enrichment marks it seen; the conflict path must persist
	// seenAt, not just the flag.
	seenAt := created.Add(24 * time.Hour)
	_, err = s.UpsertTriage(ctx, &Triage{
		ID:            "t0000000-0000-0000-0000-000000000002",
		FindingID:     testFindingID,
		AnalysisState: "in_triage",
		Seen:          true,
		SeenAt:        &seenAt,
		CreatedAt:     created,
		LastObserved:  seenAt,
	})
	require.NoError(t, err)

	got, err := s.TriageByState(ctx, testFindingID, "in_triage")
	require.NoError(t, err)
	assert.True(t, got.Seen)
	require.NotNil(t, got.SeenAt)
	assert.Equal(t, seenAt.UnixMilli(), got.SeenAt.UnixMilli())

	// First write wins: an even later seenAt never overwrites it.
	later := seenAt.Add(48 * time.Hour)
	_, err = s.UpsertTriage(ctx, &Triage{
		ID:            "t0000000-0000-0000-0000-000000000003",
		FindingID:     testFindingID,
		AnalysisState: "in_triage",
		Seen:          true,
		SeenAt:        &later,
		CreatedAt:     created,
		LastObserved:  later,
	})
	require.NoError(t, err)

	got, err = s.TriageByState(ctx, testFindingID, "in_triage")
	require.NoError(t, err)
	require.NotNil(t, got.SeenAt)
	assert.Equal(t, seenAt.UnixMilli(), got.SeenAt.UnixMilli())
}

func TestTxRollsBackAllWrites(t *testing.T) {
	s := newTestStore(t)
	seedFinding(t, s)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Tx(ctx, func(tx *Store) error {
		f, err := tx.Finding(ctx, testFindingID)
		if err != nil {
			return err
		}
		f.AdvisoryURL = "https://osv.dev/vulnerability/GHSA-prpj-rchv-9q2w"
		f.ConfidenceLevel = "High"
		if err := tx.UpdateFindingEnrichment(ctx, f); err != nil {
			return err
		}
		if _, err := tx.UpsertTriage(ctx, &Triage{
			ID:            "t0000000-0000-0000-0000-000000000001",
			FindingID:     testFindingID,
			AnalysisState: "exploitable",
			CreatedAt:     time.Now().UTC(),
			LastObserved:  time.Now().UTC(),
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	f, err := s.Finding(ctx, testFindingID)
	require.NoError(t, err)
	assert.Empty(t, f.AdvisoryURL)
	assert.Empty(t, f.ConfidenceLevel)

	rows, err := s.Triages(ctx, testFindingID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestIntegrationToggle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	enabled, err := s.FindEnabled(ctx, testOrgID, "osv.dev")
	require.NoError(t, err)
	assert.False(t, enabled) // absent row means disabled

	require.NoError(t, s.SetEnabled(ctx, testOrgID, "osv.dev", true))
	enabled, err = s.FindEnabled(ctx, testOrgID, "osv.dev")
	require.NoError(t, err)
	assert.True(t, enabled)

	require.NoError(t, s.SetEnabled(ctx, testOrgID, "osv.dev", false))
	enabled, err = s.FindEnabled(ctx, testOrgID, "osv.dev")
	require.NoError(t, err)
	assert.False(t, enabled)
}
