// Package enrich composes the advisory clients, the CVSS resolver, the
// confidence model, the triage state machine and the timeline
// reconciler against a single finding.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seclens/vuln-triage/internal/advisory"
	"github.com/seclens/vuln-triage/internal/confidence"
	"github.com/seclens/vuln-triage/internal/cvss"
	"github.com/seclens/vuln-triage/internal/store"
	"github.com/seclens/vuln-triage/internal/timeline"
	"github.com/seclens/vuln-triage/internal/triage"
)

// Store is the persistence surface enrichment needs. NewStore adapts
// the gorm-backed store to it; tests use in-memory fakes.
type Store interface {
	Finding(ctx context.Context, id string) (*store.Finding, error)
	UpdateFindingEnrichment(ctx context.Context, f *store.Finding) error
	UpdateFindingTimeline(ctx context.Context, findingID, timelineJSON string) error
	Triages(ctx context.Context, findingID string) ([]store.Triage, error)
	TriageByState(ctx context.Context, findingID, state string) (*store.Triage, error)
	UpsertTriage(ctx context.Context, t *store.Triage) (bool, error)
	// Tx runs fn atomically: either every write inside commits, or none.
	Tx(ctx context.Context, fn func(tx Store) error) error
}

// Enricher is the single entry point for finding enrichment.
type Enricher struct {
	OSV   *advisory.OSVClient
	EPSS  *advisory.EPSSClient
	Mitre *advisory.MitreClient
	Store Store
	Log   *zap.Logger

	// BOMPublishDates optionally supplies publish dates of the BOMs the
	// finding was ingested from, for the timeline.
	BOMPublishDates func(ctx context.Context, findingID string) ([]time.Time, error)

	// Now is swappable for tests.
	Now func() time.Time
}

// ExpandedFinding is the fully expanded return value: persisted JSON
// columns parsed back into structured form, plus the triage rows.
type ExpandedFinding struct {
	store.Finding
	Aliases             []string             `json:"aliases"`
	Cwes                []string             `json:"cwes"`
	References          []advisory.Reference `json:"references"`
	ConfidenceRationale []string             `json:"confidenceRationale"`
	Timeline            []timeline.Event     `json:"timeline"`
	Triage              []store.Triage       `json:"triage"`
}

func (e *Enricher) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// Enrich runs the full pipeline for one finding. All external queries
// complete before anything is persisted, so a failing call leaves the
// finding and its triage rows untouched. Repeated calls with identical
// upstream responses converge on identical state.
func (e *Enricher) Enrich(ctx context.Context, id advisory.Identity, findingID string, seen bool) (*ExpandedFinding, error) {
	f, err := e.Store.Finding(ctx, findingID)
	if err != nil {
		return nil, err
	}
	now := e.now()

	rec, err := e.OSV.Query(ctx, id, f.DetectionTitle)
	if err != nil {
		return nil, fmt.Errorf("advisory for %s: %w", f.DetectionTitle, err)
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("advisory for %s: %v: %w", f.DetectionTitle, err, advisory.ErrMalformedAdvisory)
	}

	cveID := resolveCVE(f.DetectionTitle, rec)
	var cveRec *advisory.CVERecord
	if cveID != "" {
		cveRec, err = e.Mitre.Query(ctx, id, cveID)
		if err != nil {
			return nil, fmt.Errorf("cve record for %s: %w", cveID, err)
		}
	}

	var epss *advisory.EPSSScore
	if cveID != "" {
		epss, err = e.EPSS.Query(ctx, id, cveID)
		if err != nil {
			return nil, fmt.Errorf("epss for %s: %w", cveID, err)
		}
	}

	applyAdvisory(f, rec, cveID)
	applyCVERecord(f, cveRec)

	// CVE-record metrics outrank the advisory's own severity list.
	candidates := cvss.CandidatesFromCVE(cveRec)
	if len(candidates) == 0 {
		candidates = cvss.CandidatesFromAdvisory(rec)
	}
	resolved, hasVector := cvss.Resolve(candidates)

	conf := confidence.Evaluate(confidence.Snapshot{
		DetectionTitle:   f.DetectionTitle,
		DatabaseReviewed: rec.DatabaseReviewed,
		CisaDateAdded:    f.CisaDateAdded,
		ReferenceCount:   len(rec.References),
		ExploitCount:     exploitCount(f),
		PackageVersion:   f.PackageVersion,
		FixVersion:       f.FixVersion,
	})
	f.ConfidenceScore = conf.Score
	f.ConfidenceLevel = conf.Level
	f.ConfidenceRationale = mustJSON(conf.Rationales)

	bomDates := e.bomDates(ctx, findingID)

	// External work is done; persistence happens in one transaction so a
	// failed write leaves neither a half-enriched finding nor a finding
	// without its triage row.
	var decision triage.Decision
	err = e.Store.Tx(ctx, func(tx Store) error {
		if err := tx.UpdateFindingEnrichment(ctx, f); err != nil {
			return err
		}

		existing, err := tx.Triages(ctx, findingID)
		if err != nil {
			return err
		}
		decision = triage.Decide(triage.Input{
			PriorState:     priorState(existing),
			KnownExploits:  exploitCount(f),
			CvssVector:     resolved.Vector,
			EpssPercentile: epssPercentile(epss),
			HasEpss:        epss != nil,
		})

		row, err := e.buildTriageRow(ctx, tx, f, decision, resolved, hasVector, epss, seen, now)
		if err != nil {
			return err
		}

		preEvents := e.collectEvents(f, cveRec, existing, bomDates, now)
		encoded, err := timeline.Encode(timeline.Merge(preEvents...))
		if err != nil {
			return err
		}
		if err := tx.UpdateFindingTimeline(ctx, findingID, encoded); err != nil {
			return err
		}
		f.TimelineJSON = encoded

		created, err := tx.UpsertTriage(ctx, row)
		if err != nil {
			return err
		}
		if created {
			// Include the brand-new row's own timestamps.
			events := append(preEvents, triageEvents(*row))
			encoded, err = timeline.Encode(timeline.Merge(events...))
			if err != nil {
				return err
			}
			if err := tx.UpdateFindingTimeline(ctx, findingID, encoded); err != nil {
				return err
			}
			f.TimelineJSON = encoded
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.Log.Info("finding enriched",
		zap.String("finding_id", findingID),
		zap.String("state", string(decision.State)),
		zap.Bool("automated", decision.Automated),
		zap.Float64("confidence", conf.Score),
	)
	return e.expand(ctx, f)
}

// buildTriageRow loads or creates the row for the resulting state and
// refreshes its scoring fields. TriagedAt and SeenAt are first-write
// only.
func (e *Enricher) buildTriageRow(ctx context.Context, tx Store, f *store.Finding, decision triage.Decision, resolved cvss.Resolved, hasVector bool, epss *advisory.EPSSScore, seen bool, now time.Time) (*store.Triage, error) {
	row, err := tx.TriageByState(ctx, f.ID, string(decision.State))
	if err != nil {
		return nil, err
	}
	if row == nil {
		row = &store.Triage{
			ID:            uuid.NewString(),
			FindingID:     f.ID,
			AnalysisState: string(decision.State),
			CreatedAt:     now,
		}
	}
	row.TriageAutomated = decision.Automated
	if decision.Detail != "" {
		row.AnalysisDetail = decision.Detail
	}
	if hasVector {
		row.CvssVector = resolved.Vector
		row.CvssScore = resolved.ScoreString
	}
	if epss != nil {
		row.EpssScore = epss.EPSS
		row.EpssPercentile = epss.Percentile
	}
	if decision.State == triage.StateExploitable && row.TriagedAt == nil {
		t := now
		row.TriagedAt = &t
	}
	if seen && row.SeenAt == nil {
		t := now
		row.Seen = true
		row.SeenAt = &t
	}
	row.LastObserved = now
	return row, nil
}

func (e *Enricher) bomDates(ctx context.Context, findingID string) []time.Time {
	if e.BOMPublishDates == nil {
		return nil
	}
	dates, err := e.BOMPublishDates(ctx, findingID)
	if err != nil {
		e.Log.Warn("bom publish dates unavailable", zap.String("finding_id", findingID), zap.Error(err))
		return nil
	}
	return dates
}

// collectEvents gathers every timeline source except the row currently
// being upserted.
func (e *Enricher) collectEvents(f *store.Finding, cveRec *advisory.CVERecord, existing []store.Triage, bomDates []time.Time, now time.Time) [][]timeline.Event {
	base := []timeline.Event{
		{Value: timeline.LabelFirstDiscovered, Time: timeline.At(f.CreatedAt)},
		{Value: timeline.LabelLastSynchronized, Time: timeline.At(now)},
	}
	if f.PublishedAt != nil {
		base = append(base, timeline.Event{
			Value: timeline.LabelAdvisoryPublished,
			Time:  timeline.At(*f.PublishedAt) + timeline.PublishOffsetMillis,
		})
	}
	if f.CisaDateAdded != nil {
		base = append(base, timeline.Event{Value: timeline.LabelCisaAdded, Time: timeline.At(*f.CisaDateAdded)})
	}
	for _, d := range bomDates {
		base = append(base, timeline.Event{Value: timeline.LabelBomPublished, Time: timeline.At(d)})
	}
	groups := [][]timeline.Event{base}
	for _, t := range existing {
		groups = append(groups, triageEvents(t))
	}
	if cveRec != nil {
		var upstream []timeline.Event
		for _, entry := range cveRec.Timeline {
			upstream = append(upstream, timeline.Event{Value: entry.Value, Time: timeline.At(entry.Time)})
		}
		groups = append(groups, upstream)
	}
	return groups
}

func triageEvents(t store.Triage) []timeline.Event {
	events := []timeline.Event{
		{Value: fmt.Sprintf("Last observed in %s", t.AnalysisState), Time: timeline.At(t.LastObserved)},
	}
	if t.TriagedAt != nil {
		events = append(events, timeline.Event{
			Value: fmt.Sprintf("Triaged as %s", t.AnalysisState),
			Time:  timeline.At(*t.TriagedAt),
		})
	}
	if t.SeenAt != nil {
		events = append(events, timeline.Event{Value: timeline.LabelFirstReviewed, Time: timeline.At(*t.SeenAt)})
	}
	return events
}

// expand parses the persisted JSON columns back into structured values.
func (e *Enricher) expand(ctx context.Context, f *store.Finding) (*ExpandedFinding, error) {
	out := &ExpandedFinding{Finding: *f}
	_ = json.Unmarshal([]byte(f.Aliases), &out.Aliases)
	_ = json.Unmarshal([]byte(f.Cwes), &out.Cwes)
	_ = json.Unmarshal([]byte(f.ReferencesJSON), &out.References)
	_ = json.Unmarshal([]byte(f.ConfidenceRationale), &out.ConfidenceRationale)
	events, err := timeline.Decode(f.TimelineJSON)
	if err != nil {
		return nil, err
	}
	out.Timeline = events
	rows, err := e.Store.Triages(ctx, f.ID)
	if err != nil {
		return nil, err
	}
	out.Triage = rows
	return out, nil
}

// resolveCVE picks the CVE id from the detection title or the advisory
// aliases.
func resolveCVE(detectionTitle string, rec *advisory.Record) string {
	if strings.HasPrefix(detectionTitle, "CVE-") {
		return detectionTitle
	}
	return rec.CVE()
}

// applyAdvisory writes the OSV-derived fields onto the finding.
func applyAdvisory(f *store.Finding, rec *advisory.Record, cveID string) {
	if !rec.Modified.IsZero() {
		f.ModifiedAt = rec.Modified
	}
	if !rec.Published.IsZero() {
		t := rec.Published
		f.PublishedAt = &t
	}

	aliases := make([]string, 0, len(rec.Aliases))
	for _, a := range rec.Aliases {
		if a == cveID {
			continue
		}
		aliases = append(aliases, a)
	}
	f.Aliases = mustJSON(aliases)
	f.Cwes = mustJSON(rec.CweIDs)
	f.ReferencesJSON = mustJSON(rec.References)
	f.AdvisoryURL = rec.AdvisoryURL()

	if f.PackageEcosystem == "" {
		for _, aff := range rec.Affected {
			if aff.Ecosystem != "" {
				f.PackageEcosystem = aff.Ecosystem
				break
			}
		}
	}

	ranges, fixes, allFixed := versionRanges(f.PackageName, rec)
	f.VulnerableVersionRange = strings.Join(ranges, "||")
	f.FixVersion = strings.Join(fixes, "||")
	automatable := allFixed && len(ranges) > 0
	f.FixAutomatable = &automatable

	malicious := rec.Malicious() || strings.HasPrefix(f.DetectionTitle, advisory.MaliciousPrefix)
	f.Malicious = &malicious
}

// applyCVERecord overlays CVE-record metadata, which takes precedence
// over OSV-derived equivalents.
func applyCVERecord(f *store.Finding, rec *advisory.CVERecord) {
	if rec == nil {
		return
	}
	if !rec.Modified.IsZero() {
		f.ModifiedAt = rec.Modified
	}
	if !rec.Published.IsZero() {
		t := rec.Published
		f.PublishedAt = &t
	}
	if rec.CisaDateAdded != nil {
		f.CisaDateAdded = rec.CisaDateAdded
	}
}

// versionRanges renders one range string per affected range of the
// finding's package (all packages when none matches by name), plus the
// fixed versions, and whether every range carries a fix.
func versionRanges(packageName string, rec *advisory.Record) (ranges, fixes []string, allFixed bool) {
	affected := rec.Affected
	var matched []advisory.AffectedPackage
	for _, aff := range affected {
		if aff.Name == packageName {
			matched = append(matched, aff)
		}
	}
	if len(matched) > 0 {
		affected = matched
	}
	allFixed = true
	for _, aff := range affected {
		for _, vr := range aff.Ranges {
			var introduced, fixed, last string
			for _, ev := range vr.Events {
				switch {
				case ev.Introduced != "":
					introduced = ev.Introduced
				case ev.Fixed != "":
					fixed = ev.Fixed
				case ev.LastAffected != "":
					last = ev.LastAffected
				}
			}
			var b strings.Builder
			if introduced != "" && introduced != "0" {
				b.WriteString(">=" + introduced)
			}
			switch {
			case fixed != "":
				if b.Len() > 0 {
					b.WriteString(" ")
				}
				b.WriteString("<" + fixed)
				fixes = append(fixes, fixed)
			case last != "":
				if b.Len() > 0 {
					b.WriteString(" ")
				}
				b.WriteString("<=" + last)
				allFixed = false
			default:
				allFixed = false
			}
			if b.Len() > 0 {
				ranges = append(ranges, b.String())
			}
		}
	}
	if len(ranges) == 0 {
		allFixed = false
	}
	return ranges, fixes, allFixed
}

func priorState(rows []store.Triage) triage.State {
	if len(rows) == 0 {
		return triage.StateInTriage
	}
	latest := rows[0]
	for _, r := range rows[1:] {
		if r.LastObserved.After(latest.LastObserved) {
			latest = r
		}
	}
	return triage.State(latest.AnalysisState)
}

func epssPercentile(s *advisory.EPSSScore) float64 {
	if s == nil {
		return 0
	}
	return s.PercentileValue
}

func exploitCount(f *store.Finding) int {
	if strings.TrimSpace(f.ExploitsJSON) == "" {
		return 0
	}
	var exploits []json.RawMessage
	if err := json.Unmarshal([]byte(f.ExploitsJSON), &exploits); err != nil {
		return 0
	}
	return len(exploits)
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(data)
}
