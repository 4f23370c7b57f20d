package enrich

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jusbridge/casesync/internal/model"
	"github.com/jusbridge/casesync/internal/store"
	"github.com/jusbridge/casesync/pkg/judit"
)

// documentConfidence is the fixed score assigned to entries synthesized from
// uploaded documents: trusted, but below the official docket.
const documentConfidence = 0.8

// defaultEventType labels docket steps the provider did not type.
const defaultEventType = "andamento"

// Reconciler produces the unified case timeline: stored entries from every
// source plus case documents projected as synthetic entries, deduplicated
// and chronologically ordered.
type Reconciler struct {
	store     store.Store
	describer *Describer
}

// NewReconciler creates a Reconciler. describer may be nil.
func NewReconciler(st store.Store, describer *Describer) *Reconciler {
	return &Reconciler{store: st, describer: describer}
}

// MergeLawsuit converts a provider lawsuit's docket steps into timeline
// entries and persists them. The store drops entries that collide on
// (case, day, type, source), so replaying the same lawsuit is a no-op; the
// returned count is the number of genuinely new entries.
func (r *Reconciler) MergeLawsuit(ctx context.Context, caseID string, ls *judit.Lawsuit) (int, error) {
	entries := make([]model.TimelineEntry, 0, len(ls.Steps))
	for _, step := range ls.Steps {
		date, ok := parseStepDate(step.StepDate)
		if !ok {
			zap.L().Warn("skipping docket step with unparseable date",
				zap.String("case_id", caseID),
				zap.String("step_date", step.StepDate),
			)
			continue
		}
		eventType := step.StepType
		if eventType == "" {
			eventType = defaultEventType
		}
		entries = append(entries, model.TimelineEntry{
			CaseID:      caseID,
			EventDate:   date,
			EventType:   eventType,
			Description: step.Content,
			Source:      model.SourceOfficialProvider,
			Confidence:  1.0,
		})
	}

	inserted, err := r.store.InsertTimelineEntries(ctx, entries)
	if err != nil {
		return inserted, eris.Wrap(err, "enrich: merge lawsuit steps")
	}
	return inserted, nil
}

var stepDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"02/01/2006",
}

func parseStepDate(s string) (time.Time, bool) {
	for _, layout := range stepDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// BuildTimeline assembles the reconciled view for a case. It is a projection
// over stored entries and documents: running it twice with unchanged inputs
// yields an equivalent timeline. The only side effect is the optional
// AI merge of cross-source collisions, which is guarded so each entry is
// enriched at most once.
func (r *Reconciler) BuildTimeline(ctx context.Context, caseID string) (*model.Timeline, error) {
	stored, err := r.store.ListTimelineEntries(ctx, caseID)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: list timeline entries")
	}
	docs, err := r.store.ListDocuments(ctx, caseID)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: list documents")
	}

	candidates := make([]model.TimelineEntry, 0, len(stored)+len(docs))
	candidates = append(candidates, stored...)
	for _, doc := range docs {
		candidates = append(candidates, documentEntry(doc))
	}

	entries := r.dedupe(ctx, candidates)

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].EventDate.Before(entries[j].EventDate)
	})
	for i := range entries {
		entries[i].Meta = model.MetaForSource(entries[i].Source)
	}

	return &model.Timeline{
		CaseID:  caseID,
		Entries: entries,
		Stats:   computeStats(entries),
	}, nil
}

// documentEntry projects an uploaded document as a synthetic timeline entry,
// dated by its document date when known, upload time otherwise.
func documentEntry(doc model.CaseDocument) model.TimelineEntry {
	date := doc.UploadedAt
	if doc.DocumentDate != nil {
		date = *doc.DocumentDate
	}
	return model.TimelineEntry{
		CaseID:      doc.CaseID,
		EventDate:   date,
		EventType:   "document",
		Description: doc.Name,
		Source:      model.SourceDocumentUpload,
		Confidence:  documentConfidence,
		DocumentIDs: []string{doc.ID},
	}
}

type dayTypeKey struct {
	day       string
	eventType string
}

// dedupe removes near-duplicates keyed by (day, type), first seen wins.
// When a dropped entry came from a different source, the survivor records
// the contribution and keeps the dropped text as an audit snippet; if a
// describer is configured, the survivor's description is merged once.
func (r *Reconciler) dedupe(ctx context.Context, candidates []model.TimelineEntry) []model.TimelineEntry {
	entries := make([]model.TimelineEntry, 0, len(candidates))
	index := make(map[dayTypeKey]int, len(candidates))
	collided := make(map[dayTypeKey]bool)

	for _, e := range candidates {
		key := dayTypeKey{day: e.EventDate.UTC().Format("2006-01-02"), eventType: e.EventType}
		i, seen := index[key]
		if !seen {
			index[key] = len(entries)
			entries = append(entries, e)
			continue
		}

		survivor := &entries[i]
		if e.Source != survivor.Source {
			if len(survivor.Contributing) == 0 {
				survivor.Contributing = []model.EventSource{survivor.Source}
			}
			if !containsSource(survivor.Contributing, e.Source) {
				survivor.Contributing = append(survivor.Contributing, e.Source)
			}
			if e.Description != "" && !containsString(survivor.SourceSnippets, e.Description) {
				survivor.SourceSnippets = append(survivor.SourceSnippets, e.Description)
			}
			collided[key] = true
		}
		survivor.DocumentIDs = append(survivor.DocumentIDs, e.DocumentIDs...)
	}

	if r.describer != nil {
		for key := range collided {
			r.enrichEntry(ctx, &entries[index[key]], key)
		}
	}
	return entries
}

// enrichEntry merges the survivor's description with its audit snippets via
// the describer and persists the result. Persisted entries are enriched at
// most once (the store refuses a second write); synthetic entries have no
// row to update and are enriched in-memory only for this projection.
func (r *Reconciler) enrichEntry(ctx context.Context, e *model.TimelineEntry, key dayTypeKey) {
	if e.EnrichedAt != nil {
		return
	}

	texts := make([]string, 0, 1+len(e.SourceSnippets))
	if e.Description != "" {
		texts = append(texts, e.Description)
	}
	texts = append(texts, e.SourceSnippets...)
	if len(texts) < 2 {
		return
	}

	merged, err := r.describer.MergeDescriptions(ctx, key.eventType, key.day, texts)
	if err != nil {
		zap.L().Warn("timeline enrichment failed",
			zap.String("case_id", e.CaseID),
			zap.String("event_type", key.eventType),
			zap.Error(err),
		)
		return
	}

	now := time.Now().UTC()
	if e.ID != "" {
		err = r.store.EnrichTimelineEntry(ctx, e.ID, merged, r.describer.Model(),
			e.Contributing, e.SourceSnippets, now)
		if err != nil {
			zap.L().Warn("persisting enriched entry failed",
				zap.String("entry_id", e.ID),
				zap.Error(err),
			)
			return
		}
	}
	e.Description = merged
	e.EnrichmentModel = r.describer.Model()
	e.EnrichedAt = &now
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsSource(sources []model.EventSource, s model.EventSource) bool {
	for _, src := range sources {
		if src == s {
			return true
		}
	}
	return false
}

func computeStats(entries []model.TimelineEntry) model.TimelineStats {
	stats := model.TimelineStats{
		Total:    len(entries),
		BySource: make(map[model.EventSource]int),
	}
	if len(entries) == 0 {
		return stats
	}

	var confidenceSum float64
	earliest, latest := entries[0].EventDate, entries[0].EventDate
	for _, e := range entries {
		stats.BySource[e.Source]++
		confidenceSum += e.Confidence
		if e.EventDate.Before(earliest) {
			earliest = e.EventDate
		}
		if e.EventDate.After(latest) {
			latest = e.EventDate
		}
	}
	stats.Earliest = &earliest
	stats.Latest = &latest
	stats.MeanConfidence = math.Round(confidenceSum/float64(len(entries))*100) / 100
	return stats
}
