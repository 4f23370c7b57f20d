package model

import "time"

// EventSource identifies where a timeline entry originated.
type EventSource string

const (
	SourceOfficialProvider EventSource = "official_provider"
	SourceDocumentUpload   EventSource = "document_upload"
	SourceManualEntry      EventSource = "manual_entry"
	SourceSystemImport     EventSource = "system_import"
	SourceAIExtraction     EventSource = "ai_extraction"
)

// EntryRelation links an entry to a base entry across sources.
type EntryRelation string

const (
	RelationDuplicate  EntryRelation = "duplicate"
	RelationEnrichment EntryRelation = "enrichment"
	RelationRelated    EntryRelation = "related"
	RelationConflict   EntryRelation = "conflict"
)

// TimelineEntry is one dated, sourced event in a case's unified chronology.
// Seq preserves insertion order and is the tie-break for same-date entries.
type TimelineEntry struct {
	ID              string        `json:"id"`
	CaseID          string        `json:"case_id"`
	EventDate       time.Time     `json:"event_date"`
	EventType       string        `json:"event_type"`
	Description     string        `json:"description"`
	Source          EventSource   `json:"source"`
	Confidence      float64       `json:"confidence"`
	EnrichedAt      *time.Time    `json:"enriched_at,omitempty"`
	EnrichmentModel string        `json:"enrichment_model,omitempty"`
	Contributing    []EventSource `json:"contributing_sources,omitempty"`
	SourceSnippets  []string      `json:"source_snippets,omitempty"`
	Conflict        bool          `json:"conflict,omitempty"`
	BaseEntryID     string        `json:"base_entry_id,omitempty"`
	Relation        EntryRelation `json:"relation,omitempty"`
	DocumentIDs     []string      `json:"document_ids,omitempty"`
	Meta            SourceMeta    `json:"meta,omitzero"`
	Seq             int64         `json:"-"`
	CreatedAt       time.Time     `json:"created_at"`
}

// SourceMeta is per-source presentation metadata attached to reconciled
// entries for API consumers.
type SourceMeta struct {
	Icon        string `json:"icon"`
	DisplayName string `json:"display_name"`
	Badge       string `json:"badge"`
}

var sourceMeta = map[EventSource]SourceMeta{
	SourceOfficialProvider: {Icon: "gavel", DisplayName: "Tribunal", Badge: "official"},
	SourceDocumentUpload:   {Icon: "file-text", DisplayName: "Documento", Badge: "document"},
	SourceManualEntry:      {Icon: "pencil", DisplayName: "Manual", Badge: "manual"},
	SourceSystemImport:     {Icon: "database", DisplayName: "Importado", Badge: "import"},
	SourceAIExtraction:     {Icon: "sparkles", DisplayName: "IA", Badge: "ai"},
}

// MetaForSource returns presentation metadata for a source, with a generic
// fallback for sources this build does not know about.
func MetaForSource(s EventSource) SourceMeta {
	if m, ok := sourceMeta[s]; ok {
		return m
	}
	return SourceMeta{Icon: "circle", DisplayName: string(s), Badge: "other"}
}

// TimelineStats aggregates a reconciled timeline.
type TimelineStats struct {
	Total          int                 `json:"total"`
	BySource       map[EventSource]int `json:"by_source"`
	Earliest       *time.Time          `json:"earliest,omitempty"`
	Latest         *time.Time          `json:"latest,omitempty"`
	MeanConfidence float64             `json:"mean_confidence"`
}

// Timeline is the reconciled, chronologically ordered view of a case.
type Timeline struct {
	CaseID  string          `json:"case_id"`
	Entries []TimelineEntry `json:"entries"`
	Stats   TimelineStats   `json:"stats"`
}
