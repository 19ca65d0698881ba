package inventory

import "time"

// Progress checkpoints reported while a sheet is processed.
const (
	ProgressParsed     = 20
	ProgressNormalized = 40
	ProgressValidated  = 60
	ProgressScored     = 80
	ProgressPersisted  = 90
	ProgressDone       = 100
)

// Metadata is job-level context applied to every record of a batch.
// Non-empty values override what the sheet contains.
type Metadata struct {
	AuditID   string `json:"audit_id,omitempty"`
	Proveedor string `json:"proveedor,omitempty"`
}

// ScoredRecord is a normalized record with its validation and quality score.
type ScoredRecord struct {
	Row int `json:"row"`
	NormalizedRecord
	Validation   ValidationResult `json:"validation"`
	QualityScore int              `json:"quality_score"`
}

// RecordValidation is the per-row validation summary.
type RecordValidation struct {
	Row             int               `json:"row"`
	UsuarioID       *string           `json:"usuario_id"`
	Errors          []ValidationError `json:"errors"`
	ValidationScore int               `json:"validation_score"`
}

// JobResult is the cached outcome of one ETL job.
type JobResult struct {
	JobID       string             `json:"job_id"`
	Source      string             `json:"source"`
	Mapping     Binding            `json:"mapping"`
	Records     []ScoredRecord     `json:"records"`
	Statistics  Statistics         `json:"statistics"`
	Validations []RecordValidation `json:"validations"`
	ProcessedAt time.Time          `json:"processed_at"`
}

// Pipeline runs normalize, validate and score over a parsed sheet.
type Pipeline struct {
	mappings []FieldMapping
	rules    Rules
	scoring  Scoring
}

// NewPipeline builds a pipeline. Nil mappings fall back to DefaultMappings.
func NewPipeline(mappings []FieldMapping, rules Rules, scoring Scoring) *Pipeline {
	if mappings == nil {
		mappings = DefaultMappings
	}
	return &Pipeline{mappings: mappings, rules: rules, scoring: scoring}
}

// Run processes every row of sheet. Record-level problems are reported in
// the result, never returned as errors. progress may be nil.
func (p *Pipeline) Run(jobID string, sheet *Sheet, meta Metadata, progress func(int)) *JobResult {
	report := func(pct int) {
		if progress != nil {
			progress(pct)
		}
	}

	norm := NewNormalizer(p.mappings, sheet.Headers)
	records := make([]ScoredRecord, len(sheet.Rows))
	for i, row := range sheet.Rows {
		rec := norm.Normalize(row.Values)
		if meta.AuditID != "" {
			rec.AuditID = text(meta.AuditID)
		}
		if meta.Proveedor != "" {
			rec.Proveedor = text(meta.Proveedor)
		}
		records[i] = ScoredRecord{Row: row.Line, NormalizedRecord: rec}
	}
	report(ProgressNormalized)

	validations := make([]RecordValidation, len(records))
	for i := range records {
		v := p.rules.Validate(records[i].NormalizedRecord)
		records[i].Validation = v
		validations[i] = RecordValidation{
			Row:             records[i].Row,
			UsuarioID:       records[i].UsuarioID,
			Errors:          v.Errors,
			ValidationScore: v.Score,
		}
	}
	report(ProgressValidated)

	for i := range records {
		records[i].QualityScore = p.scoring.Score(records[i].NormalizedRecord, records[i].Validation)
	}
	report(ProgressScored)

	return &JobResult{
		JobID:       jobID,
		Source:      sheet.Source,
		Mapping:     norm.Binding(),
		Records:     records,
		Statistics:  Summarize(records),
		Validations: validations,
		ProcessedAt: time.Now().UTC(),
	}
}
