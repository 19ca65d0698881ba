package inventory

import "math"

// Scoring weights completeness against validation. The defaults split 50/50.
type Scoring struct {
	CompletenessWeight float64  `mapstructure:"completeness_weight"`
	ValidationWeight   float64  `mapstructure:"validation_weight"`
	RequiredFields     []string `mapstructure:"required_fields"`
}

// DefaultRequiredFields are the fields counted for completeness.
var DefaultRequiredFields = []string{
	FieldAuditID,
	FieldProveedor,
	FieldSitio,
	FieldAtencion,
	FieldUsuarioID,
	FieldCPUBrand,
	FieldCPUModel,
	FieldCPUSpeedGHz,
	FieldRAMGB,
	FieldDiskType,
	FieldDiskCapacityGB,
	FieldOSName,
}

func DefaultScoring() Scoring {
	return Scoring{
		CompletenessWeight: 50,
		ValidationWeight:   50,
		RequiredFields:     append([]string(nil), DefaultRequiredFields...),
	}
}

// Completeness is the weighted share of required fields that are populated.
func (s Scoring) Completeness(rec NormalizedRecord) float64 {
	if len(s.RequiredFields) == 0 {
		return s.CompletenessWeight
	}
	populated := 0
	for _, f := range s.RequiredFields {
		if rec.Populated(f) {
			populated++
		}
	}
	return float64(populated) / float64(len(s.RequiredFields)) * s.CompletenessWeight
}

// Score combines completeness and validation into a quality score in [0,100].
func (s Scoring) Score(rec NormalizedRecord, v ValidationResult) int {
	q := math.Round(s.Completeness(rec) + float64(v.Score)/100*s.ValidationWeight)
	switch {
	case q < 0:
		return 0
	case q > 100:
		return 100
	}
	return int(q)
}

// Statistics summarises one processed batch.
type Statistics struct {
	Total       int     `json:"total"`
	Valid       int     `json:"valid"`
	Invalid     int     `json:"invalid"`
	AvgScore    float64 `json:"avg_score"`
	SuccessRate float64 `json:"success_rate"`
}

// Summarize computes batch statistics. An empty batch yields all zeros.
func Summarize(records []ScoredRecord) Statistics {
	st := Statistics{Total: len(records)}
	if st.Total == 0 {
		return st
	}
	sum := 0
	for _, r := range records {
		sum += r.QualityScore
		if r.Validation.Valid() {
			st.Valid++
		}
	}
	st.Invalid = st.Total - st.Valid
	st.AvgScore = round(float64(sum)/float64(st.Total), 2)
	st.SuccessRate = round(100*float64(st.Valid)/float64(st.Total), 2)
	return st
}
