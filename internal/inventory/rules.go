package inventory

import (
	"fmt"
	"strings"
)

// Rules holds the compliance thresholds and the penalty each failing rule
// deducts from a starting validation score of 100.
type Rules struct {
	MinRAMGB   float64 `mapstructure:"min_ram_gb"`
	PenaltyRAM int     `mapstructure:"penalty_ram"`

	AllowedDiskTypes []string `mapstructure:"allowed_disk_types"`
	MinDiskGB        float64  `mapstructure:"min_disk_gb"`
	PenaltyDisk      int      `mapstructure:"penalty_disk"`

	AllowedOS []string `mapstructure:"allowed_os"`
	PenaltyOS int      `mapstructure:"penalty_os"`

	HOMinDownloadMbps float64 `mapstructure:"ho_min_download_mbps"`
	HOMinUploadMbps   float64 `mapstructure:"ho_min_upload_mbps"`
	// HOEnforceUpload adds the upload threshold to the home-office check.
	HOEnforceUpload    bool `mapstructure:"ho_enforce_upload"`
	PenaltyHOBandwidth int  `mapstructure:"penalty_ho_bandwidth"`
}

// DefaultRules are the standard workstation requirements.
func DefaultRules() Rules {
	return Rules{
		MinRAMGB:           16,
		PenaltyRAM:         20,
		AllowedDiskTypes:   []string{DiskSSD},
		MinDiskGB:          500,
		PenaltyDisk:        15,
		AllowedOS:          []string{"Windows 11"},
		PenaltyOS:          10,
		HOMinDownloadMbps:  15,
		HOMinUploadMbps:    5,
		PenaltyHOBandwidth: 10,
	}
}

// ValidationError describes one failed check.
type ValidationError struct {
	Field    string `json:"field"`
	Message  string `json:"message"`
	Actual   any    `json:"actual"`
	Required string `json:"required"`
}

// ValidationResult is the outcome of applying Rules to one record.
type ValidationResult struct {
	Errors []ValidationError `json:"errors"`
	Score  int               `json:"validation_score"`
}

// Valid reports whether no rule failed.
func (v ValidationResult) Valid() bool { return len(v.Errors) == 0 }

// Validate checks rec against every rule. A missing value fails its rule.
// Each failing rule deducts its penalty once; the score never drops below 0.
func (r Rules) Validate(rec NormalizedRecord) ValidationResult {
	res := ValidationResult{Errors: []ValidationError{}, Score: 100}

	fail := func(penalty int, errs ...ValidationError) {
		if len(errs) == 0 {
			return
		}
		res.Errors = append(res.Errors, errs...)
		res.Score -= penalty
	}

	fail(r.PenaltyRAM, r.checkRAM(rec)...)
	fail(r.PenaltyDisk, r.checkDisk(rec)...)
	fail(r.PenaltyOS, r.checkOS(rec)...)
	fail(r.PenaltyHOBandwidth, r.checkHOBandwidth(rec)...)

	if res.Score < 0 {
		res.Score = 0
	}
	return res
}

func (r Rules) checkRAM(rec NormalizedRecord) []ValidationError {
	if rec.RAMGB != nil && *rec.RAMGB >= r.MinRAMGB {
		return nil
	}
	return []ValidationError{{
		Field:    FieldRAMGB,
		Message:  "RAM below minimum",
		Actual:   rec.Value(FieldRAMGB),
		Required: fmt.Sprintf(">= %g GB", r.MinRAMGB),
	}}
}

func (r Rules) checkDisk(rec NormalizedRecord) []ValidationError {
	var errs []ValidationError
	if rec.DiskType == nil || !containsFold(r.AllowedDiskTypes, *rec.DiskType) {
		errs = append(errs, ValidationError{
			Field:    FieldDiskType,
			Message:  "disk type not allowed",
			Actual:   rec.Value(FieldDiskType),
			Required: strings.Join(r.AllowedDiskTypes, "|"),
		})
	}
	if rec.DiskCapacityGB == nil || *rec.DiskCapacityGB < r.MinDiskGB {
		errs = append(errs, ValidationError{
			Field:    FieldDiskCapacityGB,
			Message:  "disk capacity below minimum",
			Actual:   rec.Value(FieldDiskCapacityGB),
			Required: fmt.Sprintf(">= %g GB", r.MinDiskGB),
		})
	}
	return errs
}

func (r Rules) checkOS(rec NormalizedRecord) []ValidationError {
	if rec.OSName != nil && containsFold(r.AllowedOS, *rec.OSName) {
		return nil
	}
	return []ValidationError{{
		Field:    FieldOSName,
		Message:  "operating system not allowed",
		Actual:   rec.Value(FieldOSName),
		Required: strings.Join(r.AllowedOS, "|"),
	}}
}

// checkHOBandwidth only applies to home-office records.
func (r Rules) checkHOBandwidth(rec NormalizedRecord) []ValidationError {
	if rec.Atencion == nil || *rec.Atencion != AtencionHomeOffice {
		return nil
	}
	var errs []ValidationError
	if rec.SpeedDownloadMbps == nil || *rec.SpeedDownloadMbps < r.HOMinDownloadMbps {
		errs = append(errs, ValidationError{
			Field:    FieldSpeedDownloadMbps,
			Message:  "home-office download speed below minimum",
			Actual:   rec.Value(FieldSpeedDownloadMbps),
			Required: fmt.Sprintf(">= %g Mbps", r.HOMinDownloadMbps),
		})
	}
	if r.HOEnforceUpload && (rec.SpeedUploadMbps == nil || *rec.SpeedUploadMbps < r.HOMinUploadMbps) {
		errs = append(errs, ValidationError{
			Field:    FieldSpeedUploadMbps,
			Message:  "home-office upload speed below minimum",
			Actual:   rec.Value(FieldSpeedUploadMbps),
			Required: fmt.Sprintf(">= %g Mbps", r.HOMinUploadMbps),
		})
	}
	return errs
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
