package domain

import "time"

// RunStatus is the lifecycle state of an ImportRun.
type RunStatus string

const (
	RunStatusPending RunStatus = "pending"
	RunStatusDryRun  RunStatus = "dry_run"
	RunStatusApplied RunStatus = "applied"
	RunStatusFailed  RunStatus = "failed"
)

// Terminal reports whether the run reached a final state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusDryRun || s == RunStatusApplied || s == RunStatusFailed
}

// Run type tags.
const (
	RunTypeSpecsMatch   = "specs_match"
	RunTypeFilterImport = "category_filter_import"
)

// Severity of an ImportIssue.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// IssueCode is a stable identifier rendered by the admin UI. Codes are only ever added.
type IssueCode string

const (
	IssueTargetCategoryNotLeaf          IssueCode = "target_category_not_leaf"
	IssueSpecNameUnmatched              IssueCode = "spec_name_unmatched"
	IssueSkippedExistingValue           IssueCode = "skipped_existing_value"
	IssueSpecValueParseFailed           IssueCode = "spec_value_parse_failed"
	IssueUnitAmbiguous                  IssueCode = "unit_ambiguous"
	IssueOptionNotFound                 IssueCode = "option_not_found"
	IssueOptionAutoCreated              IssueCode = "option_auto_created"
	IssueSelectConflictKeptFirst        IssueCode = "select_conflict_kept_first"
	IssueAttributeNotInTargetCategory   IssueCode = "attribute_not_in_target_category"
	IssueAttributeCreationSkipped       IssueCode = "attribute_creation_skipped"
	IssueAttributeCreatedFromSpec       IssueCode = "attribute_created_from_spec"
	IssueGroupConfigurationConflict     IssueCode = "group_configuration_conflict"
	IssueMissingUnitForNumericAttribute IssueCode = "missing_unit_for_numeric_attribute"
	IssueJobException                   IssueCode = "job_exception"
	IssueJobFailed                      IssueCode = "job_failed"
	IssueProductHasNoPrimaryCategory    IssueCode = "product_has_no_primary_category"

	IssueProductNotFound          IssueCode = "product_not_found"
	IssueRowConflictStaleSnapshot IssueCode = "row_conflict_stale_snapshot"
	IssueRowApplyFailed           IssueCode = "row_apply_failed"
	IssueValueConflictKeptFirst   IssueCode = "value_conflict_kept_first"
	IssueUnitNotFound             IssueCode = "unit_not_found"
	IssueInvalidOptions           IssueCode = "invalid_options"
)

// RunTotals is the JSON totals blob of an ImportRun.
type RunTotals struct {
	Scanned    int            `json:"scanned"`
	Matched    int            `json:"matched"`
	MatchedPAV int            `json:"matched_pav"`
	MatchedPAO int            `json:"matched_pao"`
	Skipped    int            `json:"skipped"`
	Error      int            `json:"error"`
	Issues     int            `json:"issues"`
	Meta       map[string]any `json:"_meta,omitempty"`
}

// ImportRun is one invocation of the matching engine or the filter importer.
type ImportRun struct {
	ID        int64          `json:"id"`
	Type      string         `json:"type"`
	Status    RunStatus      `json:"status"`
	Totals    RunTotals      `json:"totals"`
	Columns   map[string]any `json:"columns,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// IsRunning reads the _meta.is_running flag.
func (r *ImportRun) IsRunning() bool {
	if r.Totals.Meta == nil {
		return false
	}
	running, _ := r.Totals.Meta["is_running"].(bool)
	return running
}

// ImportIssue is an append-only audit record attached to a run.
type ImportIssue struct {
	ID          int64          `json:"id"`
	RunID       int64          `json:"run_id"`
	RowIndex    *int           `json:"row_index,omitempty"`
	Code        IssueCode      `json:"code"`
	Severity    Severity       `json:"severity"`
	Message     string         `json:"message"`
	RowSnapshot map[string]any `json:"row_snapshot,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
