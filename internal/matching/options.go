package matching

import (
	"catalog-specs-service/internal/attrvalue"
	"catalog-specs-service/internal/runlog"
	"catalog-specs-service/internal/textnorm"
)

// Options configures one specs-match run. Map keys and ignored names may be given
// raw; they are normalized before use.
type Options struct {
	TargetCategoryID          int64            `json:"target_category_id" validate:"required,gt=0"`
	DryRun                    bool             `json:"dry_run"`
	OnlyEmptyAttributes       bool             `json:"only_empty_attributes"`
	OverwriteExisting         bool             `json:"overwrite_existing"`
	AutoCreateOptions         bool             `json:"auto_create_options"`
	DetachStagingAfterSuccess bool             `json:"detach_staging_after_success"`
	StagingCategoryID         int64            `json:"staging_category_id,omitempty" validate:"gte=0"`
	AttributeNameMap          map[string]int64 `json:"attribute_name_map,omitempty" validate:"dive,gt=0"`
	IgnoredSpecNames          []string         `json:"ignored_spec_names,omitempty"`
	NumberConflictStrategy    string           `json:"number_conflict_strategy,omitempty" validate:"omitempty,oneof=max min first"`
	SpecInputUnitMap          map[string]int64 `json:"spec_input_unit_map,omitempty" validate:"dive,gt=0"`
	PreflightIssues           []runlog.Issue   `json:"preflight_issues,omitempty" validate:"dive"`
}

// DefaultOptions is a read-only pass that never touches filled attributes.
// Decode requests into it so that omitted keys keep these defaults.
func DefaultOptions() Options {
	return Options{DryRun: true, OnlyEmptyAttributes: true}
}

// allowOverwrite applies the policy table: only_empty wins over overwrite.
func (o Options) allowOverwrite() bool {
	return !o.OnlyEmptyAttributes && o.OverwriteExisting
}

func (o Options) normalized(cfg EngineConfig) Options {
	out := o
	if out.DryRun {
		out.DetachStagingAfterSuccess = false
	}
	if out.StagingCategoryID == 0 {
		out.StagingCategoryID = cfg.StagingCategoryID
	}
	if out.NumberConflictStrategy == "" {
		out.NumberConflictStrategy = string(cfg.NumberConflictStrategy)
	}
	out.AttributeNameMap = normalizeKeys(o.AttributeNameMap)
	out.SpecInputUnitMap = normalizeKeys(o.SpecInputUnitMap)
	out.IgnoredSpecNames = make([]string, 0, len(o.IgnoredSpecNames))
	for _, name := range o.IgnoredSpecNames {
		if key := textnorm.Normalize(name); key != "" {
			out.IgnoredSpecNames = append(out.IgnoredSpecNames, key)
		}
	}
	return out
}

func normalizeKeys(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for name, id := range m {
		if key := textnorm.Normalize(name); key != "" {
			if _, exists := out[key]; !exists {
				out[key] = id
			}
		}
	}
	return out
}

func (o Options) strategy() attrvalue.ConflictStrategy {
	s, err := attrvalue.ParseStrategy(o.NumberConflictStrategy)
	if err != nil {
		return attrvalue.StrategyFirst
	}
	return s
}

// columns echoes the options into ImportRun.columns.
func (o Options) columns() map[string]any {
	return map[string]any{
		"target_category_id":           o.TargetCategoryID,
		"dry_run":                      o.DryRun,
		"only_empty_attributes":        o.OnlyEmptyAttributes,
		"overwrite_existing":           o.OverwriteExisting,
		"auto_create_options":          o.AutoCreateOptions,
		"detach_staging_after_success": o.DetachStagingAfterSuccess,
		"staging_category_id":          o.StagingCategoryID,
		"attribute_name_map":           o.AttributeNameMap,
		"ignored_spec_names":           o.IgnoredSpecNames,
		"number_conflict_strategy":     o.NumberConflictStrategy,
		"spec_input_unit_map":          o.SpecInputUnitMap,
	}
}
