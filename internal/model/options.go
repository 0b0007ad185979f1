package model

// EmptySurvey is the facet value standing in for a blank survey cell.
const EmptySurvey = "(Empty)"

// JobOptions holds the filter selections and display mode for one job.
// Empty filters match every row.
type JobOptions struct {
	Project  string `json:"project_code" mapstructure:"project_code"`
	Province string `json:"province" mapstructure:"province"`
	District string `json:"district" mapstructure:"district"`
	Survey   string `json:"survey_info" mapstructure:"survey_info"`

	// Headless runs the browser without a visible window.
	Headless bool `json:"headless" mapstructure:"headless"`

	// ResumeKey reuses the backup ledger of an earlier job. Empty means
	// the new job id is used as the key.
	ResumeKey string `json:"resume_key,omitempty" mapstructure:"resume_key"`
}
