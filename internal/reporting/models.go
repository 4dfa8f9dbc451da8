package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// QualitySummaryRequest requests aggregated call quality metrics.
// Tenancy isolation: OrgID is required.
type QualitySummaryRequest struct {
	OrgID string    `json:"org_id"`
	Range TimeRange `json:"range"`
}

type QualitySummary struct {
	OrgID string    `json:"org_id"`
	Range TimeRange `json:"range"`

	TotalCalls      int `json:"total_calls"`
	PendingCalls    int `json:"pending_calls"`
	ProcessingCalls int `json:"processing_calls"`
	CompletedCalls  int `json:"completed_calls"`
	FailedCalls     int `json:"failed_calls"`

	// Averages are over completed calls and stay nil when there are none.
	AvgGeneral        *float64 `json:"avg_general_score"`
	AvgSatisfaction   *float64 `json:"avg_satisfaction"`
	AvgCommunication  *float64 `json:"avg_communication"`
	AvgSalesTechnique *float64 `json:"avg_sales_technique"`

	// CallsBySource keys are source providers; "upload" for manual uploads.
	CallsBySource map[string]int `json:"calls_by_source"`

	// TelfinRecords counts staged provider records per materialization status.
	TelfinRecords map[string]int64 `json:"telfin_records"`
}

// ScoreRow is the slice of a call the summary needs.
type ScoreRow struct {
	Status         string
	SourceProvider string
	GeneralScore   *int
	Satisfaction   *int
	Communication  *int
	SalesTechnique *int
}
