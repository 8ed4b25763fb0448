package models

// ManualFetchRequest triggers an on-demand ingestion run. An empty code list
// means the full configured universe.
type ManualFetchRequest struct {
	Codes []string `json:"codes" validate:"omitempty,max=10000,dive,numeric,len=6"`
}
