package models

// DailyStat is one day of aggregated issuance and claim counts.
type DailyStat struct {
	Day           string `json:"day"` // YYYY-MM-DD, UTC
	RegisterCount int64  `json:"register_count"`
	ClaimCount    int64  `json:"claim_count"`
}
