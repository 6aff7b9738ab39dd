package model

import "time"

// StatusCount is one row of the status breakdown.
type StatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// TierStats aggregates volume and responsiveness per tier.
type TierStats struct {
	Tier               int     `json:"tier"`
	Count              int64   `json:"count"`
	AvgResponseMs      float64 `json:"avg_response_ms"`
	AvgDiscountPercent float64 `json:"avg_discount_percent"`
}

// ApproverRanking ranks managers by responded volume.
type ApproverRanking struct {
	ManagerID     string  `json:"manager_id"`
	Username      string  `json:"username"`
	Approved      int64   `json:"approved"`
	Denied        int64   `json:"denied"`
	AvgResponseMs float64 `json:"avg_response_ms"`
}

// ApprovalStatsResponse aggregates workflow health over a time range.
type ApprovalStatsResponse struct {
	ByStatus           []StatusCount     `json:"by_status"`
	ByTier             []TierStats       `json:"by_tier"`
	TopApprovers       []ApproverRanking `json:"top_approvers"`
	TimeRangeStartDate time.Time         `json:"time_range_start_date"`
	TimeRangeEndDate   time.Time         `json:"time_range_end_date"`
}
