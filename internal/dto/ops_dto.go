package dto

import "github.com/lumia-chat/sentinel/internal/models"

type ErrorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status     string `json:"status"`
	Timestamp  string `json:"timestamp"`
	DB         string `json:"db"`
	QueueDepth int    `json:"queue_depth"`
	Dropped    int64  `json:"dropped"`
}

type FixListResponse struct {
	Fixes []models.PendingFix `json:"fixes"`
	Count int                 `json:"count"`
}

type FixActionResponse struct {
	FixID  string `json:"fix_id"`
	Status string `json:"status"`
	PRURL  string `json:"pr_url,omitempty"`
}
