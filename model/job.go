package model

import (
	"time"
)

// Job represents one document extraction request and its outcome.
type Job struct {
	ID             string    `json:"id"`
	Filename       string    `json:"filename"`
	Tenant         string    `json:"tenant"`
	Status         string    `json:"status"` // pending, processing, completed, failed
	MineruTaskID   string    `json:"mineru_task_id,omitempty"`
	Text           string    `json:"text,omitempty"`
	TotalPages     int       `json:"total_pages"`
	ProcessedPages int       `json:"processed_pages"`
	IsOversized    bool      `json:"is_oversized"`
	CharCount      int       `json:"char_count"`
	ImageCount     int       `json:"image_count"`
	SavedFiles     []string  `json:"saved_files,omitempty"`
	ArtifactURLs   []string  `json:"artifact_urls,omitempty"`
	ErrorMsg       string    `json:"error_msg,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Job status constants
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)
