package model

import (
	"encoding/json"
	"time"
)

// Job is a unit of background work queued for asynchronous execution.
type Job struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	RetryCount int32           `json:"retry_count"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	NextRunAt  time.Time       `json:"next_run_at"`
}

// DeadLetterJob is the durable record of a job that exhausted its retry
// budget (or failed permanently). Persisted in MySQL.
type DeadLetterJob struct {
	ID             int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	OriginalJobID  string     `json:"original_job_id" gorm:"column:original_job_id;size:64;uniqueIndex"`
	JobType        string     `json:"job_type" gorm:"column:job_type;size:128;index"`
	Payload        string     `json:"payload" gorm:"column:payload;type:json"`
	LastError      string     `json:"last_error" gorm:"column:last_error;type:text"`
	RetryCount     int32      `json:"retry_count" gorm:"column:retry_count"`
	FailedAt       time.Time  `json:"failed_at" gorm:"column:failed_at;index"`
	Resolved       bool       `json:"resolved" gorm:"column:resolved;index"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty" gorm:"column:resolved_at"`
	ResolutionNote string     `json:"resolution_note,omitempty" gorm:"column:resolution_note;size:255"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName overrides the GORM table name.
func (DeadLetterJob) TableName() string {
	return "dead_letter_jobs"
}
