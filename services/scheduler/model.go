package scheduler

import (
	"time"

	"gorm.io/datatypes"
)

// Job is an execution record for one scheduled run.
type Job struct {
	ID          string         `gorm:"column:id;primaryKey" json:"id"`
	TaskType    string         `gorm:"column:task_type;index" json:"task_type"`
	Status      string         `gorm:"column:status;default:'pending'" json:"status"` // pending|enqueued|failed
	ErrorMsg    string         `gorm:"column:error_msg" json:"error_msg,omitempty"`
	StartedAt   *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	Metadata    datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
}

func (Job) TableName() string {
	return "jobs"
}
