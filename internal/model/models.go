package model

import (
	"time"
)

type Project struct {
	ID           uint            `json:"id" gorm:"primaryKey"`
	Name         string          `json:"name" gorm:"size:255;not null"`
	SourcePath   string          `json:"source_path" gorm:"size:500"`
	SourceText   string          `json:"-" gorm:"type:text"`
	Status       string          `json:"status" gorm:"size:50;default:created"` // created, ingested, generating, completed, error
	ErrorMsg     string          `json:"error_msg" gorm:"size:1000"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Runs         []GenerationRun `json:"runs,omitempty" gorm:"foreignKey:ProjectID"`
}

// GenerationRun 一次端到端的方案生成运行
type GenerationRun struct {
	ID           uint       `json:"id" gorm:"primaryKey"`
	ProjectID    uint       `json:"project_id" gorm:"index;not null"`
	RunID        string     `json:"run_id" gorm:"size:64;uniqueIndex"` // UUID
	Status       string     `json:"status" gorm:"size:50;default:pending"` // pending, queued, running, succeeded, failed, canceled
	CurrentPhase string     `json:"current_phase" gorm:"size:64"`
	Progress     int        `json:"progress" gorm:"default:0"` // 0-100
	OutputPath   string     `json:"output_path" gorm:"size:500"`
	ErrorMsg     string     `json:"error_msg" gorm:"size:2000"`
	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// RunCheckpoint 运行检查点，追加写入，完成后不再修改
type RunCheckpoint struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	RunID       string     `json:"run_id" gorm:"size:64;index;not null"`
	StepName    string     `json:"step_name" gorm:"size:128;not null"`
	StepOrder   int        `json:"step_order" gorm:"not null"`
	StateData   string     `json:"state_data" gorm:"type:text"` // WorkflowState 的 JSON 快照
	IsCompleted bool       `json:"is_completed" gorm:"default:false"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
