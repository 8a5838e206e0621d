package repository

import (
	"errors"
	"time"

	"github.com/bidwriter/backend/internal/model"
)

// ErrNotFound 记录不存在错误
var ErrNotFound = errors.New("record not found")

type ProjectRepository interface {
	Create(project *model.Project) error
	List() ([]model.Project, error)
	Get(id uint) (*model.Project, error)
	Save(project *model.Project) error
	Delete(id uint) error
}

type RunRepository interface {
	Create(run *model.GenerationRun) error
	Get(id uint) (*model.GenerationRun, error)
	GetByRunID(runID string) (*model.GenerationRun, error)
	GetByProject(projectID uint) ([]model.GenerationRun, error)
	GetByStatus(status string) ([]model.GenerationRun, error)
	Save(run *model.GenerationRun) error
	CleanupStuckRuns(timeout time.Duration) (int64, error)
	Delete(id uint) error
}

type CheckpointRepository interface {
	Create(cp *model.RunCheckpoint) error
	Complete(id uint) error
	CountByRun(runID string) (int64, error)
	ListByRun(runID string) ([]model.RunCheckpoint, error)
	LatestCompleted(runID string) (*model.RunCheckpoint, error)
}
