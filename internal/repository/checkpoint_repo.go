package repository

import (
	"errors"
	"time"

	"github.com/bidwriter/backend/internal/model"
	"gorm.io/gorm"
)

type checkpointRepository struct {
	db *gorm.DB
}

func NewCheckpointRepository(db *gorm.DB) CheckpointRepository {
	return &checkpointRepository{db: db}
}

func (r *checkpointRepository) Create(cp *model.RunCheckpoint) error {
	now := time.Now()
	cp.StartedAt = &now
	cp.IsCompleted = false
	return r.db.Create(cp).Error
}

// Complete 将检查点标记为已完成。只更新完成标记与时间，快照内容不再变更。
func (r *checkpointRepository) Complete(id uint) error {
	now := time.Now()
	return r.db.Model(&model.RunCheckpoint{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_completed": true,
			"completed_at": now,
		}).Error
}

func (r *checkpointRepository) CountByRun(runID string) (int64, error) {
	var count int64
	err := r.db.Model(&model.RunCheckpoint{}).Where("run_id = ?", runID).Count(&count).Error
	return count, err
}

func (r *checkpointRepository) ListByRun(runID string) ([]model.RunCheckpoint, error) {
	var checkpoints []model.RunCheckpoint
	err := r.db.Where("run_id = ?", runID).Order("step_order").Find(&checkpoints).Error
	return checkpoints, err
}

// LatestCompleted 返回该运行最新的已完成检查点；不存在时返回 ErrNotFound
func (r *checkpointRepository) LatestCompleted(runID string) (*model.RunCheckpoint, error) {
	var cp model.RunCheckpoint
	err := r.db.Where("run_id = ? AND is_completed = ?", runID, true).
		Order("step_order desc").
		First(&cp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &cp, nil
}
