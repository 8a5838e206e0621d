package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/bidwriter/backend/internal/model"
	"gorm.io/gorm"
)

type runRepository struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) RunRepository {
	return &runRepository{db: db}
}

func (r *runRepository) Create(run *model.GenerationRun) error {
	return r.db.Create(run).Error
}

func (r *runRepository) Get(id uint) (*model.GenerationRun, error) {
	var run model.GenerationRun
	err := r.db.First(&run, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &run, nil
}

func (r *runRepository) GetByRunID(runID string) (*model.GenerationRun, error) {
	var run model.GenerationRun
	err := r.db.Where("run_id = ?", runID).First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &run, nil
}

func (r *runRepository) GetByProject(projectID uint) ([]model.GenerationRun, error) {
	var runs []model.GenerationRun
	err := r.db.Where("project_id = ?", projectID).Order("created_at desc").Find(&runs).Error
	return runs, err
}

func (r *runRepository) GetByStatus(status string) ([]model.GenerationRun, error) {
	var runs []model.GenerationRun
	err := r.db.Where("status = ?", status).Find(&runs).Error
	return runs, err
}

func (r *runRepository) Save(run *model.GenerationRun) error {
	return r.db.Save(run).Error
}

// CleanupStuckRuns 清理卡住的running运行（开始执行超过指定时间仍未完成）
// 用于服务重启后回收无主的运行
func (r *runRepository) CleanupStuckRuns(timeout time.Duration) (int64, error) {
	cutoff := time.Now().Add(-timeout)
	result := r.db.Model(&model.GenerationRun{}).
		Where("status = ? AND started_at < ?", "running", cutoff).
		Updates(map[string]interface{}{
			"status":    "failed",
			"error_msg": fmt.Sprintf("运行超时（超过 %v），已自动标记为失败", timeout),
		})
	return result.RowsAffected, result.Error
}

func (r *runRepository) Delete(id uint) error {
	return r.db.Delete(&model.GenerationRun{}, id).Error
}
