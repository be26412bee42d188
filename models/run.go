package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// PipelineRun 一次完整流水线执行的任务记录。
// 后台执行不再是 fire-and-forget：每次 run 有自己的落库句柄，
// 取消 / 崩溃 / 正常结束可以区分开。
type PipelineRun struct {
	ID         string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectId  string    `json:"projectId"`
	Status     string    `json:"status"`
	Message    string    `json:"message"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (PipelineRun) TableName() string {
	return "pipeline_run"
}

func CreatePipelineRun(db *gorm.DB, r *PipelineRun) error {
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	return db.Create(r).Error
}

func FinishPipelineRun(db *gorm.DB, runID, status, message string) error {
	return db.Model(&PipelineRun{}).Where("id = ?", runID).Updates(map[string]interface{}{
		"status":      status,
		"message":     message,
		"finished_at": time.Now(),
		"updated_at":  time.Now(),
	}).Error
}

func GetPipelineRunByID(db *gorm.DB, runID string) (*PipelineRun, error) {
	var r PipelineRun
	if err := db.First(&r, "id = ?", runID).Error; err != nil {
		return nil, err
	}
	return &r, nil
}
