package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	FrameStatusPending   = "pending"
	FrameStatusCompleted = "completed"
	FrameStatusFailed    = "failed"
)

// StoryboardFrame 每个场景恰好一帧（Phase 2 完成后），作为图生视频的视觉参考
type StoryboardFrame struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	SceneId   string    `json:"sceneId"`
	ProjectId string    `json:"projectId"`
	ImageUrl  string    `json:"imageUrl"`
	ImageKey  string    `json:"imageKey"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (StoryboardFrame) TableName() string {
	return "storyboard_frame"
}

func CreateStoryboardFrame(db *gorm.DB, f *StoryboardFrame) error {
	now := time.Now()
	f.CreatedAt = now
	f.UpdatedAt = now
	return db.Create(f).Error
}

func GetFramesByProjectID(db *gorm.DB, projectID string) ([]StoryboardFrame, error) {
	var frames []StoryboardFrame
	err := db.Where("project_id = ?", projectID).Find(&frames).Error
	return frames, err
}
