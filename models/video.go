package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	ClipStatusPending    = "pending"
	ClipStatusGenerating = "generating"
	ClipStatusCompleted  = "completed"
	ClipStatusFailed     = "failed"

	MovieStatusPending    = "pending"
	MovieStatusAssembling = "assembling"
	MovieStatusCompleted  = "completed"
	MovieStatusFailed     = "failed"
)

// VideoPrompt 逐场景生成的视频提示词（Phase 3 串行步骤的产物）
type VideoPrompt struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	SceneId   string    `json:"sceneId"`
	ProjectId string    `json:"projectId"`
	Prompt    string    `json:"prompt"`
	Duration  int       `json:"duration"`
	Style     string    `json:"style"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (VideoPrompt) TableName() string {
	return "video_prompt"
}

func CreateVideoPrompt(db *gorm.DB, vp *VideoPrompt) error {
	now := time.Now()
	vp.CreatedAt = now
	vp.UpdatedAt = now
	return db.Create(vp).Error
}

func GetPromptsByProjectID(db *gorm.DB, projectID string) ([]VideoPrompt, error) {
	var prompts []VideoPrompt
	err := db.Where("project_id = ?", projectID).Find(&prompts).Error
	return prompts, err
}

// GeneratedClip 场景视频片段。结果按 scene 维度落库，并发批次里谁先完成谁先写。
type GeneratedClip struct {
	ID           string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	SceneId      string    `json:"sceneId"`
	ProjectId    string    `json:"projectId"`
	VideoUrl     string    `json:"videoUrl"`
	VideoKey     string    `json:"videoKey"`
	Duration     int       `json:"duration"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (GeneratedClip) TableName() string {
	return "generated_clip"
}

func CreateGeneratedClip(db *gorm.DB, c *GeneratedClip) error {
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	return db.Create(c).Error
}

// MarkClipCompleted / MarkClipFailed 只由拥有该 clip 的生成任务调用
func MarkClipCompleted(db *gorm.DB, clipID, videoURL, videoKey string, duration int) error {
	return db.Model(&GeneratedClip{}).Where("id = ?", clipID).Updates(map[string]interface{}{
		"video_url":  videoURL,
		"video_key":  videoKey,
		"duration":   duration,
		"status":     ClipStatusCompleted,
		"updated_at": time.Now(),
	}).Error
}

func MarkClipFailed(db *gorm.DB, clipID, errMsg string) error {
	return db.Model(&GeneratedClip{}).Where("id = ?", clipID).Updates(map[string]interface{}{
		"status":        ClipStatusFailed,
		"error_message": errMsg,
		"updated_at":    time.Now(),
	}).Error
}

func GetClipsByProjectID(db *gorm.DB, projectID string) ([]GeneratedClip, error) {
	var clips []GeneratedClip
	err := db.Where("project_id = ?", projectID).Find(&clips).Error
	return clips, err
}

func GetCompletedClipsByProjectID(db *gorm.DB, projectID string) ([]GeneratedClip, error) {
	var clips []GeneratedClip
	err := db.Where("project_id = ? AND status = ?", projectID, ClipStatusCompleted).Find(&clips).Error
	return clips, err
}

type FinalMovie struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectId string    `json:"projectId"`
	MovieUrl  string    `json:"movieUrl"`
	MovieKey  string    `json:"movieKey"`
	Duration  int       `json:"duration"` // 各片段落库时长之和，不是对成品文件实测
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (FinalMovie) TableName() string {
	return "final_movie"
}

func CreateFinalMovie(db *gorm.DB, m *FinalMovie) error {
	now := time.Now()
	m.CreatedAt = now
	m.UpdatedAt = now
	return db.Create(m).Error
}

func GetFinalMovieByProjectID(db *gorm.DB, projectID string) (*FinalMovie, error) {
	var m FinalMovie
	if err := db.Where("project_id = ?", projectID).Order("created_at DESC").First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}
