package models

import (
	"time"

	"gorm.io/gorm"
)

// 项目状态常量（流水线状态机，只能沿下列顺序推进，或从任意非终态跳到 failed）
const (
	ProjectStatusDraft           = "draft"             // 项目已创建，流水线未启动
	ProjectStatusAnalyzing       = "analyzing"         // Phase 1: 剧本解析中
	ProjectStatusParsed          = "parsed"            // Phase 1 完成（场景/角色/场地 + 预告片）
	ProjectStatusExtractingFrame = "extracting_frames" // Phase 2: 从预告片抽取分镜帧
	ProjectStatusPrompting       = "prompting"         // Phase 3: 逐场景生成视频提示词
	ProjectStatusGeneratingClips = "generating_clips"  // Phase 3: 并发生成各场景视频
	ProjectStatusAssembling      = "assembling"        // Phase 3: 合成配音 + 拼接整片
	ProjectStatusCompleted       = "completed"         // 全部完成，可播放/导出
	ProjectStatusFailed          = "failed"            // 任意阶段出错
)

type Project struct {
	ID            string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Title         string    `json:"title"`
	ScriptContent string    `json:"scriptContent"`
	Status        string    `json:"status"`
	Progress      int       `json:"progress"`
	ErrorMessage  string    `json:"errorMessage"`
	TrailerUrl    string    `json:"trailerUrl"`
	TrailerKey    string    `json:"trailerKey"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (Project) TableName() string {
	return "project"
}

func CreateProject(db *gorm.DB, p *Project) error {
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	return db.Create(p).Error
}

func GetProjectByID(db *gorm.DB, id string) (*Project, error) {
	var p Project
	if err := db.First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProjectStatus 更新状态（progress < 0 表示不动进度）
func UpdateProjectStatus(db *gorm.DB, id string, status string, progress int) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if progress >= 0 {
		updates["progress"] = progress
	}
	return db.Model(&Project{}).Where("id = ?", id).Updates(updates).Error
}

func UpdateProjectProgress(db *gorm.DB, id string, progress int) error {
	return db.Model(&Project{}).Where("id = ?", id).Updates(map[string]interface{}{
		"progress":   progress,
		"updated_at": time.Now(),
	}).Error
}

// MarkProjectFailed 记录失败原因；错误信息永远落库，不在编排层吞掉
func MarkProjectFailed(db *gorm.DB, id string, errMsg string) error {
	return db.Model(&Project{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        ProjectStatusFailed,
		"error_message": errMsg,
		"updated_at":    time.Now(),
	}).Error
}

func UpdateProjectTrailer(db *gorm.DB, id string, trailerURL, trailerKey string) error {
	return db.Model(&Project{}).Where("id = ?", id).Updates(map[string]interface{}{
		"trailer_url": trailerURL,
		"trailer_key": trailerKey,
		"updated_at":  time.Now(),
	}).Error
}

func UpdateProjectScript(db *gorm.DB, id string, script string) error {
	return db.Model(&Project{}).Where("id = ?", id).Updates(map[string]interface{}{
		"script_content": script,
		"updated_at":     time.Now(),
	}).Error
}
