package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Scene.Order 是项目内唯一且连续的 1..N 序号，预告片选段会整体重排它，
// 最终成片也按它拼接（这一个字段同时承担两种顺序语义）。
type Scene struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectId   string    `json:"projectId"`
	SceneNumber int       `json:"sceneNumber"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Setting     string    `json:"setting"`
	Characters  string    `json:"characters"` // JSON 数组字符串，如 ["ALICE","BOB"]
	Dialogue    string    `json:"dialogue"`
	Duration    int       `json:"duration"` // 目标时长（秒）
	Order       int       `gorm:"column:order" json:"order"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (Scene) TableName() string {
	return "scene"
}

// CharacterNames 解析 Characters JSON；解析失败按空列表处理（上游输出容错）
func (s *Scene) CharacterNames() []string {
	if s.Characters == "" {
		return nil
	}
	var names []string
	if err := json.Unmarshal([]byte(s.Characters), &names); err != nil {
		return nil
	}
	return names
}

func BatchCreateScenes(db *gorm.DB, scenes []Scene) error {
	if len(scenes) == 0 {
		return nil
	}
	return db.Create(&scenes).Error
}

func GetScenesByProjectID(db *gorm.DB, projectID string) ([]Scene, error) {
	var scenes []Scene
	err := db.Where("project_id = ?", projectID).Order("`order` ASC").Find(&scenes).Error
	return scenes, err
}

func UpdateSceneOrder(db *gorm.DB, sceneID string, order int) error {
	return db.Model(&Scene{}).Where("id = ?", sceneID).Updates(map[string]interface{}{
		"order":      order,
		"updated_at": time.Now(),
	}).Error
}

func UpdateSceneCharacters(db *gorm.DB, sceneID string, charactersJSON string) error {
	return db.Model(&Scene{}).Where("id = ?", sceneID).Updates(map[string]interface{}{
		"characters": charactersJSON,
		"updated_at": time.Now(),
	}).Error
}

type Character struct {
	ID                string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectId         string    `json:"projectId"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	VisualDescription string    `json:"visualDescription"` // 后续阶段做画面一致性用
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func (Character) TableName() string {
	return "character"
}

func BatchCreateCharacters(db *gorm.DB, characters []Character) error {
	if len(characters) == 0 {
		return nil
	}
	return db.Create(&characters).Error
}

func GetCharactersByProjectID(db *gorm.DB, projectID string) ([]Character, error) {
	var characters []Character
	err := db.Where("project_id = ?", projectID).Find(&characters).Error
	return characters, err
}

type Setting struct {
	ID                string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectId         string    `json:"projectId"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	VisualDescription string    `json:"visualDescription"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func (Setting) TableName() string {
	return "setting"
}

func BatchCreateSettings(db *gorm.DB, settings []Setting) error {
	if len(settings) == 0 {
		return nil
	}
	return db.Create(&settings).Error
}

func GetSettingsByProjectID(db *gorm.DB, projectID string) ([]Setting, error) {
	var settings []Setting
	err := db.Where("project_id = ?", projectID).Find(&settings).Error
	return settings, err
}
