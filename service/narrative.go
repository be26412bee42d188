package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"ScriptToMovie-server/config"
)

// NarrativeClient 叙事结构化 worker 的 HTTP 客户端。
// worker 负责剧本理解（场景拆分 / 角色 / 场地 / 预告片选段 / 视频提示词），
// 这里只关心请求响应的 schema，不关心它内部怎么生成。
type NarrativeClient struct {
	Endpoint string
	HTTP     *http.Client
}

func NewNarrativeClient() *NarrativeClient {
	return &NarrativeClient{
		Endpoint: config.AppConfig.AI.NarrativeAPI,
		HTTP:     &http.Client{Timeout: 120 * time.Second},
	}
}

type SceneData struct {
	SceneNumber int      `json:"sceneNumber"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Setting     string   `json:"setting"`
	Characters  []string `json:"characters"`
	Dialogue    string   `json:"dialogue"`
	Duration    int      `json:"duration"`
}

type CharacterData struct {
	Name              string `json:"name"`
	Description       string `json:"description"`
	VisualDescription string `json:"visualDescription"`
}

type SettingData struct {
	Name              string `json:"name"`
	Description       string `json:"description"`
	VisualDescription string `json:"visualDescription"`
}

// ScriptAnalysis 剧本解析的结构化结果
type ScriptAnalysis struct {
	Script     string          `json:"script"` // 扩写后的剧本
	Scenes     []SceneData     `json:"scenes"`
	Characters []CharacterData `json:"characters"`
	Settings   []SettingData   `json:"settings"`
}

// AnalyzeScript POST /v1/analyze — 标题 + 原始文本 → 结构化叙事
func (c *NarrativeClient) AnalyzeScript(ctx context.Context, title, rawText string) (*ScriptAnalysis, error) {
	var result ScriptAnalysis
	err := c.post(ctx, "/v1/analyze", map[string]interface{}{
		"title":   title,
		"content": rawText,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ExtractCharacters POST /v1/characters — 一致性补全：带场景拆分重新提取角色的细化外观描述
func (c *NarrativeClient) ExtractCharacters(ctx context.Context, script, scenesText string) ([]CharacterData, error) {
	var result struct {
		Characters []CharacterData `json:"characters"`
	}
	err := c.post(ctx, "/v1/characters", map[string]interface{}{
		"script": script,
		"scenes": scenesText,
	}, &result)
	return result.Characters, err
}

// ExtractSettings POST /v1/settings
func (c *NarrativeClient) ExtractSettings(ctx context.Context, script, scenesText string) ([]SettingData, error) {
	var result struct {
		Settings []SettingData `json:"settings"`
	}
	err := c.post(ctx, "/v1/settings", map[string]interface{}{
		"script": script,
		"scenes": scenesText,
	}, &result)
	return result.Settings, err
}

// SelectTrailerScenes POST /v1/trailer — 返回入选预告片的场景号
func (c *NarrativeClient) SelectTrailerScenes(ctx context.Context, scenesText string, total int) ([]int, error) {
	var result struct {
		SelectedSceneNumbers []int `json:"selectedSceneNumbers"`
	}
	err := c.post(ctx, "/v1/trailer", map[string]interface{}{
		"scenes":      scenesText,
		"total_count": total,
	}, &result)
	return result.SelectedSceneNumbers, err
}

type PromptRequest struct {
	SceneNumber    int    `json:"sceneNumber"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	CharacterNotes string `json:"characterNotes"`
	SettingNotes   string `json:"settingNotes"`
	Duration       int    `json:"duration"`
}

type PromptResult struct {
	Prompt         string `json:"prompt"`
	Duration       int    `json:"duration"`
	Style          string `json:"style"`
	CameraMovement string `json:"cameraMovement"`
}

// GenerateClipPrompt POST /v1/prompt — 每个场景一次有序调用，不能并行
func (c *NarrativeClient) GenerateClipPrompt(ctx context.Context, req *PromptRequest) (*PromptResult, error) {
	var result PromptResult
	if err := c.post(ctx, "/v1/prompt", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type FrameChoiceRequest struct {
	SceneNumber    int      `json:"sceneNumber"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	CharacterNotes string   `json:"characterNotes"`
	SettingNotes   string   `json:"settingNotes"`
	Frames         []string `json:"frames"` // 候选帧 JPEG 的 base64
}

// SelectBestFrame POST /v1/frame — 视觉评估候选帧，返回最贴合场景的下标。
// -1 表示没有一张够格（由调用方按失败处理）。
func (c *NarrativeClient) SelectBestFrame(ctx context.Context, req *FrameChoiceRequest) (int, error) {
	var result struct {
		BestFrameIndex int    `json:"bestFrameIndex"`
		Reasoning      string `json:"reasoning"`
	}
	if err := c.post(ctx, "/v1/frame", req, &result); err != nil {
		return 0, err
	}
	if result.BestFrameIndex >= len(req.Frames) {
		return 0, fmt.Errorf("frame index %d out of range (%d candidates)", result.BestFrameIndex, len(req.Frames))
	}
	return result.BestFrameIndex, nil
}

func (c *NarrativeClient) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request failed: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("narrative worker request failed: %w", err)
	}
	defer resp.Body.Close()

	respBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("narrative worker status %d: %s", resp.StatusCode, truncate(string(respBytes), 300))
	}
	if err := json.Unmarshal(respBytes, out); err != nil {
		return fmt.Errorf("decode narrative response failed: %w", err)
	}
	return nil
}

// ValidateAnalysis 校验并就地修剪结构化结果：
//   - 场景 / 角色 / 场地至少各一条，否则报错；
//   - 场景引用了不存在的角色名 → 丢掉该引用（上游输出容错）；
//   - 场景引用了不存在的场地名 → 清空该场景的场地。
//
// 修剪之后所有场景引用都与返回的集合精确匹配，才允许落库。
func ValidateAnalysis(a *ScriptAnalysis) error {
	if len(a.Scenes) == 0 {
		return fmt.Errorf("narrative result contains no scenes")
	}
	if len(a.Characters) == 0 {
		return fmt.Errorf("narrative result contains no characters")
	}
	if len(a.Settings) == 0 {
		return fmt.Errorf("narrative result contains no settings")
	}

	charNames := make(map[string]bool, len(a.Characters))
	for _, ch := range a.Characters {
		charNames[ch.Name] = true
	}
	settingNames := make(map[string]bool, len(a.Settings))
	for _, s := range a.Settings {
		settingNames[s.Name] = true
	}

	for i := range a.Scenes {
		scene := &a.Scenes[i]
		kept := scene.Characters[:0]
		for _, name := range scene.Characters {
			if charNames[name] {
				kept = append(kept, name)
			} else {
				log.Printf("[Narrative] 场景 %d 引用了未定义角色 %q，已丢弃", scene.SceneNumber, name)
			}
		}
		scene.Characters = kept

		if scene.Setting != "" && !settingNames[scene.Setting] {
			log.Printf("[Narrative] 场景 %d 引用了未定义场地 %q，已清空", scene.SceneNumber, scene.Setting)
			scene.Setting = ""
		}
	}
	return nil
}
