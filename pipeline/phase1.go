package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"ScriptToMovie-server/models"
	"ScriptToMovie-server/service"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ---------------------------------------------------------------------------
// Phase 1: 剧本 → 结构化叙事 + 预告片
// 注意：重复跑 Phase 1 会追加场景/角色/场地，而不是替换（已知缺陷，见 DESIGN.md）
// ---------------------------------------------------------------------------

// scriptAnalyzer / analysisStore 把外部依赖收成窄接口，
// 生产走 NarrativeClient + gormAnalysisStore，测试用假实现。
type scriptAnalyzer interface {
	AnalyzeScript(ctx context.Context, title, rawText string) (*service.ScriptAnalysis, error)
}

type analysisStore interface {
	GetProject(projectID string) (*models.Project, error)
	SaveScript(projectID, script string) error
	AppendScenes(scenes []models.Scene) error
}

type gormAnalysisStore struct {
	db *gorm.DB
}

func (s *gormAnalysisStore) GetProject(projectID string) (*models.Project, error) {
	return models.GetProjectByID(s.db, projectID)
}

func (s *gormAnalysisStore) SaveScript(projectID, script string) error {
	return models.UpdateProjectScript(s.db, projectID, script)
}

func (s *gormAnalysisStore) AppendScenes(scenes []models.Scene) error {
	return models.BatchCreateScenes(s.db, scenes)
}

type analyzeScriptAgent struct {
	store    analysisStore
	analyzer scriptAnalyzer
}

func (a *analyzeScriptAgent) Name() string { return "analyze_script" }

func (a *analyzeScriptAgent) Execute(ctx context.Context, projectID string) Result {
	project, err := a.store.GetProject(projectID)
	if err != nil {
		return errResult("project not found: %v", err)
	}

	analysis, err := a.analyzer.AnalyzeScript(ctx, project.Title, project.ScriptContent)
	if err != nil {
		return errResult("script analysis failed: %v", err)
	}
	// 落库之前先校验并修剪引用
	if err := service.ValidateAnalysis(analysis); err != nil {
		return errResult("invalid narrative output: %v", err)
	}

	if analysis.Script != "" {
		if err := a.store.SaveScript(projectID, analysis.Script); err != nil {
			return errResult("save enriched script failed: %v", err)
		}
	}

	// 按场景号排序后重编 order，保证 1..N 连续
	sort.Slice(analysis.Scenes, func(i, j int) bool {
		return analysis.Scenes[i].SceneNumber < analysis.Scenes[j].SceneNumber
	})
	scenes := make([]models.Scene, 0, len(analysis.Scenes))
	for i, sd := range analysis.Scenes {
		charsJSON, _ := json.Marshal(sd.Characters)
		scenes = append(scenes, models.Scene{
			ID:          uuid.NewString(),
			ProjectId:   projectID,
			SceneNumber: sd.SceneNumber,
			Title:       sd.Title,
			Description: sd.Description,
			Setting:     sd.Setting,
			Characters:  string(charsJSON),
			Dialogue:    sd.Dialogue,
			Duration:    sd.Duration,
			Order:       i + 1,
		})
	}
	if err := a.store.AppendScenes(scenes); err != nil {
		return errResult("save scenes failed: %v", err)
	}

	return okResult("analyzed script: %d scenes, %d characters, %d settings",
		len(analysis.Scenes), len(analysis.Characters), len(analysis.Settings))
}

// formatScenes 给叙事 worker 的场景摘要文本
func formatScenes(scenes []models.Scene) string {
	var sb strings.Builder
	for _, s := range scenes {
		fmt.Fprintf(&sb, "Scene %d (%s): %s [Characters: %s]\n", s.SceneNumber, s.Title, s.Description, s.Characters)
	}
	return sb.String()
}

type extractCharactersAgent struct {
	db        *gorm.DB
	narrative *service.NarrativeClient
}

func (a *extractCharactersAgent) Name() string { return "extract_characters" }

func (a *extractCharactersAgent) Execute(ctx context.Context, projectID string) Result {
	project, err := models.GetProjectByID(a.db, projectID)
	if err != nil {
		return errResult("project not found: %v", err)
	}
	scenes, err := models.GetScenesByProjectID(a.db, projectID)
	if err != nil {
		return errResult("load scenes failed: %v", err)
	}

	chars, err := a.narrative.ExtractCharacters(ctx, project.ScriptContent, formatScenes(scenes))
	if err != nil {
		return errResult("character extraction failed: %v", err)
	}
	if len(chars) == 0 {
		return errResult("narrative worker returned no characters")
	}

	rows := make([]models.Character, 0, len(chars))
	for _, cd := range chars {
		rows = append(rows, models.Character{
			ID:                uuid.NewString(),
			ProjectId:         projectID,
			Name:              cd.Name,
			Description:       cd.Description,
			VisualDescription: cd.VisualDescription,
		})
	}
	if err := models.BatchCreateCharacters(a.db, rows); err != nil {
		return errResult("save characters failed: %v", err)
	}
	return okResult("extracted %d characters", len(rows))
}

type extractSettingsAgent struct {
	db        *gorm.DB
	narrative *service.NarrativeClient
}

func (a *extractSettingsAgent) Name() string { return "extract_settings" }

func (a *extractSettingsAgent) Execute(ctx context.Context, projectID string) Result {
	project, err := models.GetProjectByID(a.db, projectID)
	if err != nil {
		return errResult("project not found: %v", err)
	}
	scenes, err := models.GetScenesByProjectID(a.db, projectID)
	if err != nil {
		return errResult("load scenes failed: %v", err)
	}

	settings, err := a.narrative.ExtractSettings(ctx, project.ScriptContent, formatScenes(scenes))
	if err != nil {
		return errResult("setting extraction failed: %v", err)
	}
	if len(settings) == 0 {
		return errResult("narrative worker returned no settings")
	}

	rows := make([]models.Setting, 0, len(settings))
	for _, sd := range settings {
		rows = append(rows, models.Setting{
			ID:                uuid.NewString(),
			ProjectId:         projectID,
			Name:              sd.Name,
			Description:       sd.Description,
			VisualDescription: sd.VisualDescription,
		})
	}
	if err := models.BatchCreateSettings(a.db, rows); err != nil {
		return errResult("save settings failed: %v", err)
	}
	return okResult("extracted %d settings", len(rows))
}

type selectTrailerScenesAgent struct {
	db        *gorm.DB
	narrative *service.NarrativeClient
}

func (a *selectTrailerScenesAgent) Name() string { return "select_trailer_scenes" }

func (a *selectTrailerScenesAgent) Execute(ctx context.Context, projectID string) Result {
	scenes, err := models.GetScenesByProjectID(a.db, projectID)
	if err != nil {
		return errResult("load scenes failed: %v", err)
	}
	if len(scenes) == 0 {
		return errResult("no scenes found, run analyze_script first")
	}

	selected, err := a.narrative.SelectTrailerScenes(ctx, formatScenes(scenes), len(scenes))
	if err != nil {
		return errResult("trailer selection failed: %v", err)
	}

	orders := ReorderForTrailer(scenes, selected)
	for sceneID, order := range orders {
		if err := models.UpdateSceneOrder(a.db, sceneID, order); err != nil {
			return errResult("update scene order failed: %v", err)
		}
	}

	return okResult("reordered scenes, %d trailer scenes at front", countKnown(scenes, selected))
}

// ReorderForTrailer 重排 Scene.Order：入选场景按选择顺序排 1..K，
// 其余按场景号升序排 K+1..N。worker 返回的未知场景号静默丢弃，
// 重复出现的只保留第一次。重排结果仍是项目内唯一且连续的 1..N。
func ReorderForTrailer(scenes []models.Scene, selected []int) map[string]int {
	byNumber := make(map[int]*models.Scene, len(scenes))
	for i := range scenes {
		byNumber[scenes[i].SceneNumber] = &scenes[i]
	}

	orders := make(map[string]int, len(scenes))
	next := 1
	picked := make(map[int]bool, len(selected))
	for _, num := range selected {
		scene, ok := byNumber[num]
		if !ok || picked[num] {
			continue
		}
		picked[num] = true
		orders[scene.ID] = next
		next++
	}

	rest := make([]models.Scene, 0, len(scenes))
	for _, s := range scenes {
		if !picked[s.SceneNumber] {
			rest = append(rest, s)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].SceneNumber < rest[j].SceneNumber })
	for _, s := range rest {
		orders[s.ID] = next
		next++
	}
	return orders
}

func countKnown(scenes []models.Scene, selected []int) int {
	known := make(map[int]bool, len(scenes))
	for _, s := range scenes {
		known[s.SceneNumber] = true
	}
	n := 0
	seen := make(map[int]bool, len(selected))
	for _, num := range selected {
		if known[num] && !seen[num] {
			seen[num] = true
			n++
		}
	}
	return n
}

type generateTrailerAgent struct {
	db    *gorm.DB
	kling *service.KlingClient
}

func (a *generateTrailerAgent) Name() string { return "generate_trailer" }

// 用排到最前面的场景描述拼一条文生视频提示词，产出预告片短片。
// Phase 2 从这条片子里抽分镜帧。
func (a *generateTrailerAgent) Execute(ctx context.Context, projectID string) Result {
	scenes, err := models.GetScenesByProjectID(a.db, projectID)
	if err != nil {
		return errResult("load scenes failed: %v", err)
	}
	if len(scenes) == 0 {
		return errResult("no scenes found")
	}

	var sb strings.Builder
	sb.WriteString("Cinematic movie trailer, dramatic pacing. ")
	for i, s := range scenes {
		if i >= 3 {
			break
		}
		sb.WriteString(s.Description)
		sb.WriteString(" ")
	}

	clip, err := a.kling.GenerateClip(ctx, &service.ClipRequest{
		ProjectId:   projectID,
		SceneNumber: 0,
		Prompt:      strings.TrimSpace(sb.String()),
		Duration:    10,
	})
	if err != nil {
		return errResult("trailer generation failed: %v", err)
	}

	trailerKey := fmt.Sprintf("projects/%s/trailers/trailer-%s.mp4", projectID, uuid.NewString()[:8])
	trailerURL := clip.VideoUrl

	// 厂商 URL 有时效，落到自己的对象存储里；拉不下来就先存厂商 URL
	if data, derr := fetchBytes(ctx, clip.VideoUrl); derr == nil {
		if stored, uerr := service.UploadOrSaveLocal(data, trailerKey); uerr == nil {
			trailerURL = stored
		}
	} else {
		log.Printf("[Phase1] 预告片转存失败 (%v)，直接记录厂商 URL", derr)
	}

	if err := models.UpdateProjectTrailer(a.db, projectID, trailerURL, trailerKey); err != nil {
		return errResult("save trailer failed: %v", err)
	}
	return okResult("trailer ready: %s", trailerKey)
}

func fetchBytes(ctx context.Context, srcURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 180 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download status: %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
