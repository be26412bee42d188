package pipeline

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"ScriptToMovie-server/models"
	"ScriptToMovie-server/service"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ---------------------------------------------------------------------------
// Phase 3: 分镜 → 片段 → 成片
// ---------------------------------------------------------------------------

type generatePromptsAgent struct {
	db        *gorm.DB
	narrative *service.NarrativeClient
}

func (a *generatePromptsAgent) Name() string { return "generate_prompts" }

// 提示词生成依赖逐场景的有序外部调用，必须串行
func (a *generatePromptsAgent) Execute(ctx context.Context, projectID string) Result {
	scenes, err := models.GetScenesByProjectID(a.db, projectID)
	if err != nil {
		return errResult("load scenes failed: %v", err)
	}
	if len(scenes) == 0 {
		return errResult("no scenes found, run phase 1 first")
	}

	characters, err := models.GetCharactersByProjectID(a.db, projectID)
	if err != nil {
		return errResult("load characters failed: %v", err)
	}
	charByName := make(map[string]models.Character, len(characters))
	for _, c := range characters {
		charByName[c.Name] = c
	}

	settings, err := models.GetSettingsByProjectID(a.db, projectID)
	if err != nil {
		return errResult("load settings failed: %v", err)
	}
	settingByName := make(map[string]models.Setting, len(settings))
	for _, s := range settings {
		settingByName[s.Name] = s
	}

	created := 0
	for _, scene := range scenes {
		var charNotes strings.Builder
		for _, name := range scene.CharacterNames() {
			if c, ok := charByName[name]; ok && c.VisualDescription != "" {
				fmt.Fprintf(&charNotes, "- %s: %s\n", c.Name, c.VisualDescription)
			}
		}
		settingNotes := ""
		if s, ok := settingByName[scene.Setting]; ok && s.VisualDescription != "" {
			settingNotes = fmt.Sprintf("Setting: %s\n%s", s.Name, s.VisualDescription)
		}

		duration := scene.Duration
		if duration <= 0 {
			duration = 5
		}

		result, err := a.narrative.GenerateClipPrompt(ctx, &service.PromptRequest{
			SceneNumber:    scene.SceneNumber,
			Title:          scene.Title,
			Description:    scene.Description,
			CharacterNotes: charNotes.String(),
			SettingNotes:   settingNotes,
			Duration:       duration,
		})
		if err != nil {
			return errResult("prompt generation failed for scene %d: %v", scene.SceneNumber, err)
		}

		style := result.Style
		if result.CameraMovement != "" {
			style = result.Style + " | " + result.CameraMovement
		}
		promptDur := result.Duration
		if promptDur <= 0 {
			promptDur = duration
		}
		if err := models.CreateVideoPrompt(a.db, &models.VideoPrompt{
			ID:        uuid.NewString(),
			SceneId:   scene.ID,
			ProjectId: projectID,
			Prompt:    result.Prompt,
			Duration:  promptDur,
			Style:     style,
		}); err != nil {
			return errResult("save video prompt failed: %v", err)
		}
		created++
	}

	return okResult("generated %d video prompts", created)
}

type generateClipsAgent struct {
	db    *gorm.DB
	kling *service.KlingClient
}

func (a *generateClipsAgent) Name() string { return "generate_clips" }

// 串行的提示词准备完成之后，所有场景的生成作业一次性并发提交
func (a *generateClipsAgent) Execute(ctx context.Context, projectID string) Result {
	scenes, err := models.GetScenesByProjectID(a.db, projectID)
	if err != nil {
		return errResult("load scenes failed: %v", err)
	}

	prompts, err := models.GetPromptsByProjectID(a.db, projectID)
	if err != nil {
		return errResult("load prompts failed: %v", err)
	}
	promptByScene := make(map[string]models.VideoPrompt, len(prompts))
	for _, p := range prompts {
		promptByScene[p.SceneId] = p
	}

	frames, err := models.GetFramesByProjectID(a.db, projectID)
	if err != nil {
		return errResult("load frames failed: %v", err)
	}
	frameByScene := make(map[string]models.StoryboardFrame, len(frames))
	for _, f := range frames {
		if f.Status == models.FrameStatusCompleted {
			frameByScene[f.SceneId] = f
		}
	}

	var jobs []ClipJob
	var missing []int
	for _, scene := range scenes {
		vp, ok := promptByScene[scene.ID]
		if !ok {
			missing = append(missing, scene.SceneNumber)
			continue
		}
		job := ClipJob{
			SceneId:     scene.ID,
			SceneNumber: scene.SceneNumber,
			Prompt:      vp.Prompt,
			Duration:    vp.Duration,
		}
		// 分镜帧作为图生视频的视觉参考，缺帧的场景走文生视频
		if frame, ok := frameByScene[scene.ID]; ok {
			job.ImageURL = frame.ImageUrl
		}
		jobs = append(jobs, job)
	}
	if len(jobs) == 0 {
		return errResult("no scenes with prompts, run generate_prompts first")
	}
	if len(missing) > 0 {
		log.Printf("[Phase3] 缺提示词的场景跳过生成: %v", missing)
	}

	// 每个作业的 clip 行由该作业自己创建并收尾，成败都即时落库
	_, failedScenes := RunClipBatch(ctx, jobs,
		func(ctx context.Context, job ClipJob) (*service.VideoClip, error) {
			return a.kling.GenerateClip(ctx, &service.ClipRequest{
				ProjectId:   projectID,
				SceneId:     job.SceneId,
				SceneNumber: job.SceneNumber,
				Prompt:      job.Prompt,
				Duration:    job.Duration,
				ImageURL:    job.ImageURL,
			})
		},
		func(job ClipJob, clip *service.VideoClip, err error) {
			row := models.GeneratedClip{
				ID:        uuid.NewString(),
				SceneId:   job.SceneId,
				ProjectId: projectID,
				Status:    models.ClipStatusGenerating,
			}
			if cerr := models.CreateGeneratedClip(a.db, &row); cerr != nil {
				log.Printf("[Phase3] 场景 %d clip 落库失败: %v", job.SceneNumber, cerr)
				return
			}
			if err != nil {
				log.Printf("[Phase3] 场景 %d 生成失败: %v", job.SceneNumber, err)
				if merr := models.MarkClipFailed(a.db, row.ID, err.Error()); merr != nil {
					log.Printf("[Phase3] 场景 %d 状态更新失败: %v", job.SceneNumber, merr)
				}
				return
			}
			if merr := models.MarkClipCompleted(a.db, row.ID, clip.VideoUrl, clip.VideoKey, clip.Duration); merr != nil {
				log.Printf("[Phase3] 场景 %d 状态更新失败: %v", job.SceneNumber, merr)
			}
		},
	)

	return clipBatchVerdict(len(scenes), failedScenes, missing)
}

// clipBatchVerdict 按全部场景数算账：缺提示词的场景和生成失败的场景
// 同属失败口径，只要有缺口结论就不能是 success。
func clipBatchVerdict(total int, failedScenes, missing []int) Result {
	failed := make([]int, 0, len(failedScenes)+len(missing))
	failed = append(failed, failedScenes...)
	failed = append(failed, missing...)
	sort.Ints(failed)

	generated := total - len(failed)
	switch {
	case generated <= 0:
		return errResult("all %d clip jobs failed (scenes %v)", total, failed)
	case len(failed) > 0:
		// 编排器的策略是带着缺口继续拼片，缺的场景记在日志里
		return partialResult("generated %d/%d clips, failed scenes %v", generated, total, failed)
	default:
		return okResult("generated %d clips", total)
	}
}
