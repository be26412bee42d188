package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"ScriptToMovie-server/models"
	"ScriptToMovie-server/service"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ---------------------------------------------------------------------------
// Phase 2: 预告片 → 每场景一张分镜帧
// ---------------------------------------------------------------------------

// 每个场景从其时间窗里抽的候选帧数上限
const framesPerScene = 5

type extractFramesAgent struct {
	db        *gorm.DB
	narrative *service.NarrativeClient
}

func (a *extractFramesAgent) Name() string { return "extract_frames" }

func (a *extractFramesAgent) Execute(ctx context.Context, projectID string) Result {
	project, err := models.GetProjectByID(a.db, projectID)
	if err != nil {
		return errResult("project not found: %v", err)
	}
	if project.TrailerUrl == "" {
		return errResult("project has no trailer, run phase 1 first")
	}

	scenes, err := models.GetScenesByProjectID(a.db, projectID)
	if err != nil {
		return errResult("load scenes failed: %v", err)
	}
	if len(scenes) == 0 {
		return errResult("no scenes found")
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

	// 本次运行的临时目录，无论成败都清掉
	tmpDir, err := os.MkdirTemp("", "frames-*")
	if err != nil {
		return errResult("create temp dir failed: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	trailerPath := filepath.Join(tmpDir, "trailer.mp4")
	if err := service.DownloadToFile(ctx, project.TrailerUrl, trailerPath); err != nil {
		return errResult("download trailer failed: %v", err)
	}

	trailerDur, err := service.ProbeDuration(trailerPath)
	if err != nil || trailerDur <= 0 {
		log.Printf("[Phase2] 预告片时长探测失败 (%v)，按 10 秒处理", err)
		trailerDur = 10
	}

	// 场景按 Order 顺序依次映射到预告片时间轴
	windows := sceneWindows(scenes)

	completed, failed := 0, 0
	for i, scene := range scenes {
		frame := models.StoryboardFrame{
			ID:        uuid.NewString(),
			SceneId:   scene.ID,
			ProjectId: projectID,
			Status:    models.FrameStatusFailed,
		}

		start, end := windows[i].start, windows[i].end
		switch {
		case start >= trailerDur:
			// 该场景的窗口已超出预告片长度，预告片里没有它
			log.Printf("[Phase2] 场景 %d 窗口起点 %.1fs 超出预告片时长 %.1fs", scene.SceneNumber, start, trailerDur)
		default:
			if end > trailerDur {
				end = trailerDur
			}
			candidates := a.extractCandidates(tmpDir, trailerPath, scene.Order, start, end)
			if len(candidates) == 0 {
				log.Printf("[Phase2] 场景 %d 没抽出任何候选帧", scene.SceneNumber)
				break
			}

			best := a.pickBestFrame(ctx, scene, charByName, settingByName, candidates)
			if best < 0 {
				log.Printf("[Phase2] 场景 %d 的 %d 张候选帧没有一张够格", scene.SceneNumber, len(candidates))
				break
			}

			key := fmt.Sprintf("projects/%s/frames/scene-%d-%s.jpg", projectID, scene.SceneNumber, uuid.NewString()[:8])
			url, uerr := service.UploadOrSaveLocal(candidates[best], key)
			if uerr != nil {
				log.Printf("[Phase2] 场景 %d 帧上传失败: %v", scene.SceneNumber, uerr)
				break
			}
			frame.ImageUrl = url
			frame.ImageKey = key
			frame.Status = models.FrameStatusCompleted
		}

		// 每个场景恰好写一条帧记录，失败的也落库
		if err := models.CreateStoryboardFrame(a.db, &frame); err != nil {
			return errResult("save storyboard frame failed: %v", err)
		}
		if frame.Status == models.FrameStatusCompleted {
			completed++
		} else {
			failed++
		}
	}

	switch {
	case completed == 0:
		return errResult("all %d frames failed to extract", failed)
	case failed > 0:
		return partialResult("extracted %d/%d frames", completed, len(scenes))
	default:
		return okResult("extracted %d frames", completed)
	}
}

// extractCandidates 在 [start, end) 里均匀抽最多 framesPerScene 张候选帧。
// 单张抽取失败只记日志，剩下的照常收集。
func (a *extractFramesAgent) extractCandidates(tmpDir, trailerPath string, order int, start, end float64) [][]byte {
	var frames [][]byte
	for j, ts := range candidateTimestamps(start, end) {
		framePath := filepath.Join(tmpDir, fmt.Sprintf("frame_%03d_%d.jpg", order, j))
		if err := service.ExtractFrame(trailerPath, ts, framePath); err != nil {
			log.Printf("[Phase2] t=%.1fs 抽帧失败: %v", ts, err)
			continue
		}
		data, err := os.ReadFile(framePath)
		if err != nil {
			log.Printf("[Phase2] t=%.1fs 读帧失败: %v", ts, err)
			continue
		}
		frames = append(frames, data)
	}
	return frames
}

// pickBestFrame 让视觉 worker 从候选帧里挑最贴合场景的一张。
// worker 调用本身失败时退回第一张候选帧；worker 明确返回 -1 才算没有可用帧。
func (a *extractFramesAgent) pickBestFrame(ctx context.Context, scene models.Scene,
	charByName map[string]models.Character, settingByName map[string]models.Setting,
	candidates [][]byte) int {

	var charNotes string
	for _, name := range scene.CharacterNames() {
		if c, ok := charByName[name]; ok && c.VisualDescription != "" {
			charNotes += fmt.Sprintf("- %s: %s\n", c.Name, c.VisualDescription)
		}
	}
	settingNotes := scene.Setting
	if s, ok := settingByName[scene.Setting]; ok && s.VisualDescription != "" {
		settingNotes = fmt.Sprintf("%s: %s", s.Name, s.VisualDescription)
	}

	encoded := make([]string, 0, len(candidates))
	for _, data := range candidates {
		encoded = append(encoded, base64.StdEncoding.EncodeToString(data))
	}

	best, err := a.narrative.SelectBestFrame(ctx, &service.FrameChoiceRequest{
		SceneNumber:    scene.SceneNumber,
		Title:          scene.Title,
		Description:    scene.Description,
		CharacterNotes: charNotes,
		SettingNotes:   settingNotes,
		Frames:         encoded,
	})
	if err != nil {
		log.Printf("[Phase2] 场景 %d 视觉评估失败 (%v)，用第一张候选帧", scene.SceneNumber, err)
		return 0
	}
	return best
}

type sceneWindow struct {
	start, end float64
}

// sceneWindows 把各场景的目标时长依次累加成预告片上的时间窗，
// 没写时长的场景按 8 秒算
func sceneWindows(scenes []models.Scene) []sceneWindow {
	windows := make([]sceneWindow, 0, len(scenes))
	cumulative := 0.0
	for _, s := range scenes {
		dur := float64(s.Duration)
		if dur <= 0 {
			dur = 8
		}
		windows = append(windows, sceneWindow{start: cumulative, end: cumulative + dur})
		cumulative += dur
	}
	return windows
}

// candidateTimestamps 窗口内均匀取样点：掐掉首尾各 10% 避开转场帧，
// 每秒最多一张、总数不超过 framesPerScene。
func candidateTimestamps(start, end float64) []float64 {
	duration := end - start
	if duration <= 0 {
		return nil
	}

	margin := duration * 0.1
	sampleStart := start + margin
	sampleEnd := end - margin
	if sampleEnd <= sampleStart {
		sampleStart, sampleEnd = start, end
	}

	count := int(duration)
	if count < 1 {
		count = 1
	}
	if count > framesPerScene {
		count = framesPerScene
	}
	if count == 1 {
		return []float64{sampleStart}
	}

	step := (sampleEnd - sampleStart) / float64(count-1)
	timestamps := make([]float64, 0, count)
	for j := 0; j < count; j++ {
		timestamps = append(timestamps, sampleStart+step*float64(j))
	}
	return timestamps
}
