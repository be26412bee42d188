package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"ScriptToMovie-server/models"
	"ScriptToMovie-server/service"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type assembleMovieAgent struct {
	db  *gorm.DB
	tts *service.TTSClient
}

func (a *assembleMovieAgent) Name() string { return "assemble_movie" }

func (a *assembleMovieAgent) Execute(ctx context.Context, projectID string) Result {
	scenes, err := models.GetScenesByProjectID(a.db, projectID)
	if err != nil {
		return errResult("load scenes failed: %v", err)
	}

	clips, err := models.GetCompletedClipsByProjectID(a.db, projectID)
	if err != nil {
		return errResult("load clips failed: %v", err)
	}
	if len(clips) == 0 {
		return errResult("no completed clips to assemble")
	}
	clipByScene := make(map[string]models.GeneratedClip, len(clips))
	for _, c := range clips {
		clipByScene[c.SceneId] = c
	}
	// 成片时长记各片段落库时长之和，下载失败被跳过的片段也计入
	totalDuration := sumClipDurations(clips)

	workDir, err := os.MkdirTemp("", "assemble-*")
	if err != nil {
		return errResult("create temp dir failed: %v", err)
	}
	defer os.RemoveAll(workDir)

	// 成片顺序跟 scene.Order 走，预告片重排后的顺序在这里生效
	sort.SliceStable(scenes, func(i, j int) bool { return scenes[i].Order < scenes[j].Order })

	var parts []string
	for _, scene := range scenes {
		clip, ok := clipByScene[scene.ID]
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return errResult("assembly cancelled: %v", err)
		}

		clipPath := filepath.Join(workDir, fmt.Sprintf("clip-%03d.mp4", scene.Order))
		if err := service.DownloadToFile(ctx, clip.VideoUrl, clipPath); err != nil {
			// 下载失败的片段直接跳过，不重试
			log.Printf("[Assemble] 场景 %d 片段下载失败，跳过: %v", scene.SceneNumber, err)
			continue
		}

		parts = append(parts, a.withNarration(ctx, workDir, scene, clipPath))
	}
	if len(parts) == 0 {
		return errResult("all clip downloads failed, nothing to assemble")
	}

	finalPath := filepath.Join(workDir, "final_movie.mp4")
	if len(parts) == 1 {
		if err := copyFile(parts[0], finalPath); err != nil {
			return errResult("copy single clip failed: %v", err)
		}
	} else {
		if err := service.ConcatClips(parts, finalPath); err != nil {
			return errResult("concat clips failed: %v", err)
		}
	}

	data, err := os.ReadFile(finalPath)
	if err != nil {
		return errResult("read final movie failed: %v", err)
	}
	movieKey := fmt.Sprintf("projects/%s/final_movie.mp4", projectID)
	movieURL, err := service.UploadOrSaveLocal(data, movieKey)
	if err != nil {
		return errResult("store final movie failed: %v", err)
	}

	movie := models.FinalMovie{
		ID:        uuid.NewString(),
		ProjectId: projectID,
		MovieUrl:  movieURL,
		MovieKey:  movieKey,
		Duration:  totalDuration,
		Status:    "completed",
	}
	if err := models.CreateFinalMovie(a.db, &movie); err != nil {
		return errResult("save final movie failed: %v", err)
	}

	return okResult("assembled %d clips into final movie (%ds)", len(parts), totalDuration)
}

// withNarration 给带台词的片段配上旁白音轨，任何一步失败都退回纯视频
func (a *assembleMovieAgent) withNarration(ctx context.Context, workDir string, scene models.Scene, clipPath string) string {
	dialogue := CleanDialogue(scene.Dialogue)
	if dialogue == "" {
		return clipPath
	}

	audio, err := a.tts.Synthesize(ctx, dialogue)
	if err != nil {
		log.Printf("[Assemble] 场景 %d 旁白合成失败，用无声片段: %v", scene.SceneNumber, err)
		return clipPath
	}
	audioPath := filepath.Join(workDir, fmt.Sprintf("narration-%03d.mp3", scene.Order))
	if err := os.WriteFile(audioPath, audio, 0o644); err != nil {
		log.Printf("[Assemble] 场景 %d 旁白写盘失败: %v", scene.SceneNumber, err)
		return clipPath
	}

	mergedPath := filepath.Join(workDir, fmt.Sprintf("merged-%03d.mp4", scene.Order))
	if err := service.MergeAudioVideo(clipPath, audioPath, mergedPath); err != nil {
		log.Printf("[Assemble] 场景 %d 音视频合并失败，用无声片段: %v", scene.SceneNumber, err)
		return clipPath
	}
	return mergedPath
}

func sumClipDurations(clips []models.GeneratedClip) int {
	total := 0
	for _, c := range clips {
		total += c.Duration
	}
	return total
}

// CleanDialogue 把剧本台词整理成适合旁白朗读的纯文本：
// 去掉 "JOHN:"、"Narrator:" 这类说话人前缀，合并成单段。
func CleanDialogue(raw string) string {
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if idx := strings.Index(line, ":"); idx > 0 {
			if isSpeakerLabel(line[:idx]) {
				line = strings.TrimSpace(line[idx+1:])
			}
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, " ")
}

// 说话人标签：全大写，或首字母大写的纯字母（可带空格）串
func isSpeakerLabel(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	hasLetter := false
	allUpper := true
	alphaSpaces := true
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
			if !unicode.IsUpper(r) {
				allUpper = false
			}
		case r == ' ':
		default:
			alphaSpaces = false
			allUpper = false
		}
	}
	if !hasLetter {
		return false
	}
	if allUpper {
		return true
	}
	first := []rune(s)[0]
	return alphaSpaces && unicode.IsUpper(first)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
