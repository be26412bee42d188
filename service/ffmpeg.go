package service

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// runFFmpeg 执行 ffmpeg，失败时带上 stderr 尾部方便排查
func runFFmpeg(args ...string) error {
	cmd := exec.Command("ffmpeg", append([]string{"-y"}, args...)...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		out := stderr.String()
		if len(out) > 600 {
			out = out[len(out)-600:]
		}
		return fmt.Errorf("ffmpeg error: %s", out)
	}
	return nil
}

// MergeAudioVideo 视频 + 配音合流，时长取两条流中较短者（-shortest）
func MergeAudioVideo(videoPath, audioPath, outputPath string) error {
	return runFFmpeg(
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-shortest",
		outputPath,
	)
}

// ConcatClips 按给定顺序把片段拼成一个 mp4（concat demuxer，固定 h264/aac + faststart）
func ConcatClips(clipPaths []string, outputPath string) error {
	if len(clipPaths) == 0 {
		return fmt.Errorf("no clips to concatenate")
	}
	listFile := filepath.Join(filepath.Dir(outputPath), "clips.txt")
	var sb strings.Builder
	for _, p := range clipPaths {
		sb.WriteString(fmt.Sprintf("file '%s'\n", p))
	}
	if err := os.WriteFile(listFile, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write concat list failed: %w", err)
	}
	return runFFmpeg(
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-movflags", "+faststart",
		outputPath,
	)
}

// ProbeDuration 用 ffprobe 读视频时长（秒）
func ProbeDuration(videoPath string) (float64, error) {
	cmd := exec.Command("ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe error: %w", err)
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration failed: %w", err)
	}
	return dur, nil
}

// ExtractFrame 在指定时间点抽一帧 jpg
func ExtractFrame(videoPath string, atSeconds float64, outputPath string) error {
	return runFFmpeg(
		"-ss", fmt.Sprintf("%.2f", atSeconds),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		outputPath,
	)
}
