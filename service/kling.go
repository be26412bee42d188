package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"ScriptToMovie-server/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// 公开示例视频，凭证缺失 / 余额不足 / 网络抖动时作为占位片段
const MockVideoURL = "https://sample-videos.com/video321/mp4/720/big_buck_bunny_720p_1mb.mp4"

// ErrGenerationTimeout 轮询超出硬性时间上限。这种情况永远如实上抛，不替换成 mock。
var ErrGenerationTimeout = errors.New("generation task polling timeout")

// errKlingTransient 标记可降级的临时性错误（网络抖动 / 5xx / 余额不足）
var errKlingTransient = errors.New("kling transient error")

// KlingClient 单个外部生成任务的客户端：提交、轮询、超时、降级策略都在这里
type KlingClient struct {
	BaseURL      string
	AccessKey    string
	SecretKey    string
	AspectRatio  string
	PollInterval time.Duration
	MaxWait      time.Duration
	HTTP         *http.Client
}

func NewKlingClient() *KlingClient {
	return &KlingClient{
		BaseURL:      config.AppConfig.Kling.BaseURL,
		AccessKey:    config.KlingAccessKey(),
		SecretKey:    config.KlingSecretKey(),
		AspectRatio:  config.AppConfig.Kling.AspectRatio,
		PollInterval: config.KlingPollInterval(),
		MaxWait:      config.KlingMaxWait(),
		HTTP:         &http.Client{Timeout: 60 * time.Second},
	}
}

// ClipRequest 一次片段生成请求
type ClipRequest struct {
	ProjectId   string
	SceneId     string
	SceneNumber int
	Prompt      string
	Duration    int    // 目标秒数，Kling 只支持 5/10
	ImageURL    string // 分镜帧 URL，可选；有则走图生视频
}

// VideoClip 确定性的终态片段记录
type VideoClip struct {
	VideoUrl string
	VideoKey string
	Duration int
}

// TaskPoll 单次轮询结果
type TaskPoll struct {
	Status   string // queued | succeeded | failed
	VideoUrl string
	ErrorMsg string
}

const (
	TaskPollQueued    = "queued"
	TaskPollSucceeded = "succeeded"
	TaskPollFailed    = "failed"
)

// 短效签名 token，30 分钟过期（与原厂要求一致）
func (c *KlingClient) generateToken() (string, error) {
	now := time.Now().Unix()
	claims := jwt.MapClaims{
		"iss": c.AccessKey,
		"exp": now + 1800,
		"nbf": now - 5,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(c.SecretKey))
}

func (c *KlingClient) hasCredentials() bool {
	return c.AccessKey != "" && c.SecretKey != ""
}

// klingDuration Kling 只接受 "5" / "10"
func klingDuration(seconds int) string {
	if seconds <= 7 {
		return "5"
	}
	return "10"
}

func normalizeClipDuration(seconds int) int {
	if seconds == 5 || seconds == 10 {
		return seconds
	}
	return 5
}

func clipVideoKey(projectID string, sceneNumber int) string {
	return fmt.Sprintf("projects/%s/videos/scene-%d-%s.mp4", projectID, sceneNumber, uuid.NewString()[:8])
}

// mockClip 降级占位片段：固定示例视频 + 新生成的 key
func (c *KlingClient) mockClip(req *ClipRequest, reason string) *VideoClip {
	log.Printf("[Kling] 使用 mock 片段 project=%s scene=%d (%s)", req.ProjectId, req.SceneNumber, reason)
	return &VideoClip{
		VideoUrl: MockVideoURL,
		VideoKey: clipVideoKey(req.ProjectId, req.SceneNumber),
		Duration: normalizeClipDuration(req.Duration),
	}
}

// SubmitText2Video 提交文生视频任务，返回厂商 task_id
func (c *KlingClient) SubmitText2Video(ctx context.Context, prompt string, duration int) (string, error) {
	body := map[string]interface{}{
		"model_name":   "kling-v2-master",
		"prompt":       prompt,
		"duration":     klingDuration(duration),
		"aspect_ratio": c.AspectRatio,
	}
	return c.submit(ctx, "/videos/text2video", body)
}

// SubmitImage2Video 提交图生视频任务。imageB64 为分镜帧的 base64（无 data-URI 前缀）
func (c *KlingClient) SubmitImage2Video(ctx context.Context, imageB64, prompt string, duration int) (string, error) {
	body := map[string]interface{}{
		"model_name":      "kling-v1",
		"image":           imageB64,
		"prompt":          prompt,
		"negative_prompt": "blurry, low quality, distorted, watermark",
		"cfg_scale":       0.5,
		"mode":            "std",
		"duration":        klingDuration(duration),
	}
	return c.submit(ctx, "/videos/image2video", body)
}

func (c *KlingClient) submit(ctx context.Context, path string, body map[string]interface{}) (string, error) {
	token, err := c.generateToken()
	if err != nil {
		return "", fmt.Errorf("生成 Kling token 失败: %w", err)
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		// 网络层错误按临时性处理
		return "", fmt.Errorf("kling submit request failed: %v: %w", err, errKlingTransient)
	}
	defer resp.Body.Close()

	respBytes, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		var errBody struct {
			Code int `json:"code"`
		}
		_ = json.Unmarshal(respBytes, &errBody)
		if errBody.Code == 1102 {
			// 余额不足，厂商 code 1102
			return "", fmt.Errorf("kling insufficient balance: %w", errKlingTransient)
		}
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("kling submit status %d: %s: %w", resp.StatusCode, truncate(string(respBytes), 300), errKlingTransient)
	}
	if resp.StatusCode != http.StatusOK {
		// 其余 HTTP 错误是真失败，不做降级
		return "", fmt.Errorf("kling rejected the request (HTTP %d): %s", resp.StatusCode, truncate(string(respBytes), 300))
	}

	var result struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    struct {
			TaskID string `json:"task_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return "", fmt.Errorf("decode submit response failed: %w", err)
	}
	if result.Code != 0 {
		return "", fmt.Errorf("kling api error code %d: %s", result.Code, result.Message)
	}
	if result.Data.TaskID == "" {
		return "", fmt.Errorf("kling submit response missing task_id")
	}
	return result.Data.TaskID, nil
}

// PollTask 查询一次任务状态。pollBase 与提交用的端点一致（t2v / i2v 各自的查询路径）
func (c *KlingClient) PollTask(ctx context.Context, pollBase, taskID, token string) (*TaskPoll, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+pollBase+"/"+taskID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kling poll request failed: %v: %w", err, errKlingTransient)
	}
	defer resp.Body.Close()

	respBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("kling poll status %d: %w", resp.StatusCode, errKlingTransient)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kling poll status %d: %s", resp.StatusCode, truncate(string(respBytes), 300))
	}

	var result struct {
		Code int `json:"code"`
		Data struct {
			TaskStatus    string `json:"task_status"`
			TaskStatusMsg string `json:"task_status_msg"`
			TaskResult    struct {
				Videos []struct {
					Url string `json:"url"`
				} `json:"videos"`
			} `json:"task_result"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("decode poll response failed: %w", err)
	}

	switch result.Data.TaskStatus {
	case "succeed", "completed":
		if len(result.Data.TaskResult.Videos) == 0 {
			return &TaskPoll{Status: TaskPollFailed, ErrorMsg: "task succeeded but returned no videos"}, nil
		}
		return &TaskPoll{Status: TaskPollSucceeded, VideoUrl: result.Data.TaskResult.Videos[0].Url}, nil
	case "failed":
		msg := result.Data.TaskStatusMsg
		if msg == "" {
			msg = "unknown error"
		}
		return &TaskPoll{Status: TaskPollFailed, ErrorMsg: msg}, nil
	default:
		// submitted / processing 等状态继续等
		return &TaskPoll{Status: TaskPollQueued}, nil
	}
}

// GenerateClip 提交 + 轮询直到终态。无论厂商是否可用，都保证返回一条确定性的片段记录
// 或一个明确的错误（厂商明确失败 / 轮询超时），绝不挂起。
func (c *KlingClient) GenerateClip(ctx context.Context, req *ClipRequest) (*VideoClip, error) {
	if !c.hasCredentials() {
		return c.mockClip(req, "Kling 凭证未配置"), nil
	}

	endpoint := "/videos/text2video"
	var taskID string
	var err error

	if req.ImageURL != "" {
		imageB64, imgErr := FetchImageAsBase64(ctx, c.HTTP, req.ImageURL)
		if imgErr != nil {
			if errors.Is(imgErr, ErrUnsupportedImage) {
				// 格式不支持是显式错误，不静默降级
				return nil, imgErr
			}
			// 参考图拉取失败 → 退回文生视频，而不是整单作废
			log.Printf("[Kling] 分镜帧获取失败 scene=%d (%v)，退回文生视频", req.SceneNumber, imgErr)
		} else {
			endpoint = "/videos/image2video"
			taskID, err = c.SubmitImage2Video(ctx, imageB64, req.Prompt, req.Duration)
		}
	}
	if taskID == "" && err == nil {
		endpoint = "/videos/text2video"
		taskID, err = c.SubmitText2Video(ctx, req.Prompt, req.Duration)
	}
	if err != nil {
		if errors.Is(err, errKlingTransient) {
			return c.mockClip(req, err.Error()), nil
		}
		return nil, err
	}
	log.Printf("[Kling] 任务已提交 task=%s project=%s scene=%d", taskID, req.ProjectId, req.SceneNumber)

	token, err := c.generateToken()
	if err != nil {
		return nil, err
	}

	timeout := time.After(c.MaxWait)
	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("generation cancelled: %w", ctx.Err())
		case <-timeout:
			return nil, fmt.Errorf("kling task %s exceeded %s: %w", taskID, c.MaxWait, ErrGenerationTimeout)
		case <-ticker.C:
			attempt++
			// token 30 分钟过期，按轮询次数定期重签，避免长任务中途失效
			if attempt%100 == 0 {
				if fresh, terr := c.generateToken(); terr == nil {
					token = fresh
				}
			}

			poll, perr := c.PollTask(ctx, endpoint, taskID, token)
			if perr != nil {
				if errors.Is(perr, errKlingTransient) {
					return c.mockClip(req, perr.Error()), nil
				}
				return nil, perr
			}

			switch poll.Status {
			case TaskPollSucceeded:
				log.Printf("[Kling] 视频就绪 task=%s scene=%d: %s", taskID, req.SceneNumber, truncate(poll.VideoUrl, 80))
				return &VideoClip{
					VideoUrl: poll.VideoUrl,
					VideoKey: clipVideoKey(req.ProjectId, req.SceneNumber),
					Duration: normalizeClipDuration(req.Duration),
				}, nil
			case TaskPollFailed:
				// 厂商明确报失败，按真失败上抛
				return nil, fmt.Errorf("kling task %s failed: %s", taskID, poll.ErrorMsg)
			}
			// queued → 下一轮
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
