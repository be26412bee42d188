package service

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"ScriptToMovie-server/config"

	"github.com/hibiken/asynq"
)

const (
	TypePipelineRun = "pipeline:run"
)

type PipelinePayload struct {
	ProjectID string `json:"project_id"`
	RunID     string `json:"run_id"`
}

var QueueClient *asynq.Client

// InitQueue 初始化
func InitQueue() {
	QueueClient = asynq.NewClient(asynq.RedisClientOpt{
		Addr:     config.AppConfig.Redis.Addr,
		Password: config.AppConfig.Redis.Password,
	})
}

// EnqueuePipelineRun 流水线整跑入队。HTTP 请求到这里就返回了，
// 执行由 Processor 用自己的 DB 会话完成。
func EnqueuePipelineRun(projectID, runID string) error {
	payload, err := json.Marshal(PipelinePayload{ProjectID: projectID, RunID: runID})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(TypePipelineRun, payload,
		asynq.MaxRetry(0),                // 整条流水线不自动重试，失败状态落库由用户决定重跑
		asynq.Timeout(4*time.Hour),       // 多场景视频生成很慢
		asynq.Retention(24*time.Hour),    // 任务结果在 Redis 保留时间
	)

	info, err := QueueClient.Enqueue(task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}

	log.Printf("[Queue] Pipeline Enqueued: project=%s run=%s queue_id=%s", projectID, runID, info.ID)
	return nil
}
