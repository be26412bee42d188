package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"ScriptToMovie-server/config"
	"ScriptToMovie-server/models"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"
)

// run 取消注册表（runID -> cancelFunc），API 层可以据此取消正在执行的流水线
var runCancelRegistry = struct {
	sync.RWMutex
	m map[string]context.CancelFunc
}{
	m: make(map[string]context.CancelFunc),
}

func registerRunCancel(runID string, cancel context.CancelFunc) {
	runCancelRegistry.Lock()
	defer runCancelRegistry.Unlock()
	runCancelRegistry.m[runID] = cancel
}

func unregisterRunCancel(runID string) {
	runCancelRegistry.Lock()
	defer runCancelRegistry.Unlock()
	delete(runCancelRegistry.m, runID)
}

// CancelPipelineRun 取消正在执行的 run，返回是否实际找到并取消
func CancelPipelineRun(runID string) bool {
	runCancelRegistry.Lock()
	defer runCancelRegistry.Unlock()
	if cancel, ok := runCancelRegistry.m[runID]; ok {
		cancel()
		delete(runCancelRegistry.m, runID)
		return true
	}
	return false
}

// PipelineFunc 由 main 注入，避免 service ↔ pipeline 包循环依赖
type PipelineFunc func(ctx context.Context, db *gorm.DB, projectID string) error

// Processor 消费 pipeline:run 任务
type Processor struct {
	DB  *gorm.DB
	Run PipelineFunc
}

func NewProcessor(db *gorm.DB, run PipelineFunc) *Processor {
	return &Processor{DB: db, Run: run}
}

// StartProcessor 启动任务消费者
func (p *Processor) StartProcessor(concurrency int) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     config.AppConfig.Redis.Addr,
			Password: config.AppConfig.Redis.Password,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypePipelineRun, p.HandlePipelineRun)

	log.Printf("Starting Pipeline Processor with concurrency %d...", concurrency)
	go func() {
		if err := srv.Run(mux); err != nil {
			log.Fatalf("could not run server: %v", err)
		}
	}()
}

// HandlePipelineRun 在独立 DB 会话里执行整条流水线，并维护 run 记录的终态
func (p *Processor) HandlePipelineRun(ctx context.Context, t *asynq.Task) error {
	var payload PipelinePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	log.Printf("Processing Pipeline Run: project=%s run=%s", payload.ProjectID, payload.RunID)

	runCtx, cancel := context.WithCancel(ctx)
	registerRunCancel(payload.RunID, cancel)
	defer unregisterRunCancel(payload.RunID)

	// 流水线使用自己的会话，执行期间不占用任何请求作用域资源
	db := p.DB.Session(&gorm.Session{NewDB: true})

	err := p.Run(runCtx, db, payload.ProjectID)
	switch {
	case err == nil:
		if ferr := models.FinishPipelineRun(db, payload.RunID, models.RunStatusCompleted, ""); ferr != nil {
			log.Printf("更新 run 记录失败: %v", ferr)
		}
		log.Printf("Pipeline run %s completed", payload.RunID)
	case runCtx.Err() != nil:
		// 用户主动取消，与崩溃 / 业务失败区分开
		if ferr := models.FinishPipelineRun(db, payload.RunID, models.RunStatusCancelled, err.Error()); ferr != nil {
			log.Printf("更新 run 记录失败: %v", ferr)
		}
		log.Printf("Pipeline run %s cancelled", payload.RunID)
	default:
		if ferr := models.FinishPipelineRun(db, payload.RunID, models.RunStatusFailed, err.Error()); ferr != nil {
			log.Printf("更新 run 记录失败: %v", ferr)
		}
		log.Printf("Pipeline run %s failed: %v", payload.RunID, err)
	}
	// 失败状态已落库（project + run），不让 asynq 再重试
	return nil
}
