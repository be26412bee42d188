package pipeline

import (
	"context"
	"sync"

	"ScriptToMovie-server/service"
)

// ClipJob 一个独立的场景片段生成作业
type ClipJob struct {
	SceneId     string
	SceneNumber int
	Prompt      string
	Duration    int
	ImageURL    string
}

// RunClipBatch 并发批次执行器：所有作业同时提交，谁先完成谁先走 persist 回调，
// 最快的结果不等最慢的作业。单个作业失败（含超时）不会取消或阻塞兄弟作业；
// 结果按场景落库，完成顺序不影响最终拼接顺序。
//
// 返回批次状态（success / partial / error —— 有失败有成功即 partial）
// 和失败场景号列表。
func RunClipBatch(
	ctx context.Context,
	jobs []ClipJob,
	generate func(ctx context.Context, job ClipJob) (*service.VideoClip, error),
	persist func(job ClipJob, clip *service.VideoClip, err error),
) (string, []int) {
	if len(jobs) == 0 {
		return StatusError, nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	var failedScenes []int

	for _, job := range jobs {
		wg.Add(1)
		go func(job ClipJob) {
			defer wg.Done()

			clip, err := generate(ctx, job)
			// 结果在完成当刻就交给回调持久化
			persist(job, clip, err)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failedScenes = append(failedScenes, job.SceneNumber)
			} else {
				succeeded++
			}
		}(job)
	}
	wg.Wait()

	switch {
	case succeeded == 0:
		return StatusError, failedScenes
	case len(failedScenes) > 0:
		return StatusPartial, failedScenes
	default:
		return StatusSuccess, nil
	}
}
