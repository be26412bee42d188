package pipeline

import (
	"context"
	"testing"

	"ScriptToMovie-server/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	statuses   []string
	progresses []int
	failedMsg  string
	failed     bool
}

func (s *fakeStore) SetStatus(projectID, status string) error {
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *fakeStore) SetProgress(projectID string, progress int) error {
	s.progresses = append(s.progresses, progress)
	return nil
}

func (s *fakeStore) MarkFailed(projectID, errMsg string) error {
	s.failed = true
	s.failedMsg = errMsg
	return nil
}

type fakeAgent struct {
	name   string
	result Result
	calls  *[]string
}

func (a *fakeAgent) Name() string { return a.name }

func (a *fakeAgent) Execute(ctx context.Context, projectID string) Result {
	*a.calls = append(*a.calls, a.name)
	return a.result
}

func testPipeline(store *fakeStore, calls *[]string, results map[string]Result) *Orchestrator {
	agent := func(name string) *fakeAgent {
		r, ok := results[name]
		if !ok {
			r = okResult("ok")
		}
		return &fakeAgent{name: name, result: r, calls: calls}
	}
	return &Orchestrator{
		Store: store,
		Phases: []Phase{
			{
				Name:       "phase1",
				DoneStatus: models.ProjectStatusParsed,
				Steps: []Step{
					{Status: models.ProjectStatusAnalyzing, Agent: agent("analyze"), Progress: 10},
					{Status: models.ProjectStatusAnalyzing, Agent: agent("trailer"), Progress: 33},
				},
			},
			{
				Name: "phase2",
				Steps: []Step{
					{Status: models.ProjectStatusExtractingFrame, Agent: agent("frames"), Progress: 66},
				},
			},
			{
				Name:       "phase3",
				DoneStatus: models.ProjectStatusCompleted,
				Steps: []Step{
					{Status: models.ProjectStatusGeneratingClips, Agent: agent("clips"), Progress: 90},
					{Status: models.ProjectStatusAssembling, Agent: agent("assemble"), Progress: 100},
				},
			},
		},
	}
}

func TestOrchestratorHappyPath(t *testing.T) {
	store := &fakeStore{}
	var calls []string
	o := testPipeline(store, &calls, nil)

	err := o.Run(context.Background(), "p1")
	require.NoError(t, err)

	assert.Equal(t, []string{"analyze", "trailer", "frames", "clips", "assemble"}, calls)
	assert.Equal(t, []string{
		models.ProjectStatusAnalyzing,
		models.ProjectStatusAnalyzing,
		models.ProjectStatusParsed,
		models.ProjectStatusExtractingFrame,
		models.ProjectStatusGeneratingClips,
		models.ProjectStatusAssembling,
		models.ProjectStatusCompleted,
	}, store.statuses)
	assert.False(t, store.failed)
}

func TestOrchestratorProgressMonotonic(t *testing.T) {
	store := &fakeStore{}
	var calls []string
	o := testPipeline(store, &calls, nil)

	require.NoError(t, o.Run(context.Background(), "p1"))

	require.NotEmpty(t, store.progresses)
	prev := -1
	for _, p := range store.progresses {
		assert.Greater(t, p, prev, "progress must strictly increase")
		prev = p
	}
	assert.Equal(t, 100, store.progresses[len(store.progresses)-1])
}

func TestOrchestratorStopsOnError(t *testing.T) {
	store := &fakeStore{}
	var calls []string
	o := testPipeline(store, &calls, map[string]Result{
		"frames": errResult("trailer missing"),
	})

	err := o.Run(context.Background(), "p1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frames")
	assert.Contains(t, err.Error(), "trailer missing")

	// 出错步骤之后的 agent 一个都不能执行
	assert.Equal(t, []string{"analyze", "trailer", "frames"}, calls)
	assert.True(t, store.failed)
	assert.Contains(t, store.failedMsg, "trailer missing")
	// 错误后不再写阶段完成状态
	assert.NotContains(t, store.statuses, models.ProjectStatusCompleted)
}

func TestOrchestratorPartialProceeds(t *testing.T) {
	store := &fakeStore{}
	var calls []string
	o := testPipeline(store, &calls, map[string]Result{
		"clips": partialResult("2/5 failed"),
	})

	err := o.Run(context.Background(), "p1")
	require.NoError(t, err)

	assert.Equal(t, []string{"analyze", "trailer", "frames", "clips", "assemble"}, calls)
	assert.Contains(t, store.statuses, models.ProjectStatusCompleted)
	assert.False(t, store.failed)
}

func TestOrchestratorCancelledContext(t *testing.T) {
	store := &fakeStore{}
	var calls []string
	o := testPipeline(store, &calls, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := o.Run(ctx, "p1")
	require.Error(t, err)
	assert.Empty(t, calls)
	assert.True(t, store.failed)
}

type panicAgent struct{}

func (panicAgent) Name() string { return "boom" }
func (panicAgent) Execute(ctx context.Context, projectID string) Result {
	panic("unexpected nil")
}

func TestOrchestratorRecoversPanic(t *testing.T) {
	store := &fakeStore{}
	o := &Orchestrator{
		Store: store,
		Phases: []Phase{
			{Name: "phase1", Steps: []Step{
				{Status: models.ProjectStatusAnalyzing, Agent: panicAgent{}, Progress: 10},
			}},
		},
	}

	err := o.Run(context.Background(), "p1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
	assert.True(t, store.failed)
}
