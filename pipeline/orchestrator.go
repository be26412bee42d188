package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"

	"ScriptToMovie-server/models"
	"ScriptToMovie-server/service"

	"gorm.io/gorm"
)

// ProjectStore 编排器对项目行的全部写入口。
// 持久化状态是进度的唯一事实来源，内存里不留权威状态。
type ProjectStore interface {
	SetStatus(projectID, status string) error
	SetProgress(projectID string, progress int) error
	MarkFailed(projectID, errMsg string) error
}

type gormProjectStore struct {
	db *gorm.DB
}

func (s gormProjectStore) SetStatus(projectID, status string) error {
	return models.UpdateProjectStatus(s.db, projectID, status, -1)
}

func (s gormProjectStore) SetProgress(projectID string, progress int) error {
	return models.UpdateProjectProgress(s.db, projectID, progress)
}

func (s gormProjectStore) MarkFailed(projectID, errMsg string) error {
	return models.MarkProjectFailed(s.db, projectID, errMsg)
}

// Step 一个 agent 步骤：进入时写状态，完成时写进度。
// 进度权重固定：Phase 1 占 0–33，Phase 2 占 33–66，Phase 3 占 66–100，
// 每步写自己的小区间，中途崩溃留下的是可续跑的状态。
type Step struct {
	Status   string
	Agent    Agent
	Progress int
}

type Phase struct {
	Name       string
	DoneStatus string // 阶段完成后的项目状态，空串表示保持步骤状态
	Steps      []Step
}

// Orchestrator 按序执行三个阶段。前一阶段没有干净结束，后一阶段不进。
type Orchestrator struct {
	Store  ProjectStore
	Phases []Phase
}

// Run 整条流水线。任何下层未消化的错误在这里统一落库为
// status=failed + 错误信息，然后原样返回给调用方 —— 这一层绝不吞失败。
func (o *Orchestrator) Run(ctx context.Context, projectID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
			if serr := o.Store.MarkFailed(projectID, err.Error()); serr != nil {
				log.Printf("记录失败状态出错: %v", serr)
			}
		}
	}()

	for _, phase := range o.Phases {
		log.Printf("[Pipeline] %s starting for project %s", phase.Name, projectID)

		for _, step := range phase.Steps {
			if ctx.Err() != nil {
				err := fmt.Errorf("pipeline cancelled before %s: %w", step.Agent.Name(), ctx.Err())
				o.failProject(projectID, err.Error())
				return err
			}

			if serr := o.Store.SetStatus(projectID, step.Status); serr != nil {
				o.failProject(projectID, serr.Error())
				return fmt.Errorf("update status failed: %w", serr)
			}

			result := step.Agent.Execute(ctx, projectID)
			switch result.Status {
			case StatusError:
				msg := fmt.Sprintf("%s failed: %s: %s", phase.Name, step.Agent.Name(), result.Message)
				o.failProject(projectID, msg)
				return errors.New(msg)
			case StatusPartial:
				// 部分失败继续推进，缺的场景已逐条落库并记录
				log.Printf("[Pipeline] %s: %s partial: %s", phase.Name, step.Agent.Name(), result.Message)
			default:
				log.Printf("[Pipeline] %s: %s done: %s", phase.Name, step.Agent.Name(), result.Message)
			}

			if serr := o.Store.SetProgress(projectID, step.Progress); serr != nil {
				log.Printf("写进度失败: %v", serr)
			}
		}

		if phase.DoneStatus != "" {
			if serr := o.Store.SetStatus(projectID, phase.DoneStatus); serr != nil {
				o.failProject(projectID, serr.Error())
				return fmt.Errorf("update status failed: %w", serr)
			}
		}
	}
	return nil
}

func (o *Orchestrator) failProject(projectID, msg string) {
	if serr := o.Store.MarkFailed(projectID, msg); serr != nil {
		log.Printf("记录失败状态出错: %v", serr)
	}
}

// NewMoviePipeline 组装默认的三阶段流水线
func NewMoviePipeline(db *gorm.DB) *Orchestrator {
	narrative := service.NewNarrativeClient()
	kling := service.NewKlingClient()
	tts := service.NewTTSClient()

	return &Orchestrator{
		Store: gormProjectStore{db: db},
		Phases: []Phase{
			{
				Name:       "Phase 1: Script to Trailer",
				DoneStatus: models.ProjectStatusParsed,
				Steps: []Step{
					{Status: models.ProjectStatusAnalyzing, Agent: &analyzeScriptAgent{store: &gormAnalysisStore{db: db}, analyzer: narrative}, Progress: 10},
					{Status: models.ProjectStatusAnalyzing, Agent: &extractCharactersAgent{db: db, narrative: narrative}, Progress: 16},
					{Status: models.ProjectStatusAnalyzing, Agent: &extractSettingsAgent{db: db, narrative: narrative}, Progress: 22},
					{Status: models.ProjectStatusAnalyzing, Agent: &selectTrailerScenesAgent{db: db, narrative: narrative}, Progress: 27},
					{Status: models.ProjectStatusAnalyzing, Agent: &generateTrailerAgent{db: db, kling: kling}, Progress: 33},
				},
			},
			{
				Name: "Phase 2: Trailer to Storyboard",
				Steps: []Step{
					{Status: models.ProjectStatusExtractingFrame, Agent: &extractFramesAgent{db: db, narrative: narrative}, Progress: 66},
				},
			},
			{
				Name:       "Phase 3: Storyboard to Movie",
				DoneStatus: models.ProjectStatusCompleted,
				Steps: []Step{
					{Status: models.ProjectStatusPrompting, Agent: &generatePromptsAgent{db: db, narrative: narrative}, Progress: 76},
					{Status: models.ProjectStatusGeneratingClips, Agent: &generateClipsAgent{db: db, kling: kling}, Progress: 90},
					{Status: models.ProjectStatusAssembling, Agent: &assembleMovieAgent{db: db, tts: tts}, Progress: 100},
				},
			},
		},
	}
}

// RunFullPipeline Processor 的入口：校验项目存在后整跑三个阶段
func RunFullPipeline(ctx context.Context, db *gorm.DB, projectID string) error {
	if _, err := models.GetProjectByID(db, projectID); err != nil {
		return fmt.Errorf("project %s not found: %w", projectID, err)
	}
	return NewMoviePipeline(db).Run(ctx, projectID)
}
