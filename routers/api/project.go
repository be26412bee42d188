package api

import (
	"log"
	"net/http"
	"strings"
	"time"

	"ScriptToMovie-server/models"
	"ScriptToMovie-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// 创建项目（draft 状态，不触发流水线）
func CreateProject(c *gin.Context) {
	var req struct {
		Title         string `json:"title"`
		ScriptContent string `json:"script_content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.ScriptContent) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "script_content 不能为空"})
		return
	}
	if req.Title == "" {
		req.Title = "Untitled"
	}

	project := models.Project{
		ID:            uuid.NewString(),
		Title:         req.Title,
		ScriptContent: req.ScriptContent,
		Status:        models.ProjectStatusDraft,
		Progress:      0,
	}
	if err := models.CreateProject(models.GormDB, &project); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建项目失败: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"project": project})
}

// 获取项目详情（状态 / 进度 / 预告片 / 错误信息都在这里暴露）
func GetProject(c *gin.Context) {
	projectID := c.Param("project_id")

	project, err := models.GetProjectByID(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "项目未找到: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": project})
}

// 更新项目剧本。只允许在非运行状态下改，改完状态回到 draft。
func UpdateProject(c *gin.Context) {
	projectID := c.Param("project_id")
	var req struct {
		ScriptContent string `json:"script_content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.ScriptContent) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "script_content 不能为空"})
		return
	}

	project, err := models.GetProjectByID(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "项目未找到: " + err.Error()})
		return
	}
	if isRunningStatus(project.Status) {
		c.JSON(http.StatusConflict, gin.H{"error": "流水线运行中，不能修改剧本"})
		return
	}

	if err := models.UpdateProjectScript(models.GormDB, projectID, req.ScriptContent); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "更新剧本失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": projectID, "status": models.ProjectStatusDraft})
}

func isRunningStatus(status string) bool {
	switch status {
	case models.ProjectStatusAnalyzing,
		models.ProjectStatusExtractingFrame,
		models.ProjectStatusPrompting,
		models.ProjectStatusGeneratingClips,
		models.ProjectStatusAssembling:
		return true
	}
	return false
}

// 触发整条流水线：建一条 run 记录并入队，立即返回 run_id
func StartPipeline(c *gin.Context) {
	projectID := c.Param("project_id")

	project, err := models.GetProjectByID(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "项目未找到: " + err.Error()})
		return
	}
	if isRunningStatus(project.Status) {
		c.JSON(http.StatusConflict, gin.H{"error": "已有流水线在运行中"})
		return
	}

	run := models.PipelineRun{
		ID:        uuid.NewString(),
		ProjectId: projectID,
		Status:    models.RunStatusRunning,
		StartedAt: time.Now(),
	}
	if err := models.CreatePipelineRun(models.GormDB, &run); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建运行记录失败: " + err.Error()})
		return
	}
	if err := service.EnqueuePipelineRun(projectID, run.ID); err != nil {
		_ = models.FinishPipelineRun(models.GormDB, run.ID, models.RunStatusFailed, "enqueue failed: "+err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "任务入队失败: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"project_id": projectID,
		"run_id":     run.ID,
	})
}

// 查询单次运行记录
func GetPipelineRun(c *gin.Context) {
	runID := c.Param("run_id")
	run, err := models.GetPipelineRunByID(models.GormDB, runID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "运行记录未找到: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

// 取消一次运行。取消信号发给正在执行的 worker，落库由 worker 收尾。
func CancelPipelineRun(c *gin.Context) {
	runID := c.Param("run_id")
	if !service.CancelPipelineRun(runID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "没有正在运行的流水线: " + runID})
		return
	}
	log.Printf("[API] 流水线 %s 取消信号已发出", runID)
	c.JSON(http.StatusOK, gin.H{"run_id": runID, "cancelling": true})
}

// 获取场景列表，按 order 升序
func GetScenes(c *gin.Context) {
	projectID := c.Param("project_id")
	scenes, err := models.GetScenesByProjectID(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取场景失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scenes": scenes})
}

// 获取叙事结构：场景 + 角色 + 场地
func GetNarrative(c *gin.Context) {
	projectID := c.Param("project_id")

	scenes, err := models.GetScenesByProjectID(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取场景失败: " + err.Error()})
		return
	}
	characters, err := models.GetCharactersByProjectID(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取角色失败: " + err.Error()})
		return
	}
	settings, err := models.GetSettingsByProjectID(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取场地失败: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"scenes":     scenes,
		"characters": characters,
		"settings":   settings,
	})
}

// 获取分镜帧列表
func GetFrames(c *gin.Context) {
	projectID := c.Param("project_id")
	frames, err := models.GetFramesByProjectID(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取分镜帧失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"frames": frames})
}

// 获取片段列表（含失败片段及其错误信息）
func GetClips(c *gin.Context) {
	projectID := c.Param("project_id")
	clips, err := models.GetClipsByProjectID(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取片段失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"clips": clips})
}

// 获取成片
func GetFinalMovie(c *gin.Context) {
	projectID := c.Param("project_id")
	movie, err := models.GetFinalMovieByProjectID(models.GormDB, projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "成片未找到: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"movie": movie})
}
