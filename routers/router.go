package routers

import (
	"ScriptToMovie-server/routers/api"

	"github.com/gin-gonic/gin"
)

func InitRouter() *gin.Engine {
	r := gin.Default()
	r.Static("/media", "./media")
	v1 := r.Group("/v1/api")
	{
		v1.POST("/projects", api.CreateProject)
		v1.GET("/projects/:project_id", api.GetProject)
		v1.PUT("/projects/:project_id", api.UpdateProject)
		v1.POST("/projects/:project_id/generate", api.StartPipeline)
		v1.GET("/projects/:project_id/scenes", api.GetScenes)
		v1.GET("/projects/:project_id/narrative", api.GetNarrative)
		v1.GET("/projects/:project_id/frames", api.GetFrames)
		v1.GET("/projects/:project_id/clips", api.GetClips)
		v1.GET("/projects/:project_id/movie", api.GetFinalMovie)
		v1.GET("/runs/:run_id", api.GetPipelineRun)
		v1.POST("/runs/:run_id/cancel", api.CancelPipelineRun)
	}
	r.GET("/projects/:project_id/wss", api.ProjectProgressWebSocket)
	return r
}
