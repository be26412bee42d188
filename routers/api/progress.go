package api

import (
	"net/http"
	"time"

	"ScriptToMovie-server/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// 项目进度 WebSocket 推送。以数据库为来源：流水线 worker 写 DB，
// 这里每秒轮询一次并在状态/进度变化时推送，终态推完即断开。
func ProjectProgressWebSocket(c *gin.Context) {
	projectID := c.Param("project_id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "WebSocket升级失败"})
		return
	}
	defer conn.Close()

	project, err := models.GetProjectByID(models.GormDB, projectID)
	if err != nil {
		conn.WriteJSON(map[string]interface{}{"error": "project not found: " + err.Error()})
		return
	}
	_ = conn.WriteJSON(project)

	pushProjectUpdates(conn, func() (*models.Project, error) {
		return models.GetProjectByID(models.GormDB, projectID)
	}, project.Status, project.Progress, time.Second)
}

type progressWriter interface {
	WriteJSON(v interface{}) error
}

// pushProjectUpdates 轮询到变化就推送，终态推完即返回。
// 变化和终态落在同一轮时只推一次。
func pushProjectUpdates(conn progressWriter, fetch func() (*models.Project, error), prevStatus string, prevProgress int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		cur, err := fetch()
		if err != nil {
			continue
		}

		changed := cur.Status != prevStatus || cur.Progress != prevProgress
		if changed {
			if err := conn.WriteJSON(cur); err != nil {
				return
			}
			prevStatus = cur.Status
			prevProgress = cur.Progress
		}

		if cur.Status == models.ProjectStatusCompleted || cur.Status == models.ProjectStatusFailed {
			if !changed {
				_ = conn.WriteJSON(cur)
			}
			return
		}
	}
}
