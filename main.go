package main

import (
	"fmt"

	"ScriptToMovie-server/config"
	"ScriptToMovie-server/models"
	"ScriptToMovie-server/pipeline"
	"ScriptToMovie-server/routers"
	"ScriptToMovie-server/service"
)

func main() {
	config.InitConfig()
	fmt.Println("Server starting on port", config.AppConfig.Server.Port)
	models.InitDB()
	fmt.Println("Database initialized")

	service.InitQueue()
	fmt.Println("Queue initialized")

	service.InitMinIO()
	fmt.Println("MinIO initialized")

	processor := service.NewProcessor(models.GormDB, pipeline.RunFullPipeline)
	processor.StartProcessor(5)

	r := routers.InitRouter()
	r.Run(config.AppConfig.Server.Port)
}
