package main

import (
	"fmt"
	"log"
	"os"
	_ "waitq/docs"
	"waitq/internal/auth"
	"waitq/internal/handlers"
	"waitq/internal/models"
	"waitq/internal/storage"
	"waitq/internal/tasks"
	"waitq/internal/ws"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @Title						Онлайн-очередь для заведений
// @securityDefinitions.apikey	BearerAuth
// @in							header
// @name						Authorization
func main() {
	key := os.Getenv("ENV_CHEK")
	if key == "" {
		fmt.Println("Подключение к .env")
		err := godotenv.Load()
		if err != nil {
			log.Fatal("Ошибка получения .env")
		}
	}

	storage.ConnectDatabase()

	if err := storage.DB.AutoMigrate(
		&models.User{},
		&models.Queue{},
		&models.QueueEntry{},
		&models.QueueHistory{},
		&models.Notification{},
	); err != nil {
		log.Fatal("Ошибка при миграции... ", err.Error())
	}

	storage.InitRedis()

	tasks.InitScheduler()

	go ws.HubInstance.Run()

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/login", handlers.Login)
		authGroup.POST("/register", handlers.Register)
		authGroup.POST("/refresh", handlers.RefreshToken)
	}

	// Публичные эндпоинты: вход в очередь доступен без регистрации.
	public := r.Group("/api")
	{
		public.GET("/queues", handlers.GetOpenQueuesHandler)
		public.GET("/queues/search", handlers.SearchQueuesHandler)
		public.GET("/queues/code/:code", handlers.GetQueueByCodeHandler)
		public.POST("/queues/code/:code/join", handlers.JoinQueueHandler)
		public.GET("/entries/:id", handlers.GetEntryPositionHandler)
		public.POST("/entries/:id/leave", handlers.LeaveQueueHandler)
		public.GET("/queues/:id/ws", ws.QueueWebSocketHandler)
		public.GET("/ws", ws.GlobalWebSocketHandler)
	}

	manage := r.Group("/api/manage", auth.AuthMiddleware())
	{
		manage.POST("/queues", handlers.CreateQueueHandler)
		manage.GET("/queues", handlers.GetMyQueuesHandler)
		manage.GET("/queues/:id", handlers.GetQueueDetailHandler)
		manage.PUT("/queues/:id", handlers.EditQueueHandler)
		manage.DELETE("/queues/:id", handlers.CloseQueueHandler)
		manage.POST("/queues/:id/pause", handlers.PauseQueueHandler)
		manage.POST("/queues/:id/resume", handlers.ResumeQueueHandler)
		manage.POST("/queues/:id/call-next", handlers.CallNextHandler)
		manage.POST("/queues/:id/entries/:entryId/serve", handlers.MarkServedHandler)
		manage.POST("/queues/:id/entries/:entryId/no-show", handlers.MarkNoShowHandler)
		manage.POST("/queues/:id/entries/:entryId/arrived", handlers.MarkArrivedHandler)
	}

	profile := r.Group("/profile", auth.AuthMiddleware())
	{
		profile.GET("/entries", handlers.GetUserEntriesHandler)
	}

	if err := r.Run(":8080"); err != nil {
		log.Fatal("Ошибка запуска сервера...", err.Error())
	}
}
