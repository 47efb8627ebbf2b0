package http

import (
	"time"

	"github.com/gin-gonic/gin"

	appsvc "docuchat/internal/app"
	"docuchat/internal/bootstrap"
	"docuchat/internal/cache"
	"docuchat/internal/platform/rabbitmq"
	"docuchat/internal/repository"
	"docuchat/internal/transport/http/handler"
	"docuchat/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	userRepo := repository.NewUserRepository(app.MySQL)
	docRepo := repository.NewDocumentRepository(app.MySQL)
	messageRepo := repository.NewMessageRepository(app.MySQL)

	historyCache := cache.NewHistoryCache(
		app.Redis,
		time.Duration(app.Config.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(app.Config.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)
	messagePublisher := rabbitmq.NewMessagePublisher(app.MQConn, app.Config.RabbitMQ.MessagePersistQueue)

	authService := appsvc.NewAuthService(
		userRepo,
		app.Config.Auth.JWTSecret,
		time.Duration(app.Config.Auth.JWTExpireMinute)*time.Minute,
	)
	ingestService := appsvc.NewIngestService(docRepo, app.IndexStore, app.LLM, app.Config.RAG.ChunkSize)
	answerService := appsvc.NewAnswerService(
		app.Registry,
		app.LLM,
		app.LLM,
		messageRepo,
		messagePublisher,
		historyCache,
		app.Config.RAG.TopK,
		app.Config.RAG.HistoryTurns,
		time.Duration(app.Config.LLM.GenTimeoutSeconds)*time.Second,
	)
	accountService := appsvc.NewAccountService(
		userRepo, docRepo, messageRepo,
		app.IndexStore, app.Registry, historyCache,
	)

	authHandler := handler.NewAuthHandler(authService, accountService)
	documentHandler := handler.NewDocumentHandler(ingestService, app.Registry)
	chatHandler := handler.NewChatHandler(answerService, accountService)

	authJWT := middleware.AuthJWT(app.Config.Auth.JWTSecret)

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", authJWT, authHandler.Me)

	v1.DELETE("/account", authJWT, authHandler.DeleteAccount)

	docGroup := v1.Group("/documents")
	docGroup.Use(authJWT)
	docGroup.POST("", documentHandler.Upload)
	docGroup.GET("", documentHandler.List)
	docGroup.DELETE("/:id", documentHandler.Delete)
	docGroup.POST("/:id/activate", documentHandler.Activate)

	chatGroup := v1.Group("/chat")
	chatGroup.Use(authJWT)
	chatGroup.POST("/ask", chatHandler.Ask)
	chatGroup.POST("/ask/stream", chatHandler.AskStream)
	chatGroup.GET("/history", chatHandler.GetHistory)
	chatGroup.POST("/clear", chatHandler.Clear)

	return router
}
