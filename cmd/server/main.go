package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/vietchat/chat-backend/internal/ai/openai"
	"github.com/vietchat/chat-backend/internal/api"
	"github.com/vietchat/chat-backend/internal/chat"
	"github.com/vietchat/chat-backend/internal/config"
	"github.com/vietchat/chat-backend/internal/feed"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	// Load configuration; missing credentials are fatal before anything
	// is served.
	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}

	if cfg.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	}

	logger.Info("starting chat-backend server")

	// Initialize provider client and enrichment adapters
	aiClient := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.APIURL, logger)

	feeds, err := feed.NewSource(cfg.Feed.BridgeURL, cfg.Feed.File, cfg.Feed.ItemLimit)
	if err != nil {
		logger.WithError(err).Fatal("failed to load feed table")
	}

	// Initialize the session stores and controller
	transcript := chat.NewTranscript(cfg.OpenAI.SystemPrompt)
	attachments := chat.NewAttachmentStore(aiClient, logger)
	audio := chat.NewAudioStore()

	controller := chat.NewController(chat.Config{
		ChatModel:   cfg.OpenAI.ChatModel,
		TTSModel:    cfg.OpenAI.TTSModel,
		TTSVoice:    cfg.OpenAI.TTSVoice,
		STTModel:    cfg.OpenAI.STTModel,
		STTLanguage: cfg.OpenAI.STTLanguage,
	}, aiClient, feeds, transcript, attachments, audio, logger)

	// Initialize API server
	server := api.NewServer(controller, cfg.Server.AuthToken, logger)

	// Create Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Add middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.WithFields(logrus.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
			}).Info("request")
			return nil
		},
	}))

	// Health check endpoint (public)
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "ok",
		})
	})

	// Chat routes (authenticated when AUTH_TOKEN is set)
	g := e.Group("/chat", server.AuthMiddleware)
	g.GET("/transcript", server.GetTranscript)
	g.POST("/messages", server.SendMessage)
	g.POST("/cancel", server.Cancel)
	g.POST("/news", server.SendNews)
	g.GET("/files", server.ListAttachments)
	g.POST("/files", server.UploadAttachment)
	g.DELETE("/files/:id", server.DeleteAttachment)
	g.POST("/documents/:id/summary", server.SummarizeDocument)
	g.POST("/speech", server.Speak)
	g.GET("/audio/:id", server.GetAudio)
	g.POST("/transcriptions", server.TranscribeAudio)

	// Start server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	go func() {
		logger.WithField("addr", addr).Info("server listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown error")
	}

	logger.Info("server stopped")
}
