// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"career-chat-go/internal/config"
	"career-chat-go/internal/handler"
	"career-chat-go/internal/middleware"
	"career-chat-go/internal/repository"
	"career-chat-go/internal/service"
	"career-chat-go/pkg/log"
	"career-chat-go/pkg/openai"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 校验启动必需的凭证，缺失时直接终止，不进入监听
	if err := cfg.Validate(); err != nil {
		log.Fatalf("配置校验失败: %v", err)
	}

	// 4. 初始化 OpenAI 客户端与会话存储
	instructions := cfg.Prompt.Instructions
	if instructions == "" {
		instructions = service.DefaultInstructions
	}
	openaiClient := openai.NewClient(cfg.OpenAI, instructions)
	sessionRepo := repository.NewSessionRepository(time.Duration(cfg.Session.IdleExpireMinutes) * time.Minute)

	// 5. 初始化 Service (依赖注入)
	chatService := service.NewChatService(openaiClient, sessionRepo)
	conversationService := service.NewConversationService(sessionRepo)

	// 6. 启动后台会话清理协程
	janitorCtx, cancelJanitor := context.WithCancel(context.Background())
	defer cancelJanitor()
	go repository.StartJanitor(janitorCtx, sessionRepo, 10*time.Minute)

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 8. 注册路由
	// 静态页面：单页聊天界面
	r.StaticFile("/", "./web/static/index.html")
	r.Static("/static", "./web/static")

	chatHandler := handler.NewChatHandler(chatService)
	conversationHandler := handler.NewConversationHandler(conversationService)

	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.Session())
	{
		conversation := apiV1.Group("/conversation")
		{
			conversation.GET("", conversationHandler.GetConversation)
			conversation.DELETE("", conversationHandler.ClearConversation)
		}

		chat := apiV1.Group("/chat")
		{
			chat.POST("", chatHandler.Ask)
			chat.GET("/stop-token", chatHandler.GetStopToken)
		}
	}

	// Chat 路由 (WebSocket)
	r.GET("/chat/ws", middleware.Session(), chatHandler.HandleWebsocket)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}
