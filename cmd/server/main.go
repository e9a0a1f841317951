package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tassadaritze/tassad-site-remix/internal/auth"
	"github.com/Tassadaritze/tassad-site-remix/internal/chat"
	"github.com/Tassadaritze/tassad-site-remix/internal/config"
	"github.com/Tassadaritze/tassad-site-remix/internal/db"
	clog "github.com/Tassadaritze/tassad-site-remix/internal/log"
	"github.com/Tassadaritze/tassad-site-remix/internal/server"
	"github.com/Tassadaritze/tassad-site-remix/internal/service"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const shutdownTimeout = 10 * time.Second

func main() {
	app := &cli.App{
		Name:  "site-chat",
		Usage: "site chat server with SSE and WebSocket streams",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "port", Usage: "listen port, overrides APP_PORT"},
			&cli.StringFlag{Name: "env", Usage: "dev, test or prod, overrides APP_ENV"},
			&cli.StringFlag{Name: "history", Usage: "memory or postgres, overrides HISTORY_BACKEND"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

// run 负责加载配置、初始化日志、选择历史存储并启动 HTTP 服务，收到信号后优雅退出。
func run(c *cli.Context) error {
	cfg := config.Load()
	if v := c.String("port"); v != "" {
		cfg.Port = v
	}
	if v := c.String("env"); v != "" {
		cfg.Env = v
	}
	if v := c.String("history"); v != "" {
		cfg.HistoryBackend = v
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	clog.Init(cfg.Env, cfg.LogLevel)

	history, err := openHistory(cfg)
	if err != nil {
		return err
	}
	svc := chat.NewService(history, chat.Options{
		MaxMessageLength:  cfg.MaxMessageLength,
		MaxMessageHistory: cfg.MaxMessageHistory,
		UsernameMaxLength: cfg.UsernameMaxLength,
	})
	r, stop := server.SetupRouter(cfg, svc, auth.NewSessions(cfg))
	defer stop()

	// 流式连接是长连接，不设置 WriteTimeout
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("history", cfg.HistoryBackend).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	svc.Shutdown()
	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	return srv.Shutdown(shutdownCtx)
}

func openHistory(cfg config.Config) (chat.History, error) {
	if cfg.HistoryBackend != config.HistoryPostgres {
		return chat.NewMemoryHistory(cfg.MaxMessageHistory), nil
	}
	gdb, err := db.Connect(cfg.DatabaseDSN, 10)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, err
	}
	return service.NewMessageService(gdb, cfg.MaxMessageHistory), nil
}
