// cmd/agent-sync: 实时同步客户端命令行入口。
//
// 连接后端 WebSocket, 订阅一个 session, 把 stdin 的每一行作为用户消息发送,
// 事件渲染到 stdout。可选: Postgres 归档 (POSTGRES_CONNECTION_STRING) 与
// 调试面板 (-debug-listen)。
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/multi-agent/agent-sync/internal/config"
	"github.com/multi-agent/agent-sync/internal/dashboard"
	"github.com/multi-agent/agent-sync/internal/database"
	"github.com/multi-agent/agent-sync/internal/realtime"
	"github.com/multi-agent/agent-sync/internal/store"
	"github.com/multi-agent/agent-sync/internal/transport"
	"github.com/multi-agent/agent-sync/internal/uistate"
	"github.com/multi-agent/agent-sync/pkg/logger"
	"github.com/multi-agent/agent-sync/pkg/util"
)

func main() {
	backendURL := flag.String("url", "", "backend WebSocket URL (覆盖 SYNC_BACKEND_URL)")
	sessionID := flag.String("session", "", "session to subscribe on connect (覆盖 SYNC_SESSION_ID)")
	debugListen := flag.String("debug-listen", "", "debug dashboard listen address, e.g. :8090 (覆盖 DEBUG_LISTEN)")
	envFile := flag.String("env", ".env", "dotenv file")
	flag.Parse()

	cfg := config.LoadFiles(*envFile)
	cfg.BackendURL = util.FirstNonEmpty(*backendURL, cfg.BackendURL)
	cfg.InitialSessionID = util.FirstNonEmpty(*sessionID, cfg.InitialSessionID)
	cfg.DebugListen = util.FirstNonEmpty(*debugListen, cfg.DebugListen)

	logger.Init(cfg.AppEnv)
	logger.SetLevel(cfg.LogLevel)
	bi := currentBuildInfo()
	logger.Info("agent-sync starting", logger.FieldVersion, bi.Version, "commit", bi.Commit, "runtime", bi.Runtime)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cancel, cfg); err != nil {
		logger.Fatal("agent-sync failed", logger.FieldError, err)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cancel context.CancelFunc, cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := realtime.NewMetrics(reg)
	if err != nil {
		return err
	}

	stores := uistate.NewStores(0)
	client, err := realtime.New(realtime.Options{
		Transport: transport.Config{
			URL:                  cfg.BackendURL,
			HandshakeTimeout:     cfg.HandshakeTimeout(),
			WriteTimeout:         cfg.WriteTimeout(),
			PingInterval:         cfg.PingInterval(),
			ReadIdleTimeout:      cfg.ReadIdleTimeout(),
			MaxReconnectAttempts: cfg.ReconnectMaxAttempt,
			ReconnectBaseDelay:   cfg.ReconnectBaseDelay(),
			ReconnectMaxDelay:    cfg.ReconnectMaxDelay(),
		},
		FallbackIdle:    cfg.FallbackIdle(),
		DedupeCacheSize: cfg.DedupeCacheSize,
		Messages:        stores.Messages,
		Metrics:         metrics,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	adapter := uistate.NewAdapter(stores)
	adapter.Bind(client)
	callbacks := []realtime.StoreCallbacks{adapter}

	// 可选: Postgres 归档
	var transcripts *store.TranscriptStore
	if cfg.PostgresConnStr != "" {
		pool, err := database.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool, database.Source(cfg.MigrationsDir)); err != nil {
			return err
		}
		transcripts = store.NewTranscriptStore(pool)
		archiver := store.NewArchiver(transcripts, func() string {
			return util.FirstNonEmpty(client.CurrentSessionID(), client.PendingSessionID())
		}, 0)
		defer archiver.Close()
		callbacks = append(callbacks, archiver)
		logger.Info("transcript archive enabled", "schema", cfg.PostgresSchema)
	}
	client.SetStoreCallbacks(callbacks...)

	// 切换 session 时清空本地视图
	var lastSession string
	var lastMu sync.Mutex
	client.On(realtime.KindSubscribed, func(ev realtime.Event) {
		sid := ev.(realtime.SubscribedEvent).SessionID
		lastMu.Lock()
		defer lastMu.Unlock()
		if lastSession != "" && sid != lastSession {
			stores.Clear()
		}
		lastSession = sid
	})

	out := newPrinter(os.Stdout)
	client.On(realtime.KindAll, out.handle)

	var wg sync.WaitGroup
	if cfg.DebugListen != "" {
		gin.SetMode(gin.ReleaseMode)
		opts := dashboard.Options{Client: client, Stores: stores, Gatherer: reg}
		if transcripts != nil {
			opts.Transcripts = transcripts
		}
		srv := dashboard.NewServer(opts)
		client.On(realtime.KindAll, srv.Forward)
		wg.Add(1)
		util.SafeGo(func() {
			defer wg.Done()
			if err := srv.ListenAndServe(ctx, cfg.DebugListen); err != nil {
				logger.Error("dashboard stopped", logger.FieldError, err)
			}
		})
	}

	client.Connect(cfg.InitialSessionID)

	lines := make(chan string)
	util.SafeGo(func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		// stdin 关闭 (EOF) 不退出, 继续接收事件直到信号
	})

	for {
		select {
		case <-ctx.Done():
			client.Disconnect()
			wg.Wait()
			return nil
		case line := <-lines:
			if err := handleLine(client, line); err != nil {
				if errors.Is(err, errQuit) {
					cancel()
					continue
				}
				logger.Warn("command failed", logger.FieldError, err)
			}
		}
	}
}
