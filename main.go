// Command gateway starts the LLM API gateway's dispatch-path server (§2): it wires the
// relational and coordination stores, the Credential Store, and the Candidate Builder /
// Scheduler / Pool Manager / Executor / Usage Recorder chain behind the three wire-dialect
// endpoints, then serves HTTP until told to shut down.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v6"
	glog "github.com/Laisky/go-utils/v5/log"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaymesh/gateway/common"
	"github.com/relaymesh/gateway/common/client"
	"github.com/relaymesh/gateway/common/config"
	"github.com/relaymesh/gateway/common/graceful"
	"github.com/relaymesh/gateway/common/logger"
	"github.com/relaymesh/gateway/coordination"
	"github.com/relaymesh/gateway/credential"
	"github.com/relaymesh/gateway/middleware"
	"github.com/relaymesh/gateway/model"
	"github.com/relaymesh/gateway/relay/billing"
	"github.com/relaymesh/gateway/relay/executor"
	"github.com/relaymesh/gateway/relay/format"
	"github.com/relaymesh/gateway/relay/pool"
	"github.com/relaymesh/gateway/relay/usage"
	"github.com/relaymesh/gateway/server"
)

func main() {
	ctx := context.Background()

	common.Init()
	logger.SetupLogger()
	logger.SetupEnhancedLogger(ctx)

	logger.Logger.Info("gateway starting", zap.String("version", common.Version))

	if os.Getenv("GIN_MODE") != gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	model.InitDB()
	model.InitLogDB()
	defer func() {
		if err := model.CloseDB(); err != nil {
			logger.Logger.Error("failed to close database", zap.Error(err))
		}
	}()

	if err := common.InitRedisClient(); err != nil {
		logger.Logger.Fatal("failed to initialize coordination-store client", zap.Error(err))
	}
	coordination.Init()

	credential.Init()
	client.Init()

	if config.EnablePrometheusMetrics {
		startTime := time.Unix(common.StartTime, 0)
		logger.Logger.Info("prometheus metrics enabled",
			zap.String("go_version", runtime.Version()), zap.Time("start_time", startTime))
	}

	registry := format.NewRegistry()
	poolMgr := pool.New(coordination.Default)
	recorder := usage.New(billing.New())
	exec := executor.New(registry, poolMgr, recorder)
	srv := server.New(exec, poolMgr)

	if config.IsMasterNode && config.RetentionSweepIntervalMinutes > 0 {
		go runRetentionSweeper(ctx)
	}

	logLevel := glog.LevelInfo
	if config.DebugEnabled {
		logLevel = glog.LevelDebug
	}

	engine := gin.New()
	engine.RedirectTrailingSlash = false
	engine.Use(
		middleware.RelayPanicRecover(),
		gmw.NewLoggerMiddleware(
			gmw.WithLoggerMwColored(),
			gmw.WithLevel(logLevel.String()),
			gmw.WithLogger(logger.Logger.Named("gin")),
		),
	)
	// gzip is deliberately never enabled here: it would buffer SSE chunks and break streaming.
	engine.Use(middleware.RequestId())
	engine.Use(middleware.TracingMiddleware())

	if config.EnablePrometheusMetrics {
		engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	srv.RegisterRoutes(engine)

	// Tolerate the handful of malformed Claude Messages prefixes seen from misconfigured clients
	// in the wild, rewriting them onto the canonical /v1/messages route.
	for _, prefix := range []string{"/v1/v1/messages", "/openai/v1/messages", "/openai/v1/v1/messages", "/api/v1/v1/messages"} {
		engine.POST(prefix, middleware.RewriteClaudeMessagesPrefix(prefix, engine))
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = strconv.Itoa(*common.Port)
	}

	httpServer := &http.Server{
		Addr:    ":" + port,
		Handler: engine,
	}

	go func() {
		logger.Logger.Info("server started", zap.String("address", "http://localhost:"+port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Logger.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}()

	waitForShutdownSignal()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(config.ShutdownTimeoutSec)*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Error("http server shutdown error", zap.Error(err))
	}
	if err := graceful.Drain(shutdownCtx); err != nil {
		logger.Logger.Error("graceful drain incomplete", zap.Error(err))
	}
}

func waitForShutdownSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Logger.Info("shutdown signal received, draining in-flight requests")
}

// runRetentionSweeper runs the Usage Recorder's body/header retention sweep (§4.11) on a timer;
// only the master node runs it so a multi-node deployment doesn't race on the same cutoff rows.
func runRetentionSweeper(ctx context.Context) {
	interval := time.Duration(config.RetentionSweepIntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := usage.RunRetentionSweep(); err != nil {
				logger.Logger.Error("retention sweep failed", zap.Error(err))
			}
		}
	}
}
