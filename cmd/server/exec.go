package main

import (
	"context"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/isdmx/runbox/config"
	"github.com/isdmx/runbox/execservice"
	"github.com/isdmx/runbox/logger"
	"github.com/isdmx/runbox/mcpserver"
	"github.com/isdmx/runbox/sandbox"
)

var execCmd = &cobra.Command{
	Use:   "exec",
	Short: "Start the Execution Service",
	Long: `Start the Execution Service.

Every request must carry the shared secret in the X-Sandbox-Secret header. The
secret is read from the SANDBOX_SECRET environment variable; the service
refuses to start without it.

Examples:
  SANDBOX_SECRET=... runbox exec
  SANDBOX_SECRET=... runbox exec --config /etc/runbox/config.yaml`,
	Args: cobra.NoArgs,
	RunE: runExec,
}

func init() {
	rootCmd.AddCommand(execCmd)
}

func runExec(*cobra.Command, []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateExecutionService(); err != nil {
		return err
	}

	return runApp(fx.New(execOptions(cfg), fx.WithLogger(fxLogger)))
}

func execOptions(cfg *config.Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.Provide(
			logger.NewFromConfig,
			sandbox.NewExecutor,
			execservice.NewMetrics,
			execservice.NewService,
			asCodeRunner,
			mcpserver.New,
			newExecRouter,
		),
		fx.Invoke(startExecService),
	)
}

func asCodeRunner(svc *execservice.Service) execservice.CodeRunner {
	return svc
}

func newExecRouter(cfg *config.Config, log *zap.Logger, svc *execservice.Service, metrics *execservice.Metrics, mcp *mcpserver.MCPServer) *gin.Engine {
	setGinMode(cfg)
	return execservice.NewRouter(execservice.RouterParams{
		Logger:  log,
		Secret:  cfg.Auth.SharedSecret,
		Runner:  svc,
		Metrics: metrics,
		MCP:     mcp.HTTPHandler(),
	})
}

func startExecService(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg *config.Config, log *zap.Logger, executor sandbox.SandboxExecutor, router *gin.Engine) {
	log.Info("execution service configured",
		zap.String("backend", cfg.Sandbox.Backend),
		zap.String("runtime", cfg.Sandbox.Runtime),
		zap.Duration("timeout", cfg.GetTimeout()),
		zap.Int("memory_mb", cfg.Sandbox.MemoryMB),
	)

	if closer, ok := executor.(io.Closer); ok {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return closer.Close()
			},
		})
	}

	registerHTTPServer(lc, shutdowner, log, "execution", cfg.Server.HTTPPort, router)
}
