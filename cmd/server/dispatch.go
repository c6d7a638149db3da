package main

import (
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/isdmx/runbox/config"
	"github.com/isdmx/runbox/dispatcher"
	"github.com/isdmx/runbox/logger"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Start the Dispatcher",
	Long: `Start the Dispatcher, the front door for signed-in callers.

Sessions are verified with the key in SESSION_JWT_SECRET. Accepted submissions
are forwarded to dispatcher.execution_url with the secret from SANDBOX_SECRET.
Without that secret every submission is refused unless dispatcher.testing is set.

Examples:
  runbox dispatch
  runbox dispatch --config /etc/runbox/config.yaml`,
	Args: cobra.NoArgs,
	RunE: runDispatch,
}

func init() {
	rootCmd.AddCommand(dispatchCmd)
}

func runDispatch(*cobra.Command, []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateDispatcher(); err != nil {
		return err
	}

	return runApp(fx.New(dispatchOptions(cfg), fx.WithLogger(fxLogger)))
}

func dispatchOptions(cfg *config.Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.Provide(
			logger.NewFromConfig,
			newDispatchRouter,
		),
		fx.Invoke(startDispatcher),
	)
}

func newDispatchRouter(cfg *config.Config, log *zap.Logger) *gin.Engine {
	setGinMode(cfg)
	d := cfg.Dispatcher
	return dispatcher.NewRouter(dispatcher.RouterParams{
		Logger:        log,
		Sessions:      dispatcher.NewSessionVerifier(d.Session.JWTSecret, d.Session.Issuer),
		Limiter:       dispatcher.NewRateLimiter(d.RateLimit.RequestsPerMinute, d.RateLimit.Burst),
		Caller:        dispatcher.NewExecutionClient(d.ExecutionURL, cfg.Auth.SharedSecret, cfg.GetCallTimeout()),
		MaxCodeLength: d.MaxCodeLength,
		Testing:       d.Testing,
	})
}

func startDispatcher(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg *config.Config, log *zap.Logger, router *gin.Engine) {
	if cfg.Auth.SharedSecret == "" {
		log.Warn("shared secret is not configured; submissions will be refused",
			zap.Bool("testing", cfg.Dispatcher.Testing))
	}
	log.Info("dispatcher configured",
		zap.String("execution_url", cfg.Dispatcher.ExecutionURL),
		zap.Int("max_code_length", cfg.Dispatcher.MaxCodeLength),
		zap.Duration("call_timeout", cfg.GetCallTimeout()),
	)

	registerHTTPServer(lc, shutdowner, log, "dispatcher", cfg.Dispatcher.HTTPPort, router)
}
