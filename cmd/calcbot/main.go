// Package main is the entry point for calcbot.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/lemonberrylabs/calcbot/pkg/api"
	grpcapi "github.com/lemonberrylabs/calcbot/pkg/api/grpc"
	"github.com/lemonberrylabs/calcbot/pkg/bot"
	"github.com/lemonberrylabs/calcbot/pkg/calc"
	"github.com/lemonberrylabs/calcbot/pkg/config"
	"github.com/lemonberrylabs/calcbot/pkg/logging"
	"github.com/lemonberrylabs/calcbot/pkg/loop"
	"github.com/lemonberrylabs/calcbot/pkg/query"
	"github.com/lemonberrylabs/calcbot/pkg/store"
	"github.com/lemonberrylabs/calcbot/web"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "calcbot",
	Short:         "Calculator bot for Telegram with HTTP and gRPC APIs",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and gRPC servers and the Telegram bot",
	Args:  cobra.NoArgs,
	RunE:  serve,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE:  printConfig,
}

var evalCmd = &cobra.Command{
	Use:   "eval [expression...]",
	Short: "Evaluate an expression and print the result",
	Args:  cobra.MinimumNArgs(1),
	RunE:  eval,
}

func init() {
	rootCmd.Version = version + " (commit=" + commit + ", built=" + date + ")"
	rootCmd.SetVersionTemplate("calcbot version {{.Version}}\n")

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Path to a YAML config file (env CALCBOT_CONFIG)")
	pf.Int("parentheses-limit", 0, "Maximum parentheses nesting depth, -1 for unlimited (default 100, env PARENTHESES_LIMIT)")
	pf.String("log-level", "", "Log level: DEBUG, INFO, WARN, ERROR (default INFO, env LOG_LEVEL)")
	pf.String("log-format", "", "Log format: text or json (default text, env LOG_FORMAT)")

	serveCmd.Flags().Int("port", 0, "HTTP server port (default 8080, env PORT)")
	serveCmd.Flags().Int("grpc-port", 0, "gRPC server port, 0 disables (default 8081, env GRPC_PORT)")
	serveCmd.Flags().String("host", "", "Bind address (default 0.0.0.0, env HOST)")

	rootCmd.AddCommand(serveCmd, evalCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig resolves the config file path and loads the validated
// configuration with the command's flags on top.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path := envOrDefault("CALCBOT_CONFIG", "")
	if v, _ := cmd.Flags().GetString("config"); v != "" {
		path = v
	}
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func serve(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	logger = logger.With("release_stage", cfg.ReleaseStage)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	l := loop.New()
	history := store.New(cfg.History.Capacity)
	proc, err := query.New(
		calc.New(calc.WithParenthesesLimit(cfg.ParenthesesLimit), calc.WithYielder(l)),
		query.WithLoop(l),
		query.WithHistory(history),
		query.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	apiOpts := []api.Option{api.WithLoop(l), api.WithLogger(logger), api.WithVersion(version)}

	var b *bot.Bot
	if cfg.Telegram.BotEnabled() {
		b, err = newBot(ctx, cfg.Telegram, proc, logger)
		if err != nil {
			return err
		}
		if cfg.Telegram.Mode == config.ModeWebhook {
			apiOpts = append(apiOpts, api.WithWebhook(b, cfg.Telegram.WebhookSecret))
		}
	} else {
		logger.Warn("telegram_bot_disabled", "reason", "TG_BOT_API_TOKEN is not set")
	}

	server := api.New(proc, apiOpts...)
	web.New(proc, version).Register(server.App())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Listen(cfg.HTTPAddr()); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("http_shutting_down")
		return server.Shutdown()
	})

	if cfg.GRPC.Port != 0 {
		grpcServer := grpcapi.New(proc, logger)
		g.Go(func() error {
			if err := grpcServer.Serve(cfg.GRPCAddr()); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			grpcServer.GracefulStop()
			return nil
		})
	}

	if b != nil {
		g.Go(func() error {
			if err := b.Run(gctx); err != nil {
				return fmt.Errorf("telegram bot: %w", err)
			}
			return nil
		})
	}

	logger.Info("calcbot_started", "version", version, "http", cfg.HTTPAddr(),
		"grpc_port", cfg.GRPC.Port, "bot", b != nil, "parentheses_limit", cfg.ParenthesesLimit)

	err = g.Wait()
	logger.Info("calcbot_stopped")
	return err
}

func newBot(ctx context.Context, tc config.TelegramConfig, proc *query.Processor, logger *slog.Logger) (*bot.Bot, error) {
	// The HTTP timeout has to outlast a long poll.
	client, err := bot.NewAPI(tc.Token, tc.Endpoint, tc.PollTimeoutDuration()+10*time.Second)
	if err != nil {
		return nil, err
	}

	opts := []bot.Option{
		bot.WithWorkers(tc.Workers),
		bot.WithQueueSize(tc.QueueSize),
		bot.WithPollTimeout(tc.PollTimeoutDuration()),
		bot.WithSendRate(tc.SendRate, max(1, int(tc.SendRate))),
		bot.WithVersion(version),
		bot.WithLogger(logger),
	}
	if tc.Mode == config.ModeWebhook {
		opts = append(opts, bot.WithWebhook(tc.WebhookEndpoint()))
	}

	b := bot.New(client, proc, opts...)
	if err := b.Start(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func eval(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	proc, err := query.New(calc.New(calc.WithParenthesesLimit(cfg.ParenthesesLimit)), query.WithLogger(logger))
	if err != nil {
		return err
	}
	res := proc.Process(cmd.Context(), store.SourceCLI, strings.Join(args, " "))
	switch {
	case res.Kind != "":
		return fmt.Errorf("%s: %s", res.Kind, res.Message)
	case res.Error:
		return errors.New(res.Message)
	}

	fmt.Fprintln(cmd.OutOrStdout(), res.Result)
	return nil
}

func printConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out, err := cfg.YAML()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
