package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/m3rciful/cbtbot/core/buildinfo"
	coreconfig "github.com/m3rciful/cbtbot/core/config"
	"github.com/m3rciful/cbtbot/core/logger"
	coretelegram "github.com/m3rciful/cbtbot/core/telegram"
)

// ConfigCarrier exposes access to the embedded core configuration.
type ConfigCarrier interface {
	CoreConfig() *coreconfig.Config
}

// TelegramApp is the minimal interface required to run a Telegram bot.
type TelegramApp interface {
	TelegramRunOptions() (coretelegram.RunOptions, error)
}

// Options describe how to load configuration, bootstrap the app, and run the bot.
type Options struct {
	ConfigEnvVar      string
	DefaultConfigPath string

	LoadConfig func(path string) (ConfigCarrier, error)
	Bootstrap  func(cfg ConfigCarrier) (TelegramApp, error)

	ShutdownLogger func() error
	RunTelegram    func(ctx context.Context, opts coretelegram.RunOptions) error
}

// Run serves the bot until SIGINT or SIGTERM.
func Run(opts Options) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return RunContext(ctx, opts)
}

// RunContext loads configuration, bootstraps the app and runs it until ctx
// is done.
func RunContext(ctx context.Context, opts Options) error {
	if opts.LoadConfig == nil || opts.Bootstrap == nil {
		return errors.New("cmd: LoadConfig and Bootstrap are required")
	}
	cfgPath, err := resolveConfigPath(opts.ConfigEnvVar, opts.DefaultConfigPath)
	if err != nil {
		return err
	}

	log.Printf("cbtbot %s (%s): loading config %s", buildinfo.Version, buildinfo.Commit, cfgPath)
	cfg, err := opts.LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("cmd: load config: %w", err)
	}
	if cfg == nil || cfg.CoreConfig() == nil {
		return errors.New("cmd: loaded config is missing core configuration")
	}

	// Bootstrap starts the logger; flush it even when a later step fails.
	shutdownLogger := cmpFn(opts.ShutdownLogger, logger.Shutdown)
	defer func() {
		if err := shutdownLogger(); err != nil {
			log.Printf("logger shutdown: %v", err)
		}
	}()

	startedAt := time.Now()
	application, err := opts.Bootstrap(cfg)
	if err != nil {
		return fmt.Errorf("cmd: bootstrap: %w", err)
	}

	runOpts, err := application.TelegramRunOptions()
	if err != nil {
		return fmt.Errorf("cmd: telegram options: %w", err)
	}
	runOpts.OnStart = chainHooks(runOpts.OnStart, func(ctx context.Context, _ coretelegram.Runtime) error {
		logger.Info(ctx, "app", "ready",
			slog.Duration("startup", time.Since(startedAt)),
			slog.String("build_version", buildinfo.Version),
		)
		return nil
	})
	runOpts.OnStop = chainHooks(func(ctx context.Context, _ coretelegram.Runtime) error {
		logger.Info(ctx, "app", "shutdown",
			slog.Duration("uptime", time.Since(startedAt)),
		)
		return nil
	}, runOpts.OnStop)

	run := opts.RunTelegram
	if run == nil {
		run = coretelegram.RunTelegram
	}
	return run(ctx, runOpts)
}

// resolveConfigPath reads the path from envVar (CONFIG_PATH when empty) and
// falls back to def.
func resolveConfigPath(envVar, def string) (string, error) {
	if envVar == "" {
		envVar = "CONFIG_PATH"
	}
	if p := strings.TrimSpace(os.Getenv(envVar)); p != "" {
		return p, nil
	}
	if def != "" {
		return def, nil
	}
	return "", fmt.Errorf("cmd: config path not provided via %s", envVar)
}

type hook = func(context.Context, coretelegram.Runtime) error

// chainHooks runs first then second, stopping at the first error. Nil hooks
// are skipped.
func chainHooks(first, second hook) hook {
	return func(ctx context.Context, rt coretelegram.Runtime) error {
		for _, h := range []hook{first, second} {
			if h == nil {
				continue
			}
			if err := h(ctx, rt); err != nil {
				return err
			}
		}
		return nil
	}
}

func cmpFn(f, def func() error) func() error {
	if f != nil {
		return f
	}
	return def
}
