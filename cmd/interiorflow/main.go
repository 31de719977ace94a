// =============================================================================
// interiorflow 主入口
// =============================================================================
// 使用方法:
//
//	interiorflow serve [--config config.yaml]          # 启动运维端口与后台任务
//	interiorflow generate --photo room.jpg --style ... # 单次生成并写出图片
//	interiorflow condition --photo room.jpg            # 只提取条件边缘图
//	interiorflow health [--addr http://localhost:9091] # 就绪检查
//	interiorflow version
// =============================================================================

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BaSui01/interiorflow/config"
	"github.com/BaSui01/interiorflow/internal/server"
	"github.com/BaSui01/interiorflow/internal/telemetry"
	"github.com/BaSui01/interiorflow/internal/tlsutil"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 构建时通过 ldflags 注入
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	// .env 可选，缺失时忽略
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "generate":
		err = runGenerate(ctx, os.Args[2:], os.Stdout)
	case "condition":
		err = runCondition(ctx, os.Args[2:], os.Stdout)
	case "health":
		err = runHealthCheck(ctx, os.Args[2:], os.Stdout)
	case "version":
		printVersion(os.Stdout)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

// loadConfig 加载并校验配置
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	certFile := fs.String("tls-cert", "", "TLS certificate for the ops port")
	keyFile := fs.String("tls-key", "", "TLS key for the ops port")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting interiorflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	providers, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()
	app.Admission.Start()

	srvCfg := server.ConfigFrom(cfg.Server)
	if *certFile != "" || *keyFile != "" {
		if srvCfg.TLS, err = tlsutil.ServerConfig(*certFile, *keyFile); err != nil {
			return err
		}
	}
	ops := server.NewManager(app.OpsHandler(Version), srvCfg, logger)
	if err := ops.Start(); err != nil {
		return err
	}

	err = ops.Wait(ctx)
	logger.Info("interiorflow stopped")
	return err
}

// =============================================================================
// 🏥 health 命令
// =============================================================================

func runHealthCheck(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	addr := fs.String("addr", "http://localhost:9091", "Ops server address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, *addr+"/readyz", nil)
	if err != nil {
		return err
	}
	resp, err := tlsutil.SecureHTTPClient(0).Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("not ready: status %d: %s", resp.StatusCode, body)
	}
	fmt.Fprintln(out, "OK")
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(out io.Writer) {
	fmt.Fprintf(out, "interiorflow %s\n", Version)
	fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, `interiorflow - interior redesign generation core

Usage:
  interiorflow <command> [options]

Commands:
  serve      Start the ops server (health, readiness, metrics)
  generate   Run one generation from a room photo and write the images
  condition  Extract the conditioning edge map from a room photo
  health     Query the readiness endpoint of a running server
  version    Show version information
  help       Show this help message

Options for 'serve':
  --config <path>     Path to configuration file (YAML)
  --tls-cert <path>   Serve the ops port over TLS
  --tls-key <path>

Examples:
  interiorflow serve --config /etc/interiorflow/config.yaml
  interiorflow generate --photo room.jpg --room "living room" --style scandinavian --out ./renders
  interiorflow condition --photo room.jpg --out edges.png
  interiorflow health --addr http://localhost:9091`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}
	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	var opts []zap.Option
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	logger, err := zapConfig.Build(opts...)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

var errUsage = errors.New("usage error")
