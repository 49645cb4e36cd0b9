// Package logger configures the process-wide slog logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	slogzap "github.com/samber/slog-zap/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Backend string

const (
	BackendStd Backend = "std" // text handler
	BackendZap Backend = "zap" // JSON through zap
)

type Config struct {
	Service string
	Version string
	Env     string
	Level   string
	Backend Backend

	// Output defaults to os.Stdout.
	Output io.Writer
}

// Init builds a logger from cfg and installs it as the slog default.
func Init(cfg Config) *slog.Logger {
	if cfg.Service == "" {
		cfg.Service = "localchat"
	}
	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.Backend == "" {
		if cfg.Env == "dev" {
			cfg.Backend = BackendStd
		} else {
			cfg.Backend = BackendZap
		}
	}

	level := ParseLevel(cfg.Level)

	var h slog.Handler
	switch cfg.Backend {
	case BackendZap:
		h = newZapHandler(cfg.Output, level)
	default:
		h = slog.NewTextHandler(cfg.Output, &slog.HandlerOptions{Level: level})
	}

	l := slog.New(h.WithAttrs([]slog.Attr{
		slog.String("service", cfg.Service),
		slog.String("env", cfg.Env),
		slog.String("version", cfg.Version),
	}))
	slog.SetDefault(l)
	return l
}

// ParseLevel maps DEBUG/INFO/WARN/ERROR to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newZapHandler(w io.Writer, lvl slog.Level) slog.Handler {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(w), toZapLevel(lvl))
	core = zapcore.NewSamplerWithOptions(core, time.Second, 100, 10)

	z := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return slogzap.Option{Level: lvl, Logger: z}.NewZapHandler()
}

func toZapLevel(lvl slog.Level) zapcore.Level {
	switch {
	case lvl <= slog.LevelDebug:
		return zapcore.DebugLevel
	case lvl == slog.LevelInfo:
		return zapcore.InfoLevel
	case lvl == slog.LevelWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}
