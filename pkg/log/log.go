// Package log 提供全局 zerolog logger：stderr 输出加可选的 lumberjack 轮转文件.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yeisme/dedupvault/pkg/configs"
)

var (
	logger   zerolog.Logger
	initOnce sync.Once
)

// Init 按全局配置初始化 logger，只执行一次.
func Init() {
	initOnce.Do(func() {
		cfg := configs.GetConfig()

		if cfg.Server.Debug {
			gin.SetMode(gin.DebugMode)
		} else {
			gin.SetMode(gin.ReleaseMode)
		}

		logger = New(cfg.Log, os.Stderr, cfg.Server.Debug)
		log.Logger = logger
	})
}

// New 按配置构造 logger，stderr 为控制台输出目标.
// debug 打开时附带调用位置.
func New(cfg configs.LogConfig, stderr io.Writer, debug bool) zerolog.Logger {
	zerolog.DurationFieldUnit = time.Millisecond
	zerolog.DurationFieldInteger = false

	lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		fmt.Fprintf(stderr, "invalid log level %q, using info\n", cfg.Level)
	}

	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	out := stderr
	if cfg.Format != configs.LogFormatJSON {
		out = zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.Out = stderr
			w.TimeFormat = time.DateTime
		})
	}

	if cfg.File.Enabled {
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		})
	}

	ctx := zerolog.New(out).Level(lvl).With().Timestamp().Str("app", configs.AppName)
	if debug {
		ctx = ctx.Caller()
	}

	return ctx.Logger()
}

// Logger 返回全局 logger，首次使用时初始化.
func Logger() *zerolog.Logger {
	Init()

	return &logger
}

// Component 返回带 component 字段的子 logger.
func Component(name string) *zerolog.Logger {
	l := Logger().With().Str("component", name).Logger()

	return &l
}

// WithJob 返回带任务字段的子 logger，worker 与去重流水线共用.
func WithJob(jobID, fileID, tenant string) *zerolog.Logger {
	l := Logger().With().
		Str("job_id", jobID).
		Str("file_id", fileID).
		Str("tenant", tenant).
		Logger()

	return &l
}

// GinWriter 把 gin 的调试输出转成 zerolog 事件.
type GinWriter struct {
	logger *zerolog.Logger
	level  zerolog.Level
}

// NewGinWriter 创建 gin 输出适配器.
func NewGinWriter(logger *zerolog.Logger, level zerolog.Level) *GinWriter {
	return &GinWriter{logger: logger, level: level}
}

func (w *GinWriter) Write(p []byte) (int, error) {
	if msg := strings.TrimSpace(string(p)); msg != "" {
		w.logger.WithLevel(w.level).Str("source", "gin").Msg(msg)
	}

	return len(p), nil
}
