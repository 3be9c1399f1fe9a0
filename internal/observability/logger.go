// File: internal/observability/logger.go
package observability

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xkilldash9x/lancet-cli/internal/config"
)

var (
	// globalLogger stores the global logger instance safely across goroutines.
	globalLogger atomic.Pointer[zap.Logger]
	// once ensures that initialization happens exactly once.
	once sync.Once
)

// ANSI color codes for the terminal.
const (
	colorBlack   = "\x1b[30m"
	colorRed     = "\x1b[31m"
	colorGreen   = "\x1b[32m"
	colorYellow  = "\x1b[33m"
	colorBlue    = "\x1b[34m"
	colorMagenta = "\x1b[35m"
	colorCyan    = "\x1b[36m"
	colorWhite   = "\x1b[37m"
	colorReset   = "\x1b[0m"
)

var colorMap = map[string]string{
	"black":   colorBlack,
	"red":     colorRed,
	"green":   colorGreen,
	"yellow":  colorYellow,
	"blue":    colorBlue,
	"magenta": colorMagenta,
	"cyan":    colorCyan,
	"white":   colorWhite,
}

// Initialize sets up the global zap logger from configuration with the given
// console writer. Initialization runs at most once per process.
func Initialize(cfg config.LoggerConfig, consoleWriter zapcore.WriteSyncer) {
	once.Do(func() {
		level := zap.NewAtomicLevel()
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level.SetLevel(zap.InfoLevel)
		}

		consoleCore := zapcore.NewCore(getEncoder(cfg), consoleWriter, level)
		cores := []zapcore.Core{consoleCore}

		if cfg.LogFile != "" {
			// File output is always JSON; lumberjack handles rotation.
			fileEncoder := getEncoder(config.LoggerConfig{Format: "json"})
			fileWriter := zapcore.AddSync(&lumberjack.Logger{
				Filename:   cfg.LogFile,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   cfg.Compress,
			})
			cores = append(cores, zapcore.NewCore(fileEncoder, fileWriter, level))
		}

		options := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
		if cfg.AddSource {
			options = append(options, zap.AddCaller())
		}

		logger := zap.New(zapcore.NewTee(cores...), options...).Named(cfg.ServiceName)
		globalLogger.Store(logger)

		zap.ReplaceGlobals(logger)
		zap.RedirectStdLog(logger)
	})
}

// InitializeLogger is the production wrapper around Initialize, writing the
// console stream to a locked stdout.
func InitializeLogger(cfg config.LoggerConfig) {
	Initialize(cfg, zapcore.Lock(os.Stdout))
}

// ResetForTest clears the global logger and re-arms the init guard. Test use
// only.
func ResetForTest() {
	globalLogger.Store(nil)
	once = sync.Once{}
}

// newColorizedLevelEncoder colorizes the level string per the color config.
func newColorizedLevelEncoder(colors config.ColorConfig) zapcore.LevelEncoder {
	return func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		var color string
		levelStr := strings.ToUpper(level.String())

		switch level {
		case zapcore.DebugLevel:
			color = colorMap[colors.Debug]
		case zapcore.InfoLevel:
			color = colorMap[colors.Info]
		case zapcore.WarnLevel:
			color = colorMap[colors.Warn]
		case zapcore.ErrorLevel:
			color = colorMap[colors.Error]
		case zapcore.DPanicLevel:
			color = colorMap[colors.DPanic]
		case zapcore.PanicLevel:
			color = colorMap[colors.Panic]
		case zapcore.FatalLevel:
			color = colorMap[colors.Fatal]
		default:
			color = colorReset
		}

		if color != "" {
			enc.AppendString(fmt.Sprintf("%s%s%s", color, levelStr, colorReset))
		} else {
			enc.AppendString(levelStr)
		}
	}
}

// getEncoder returns a JSON encoder for machine consumption or a single line
// colorized console encoder for terminals.
func getEncoder(cfg config.LoggerConfig) zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")

	if cfg.Format == "console" {
		encoderConfig.EncodeLevel = newColorizedLevelEncoder(cfg.Colors)
		consoleCfg := encoderConfig
		consoleCfg.EncodeName = func(loggerName string, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(loggerName + ".")
		}
		return zapcore.NewConsoleEncoder(consoleCfg)
	}

	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

// GetLogger returns the initialized global logger, or a development fallback
// when initialization has not happened yet.
func GetLogger() *zap.Logger {
	logger := globalLogger.Load()
	if logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return zap.NewNop()
		}
		l.Warn("Global logger requested before initialization; using fallback.")
		return l.Named("fallback")
	}
	return logger
}

// Sync flushes buffered entries. Errors from syncing terminal streams are
// expected on some platforms and stay silent.
func Sync() {
	logger := globalLogger.Load()
	if logger == nil {
		return
	}
	if err := logger.Sync(); err != nil {
		errMsg := err.Error()
		if !strings.Contains(errMsg, "sync /dev/stdout") &&
			!strings.Contains(errMsg, "invalid argument") &&
			!strings.Contains(errMsg, "operation not supported") {
			fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
		}
	}
}
