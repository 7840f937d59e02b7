package logger

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var Log *zap.Logger

var setupOnce sync.Once

func init() {
	Log = zap.New(zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig()),
		zapcore.AddSync(os.Stdout),
		zapcore.DebugLevel,
	), zap.AddCaller())
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:      "ts",
		LevelKey:     "level",
		NameKey:      "logger",
		CallerKey:    "caller",
		MessageKey:   "msg",
		LineEnding:   zapcore.DefaultLineEnding,
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeLevel:  zapcore.CapitalColorLevelEncoder, // 彩色等级
		EncodeCaller: zapcore.ShortCallerEncoder,
	}
}

// Setup reconfigures the global logger. file == "" keeps console-only output,
// otherwise lines are also written to a rotating file.
func Setup(levelName string, file string) {
	setupOnce.Do(func() {
		level := zapcore.InfoLevel
		if l, err := zapcore.ParseLevel(levelName); err == nil {
			level = l
		}

		cores := []zapcore.Core{
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(encoderConfig()),
				zapcore.AddSync(os.Stdout),
				level,
			),
		}
		if file != "" {
			fileCfg := encoderConfig()
			fileCfg.EncodeLevel = zapcore.CapitalLevelEncoder // 文件里不带颜色
			cores = append(cores, zapcore.NewCore(
				zapcore.NewConsoleEncoder(fileCfg),
				zapcore.AddSync(&lumberjack.Logger{
					Filename:   file,
					MaxSize:    50, // MB
					MaxBackups: 5,
					MaxAge:     14, // days
				}),
				level,
			))
		}
		Log = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	})
}

// 快捷方法
func Info(msg string, fields ...zap.Field) { Log.Info(msg, fields...) }
func Infof(format string, args ...interface{}) {
	Log.Info(fmt.Sprintf(format, args...))
}
func Warn(msg string, fields ...zap.Field) { Log.Warn(msg, fields...) }
func Warnf(format string, args ...interface{}) {
	Log.Warn(fmt.Sprintf(format, args...))
}
func Error(msg string, fields ...zap.Field) { Log.Error(msg, fields...) }

func Errorf(format string, args ...interface{}) {
	Log.Error(fmt.Sprintf(format, args...))
}

func Debug(msg string, fields ...zap.Field) { Log.Debug(msg, fields...) }
func Debugf(format string, args ...interface{}) {
	Log.Debug(fmt.Sprintf(format, args...))
}

func Sync() { _ = Log.Sync() }
