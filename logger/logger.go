package logger

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var current atomic.Pointer[zap.Logger]

// Init 初始化日志系统
// development 模式输出彩色控制台日志，其它模式输出JSON
func Init(mode, level string) error {
	var zapConfig zap.Config

	if mode == "development" || mode == "debug" || mode == "" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
	}
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return err
		}
		zapConfig.Level = zap.NewAtomicLevelAt(lvl)
	}

	l, err := zapConfig.Build()
	if err != nil {
		return err
	}
	current.Store(l)
	return nil
}

// Set 替换全局logger
func Set(l *zap.Logger) {
	current.Store(l)
}

// L 返回全局logger，未初始化时返回Nop logger
func L() *zap.Logger {
	if l := current.Load(); l != nil {
		return l
	}
	return zap.NewNop()
}

// Named 返回带组件名的logger
func Named(component string) *zap.Logger {
	return L().Named(component)
}

// Sync 刷新日志缓冲区
func Sync() {
	if l := current.Load(); l != nil {
		_ = l.Sync()
	}
}
