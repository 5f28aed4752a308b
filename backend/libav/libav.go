// Package libav implements the hardware encode backend on top of
// libav* via go-astiav.
package libav

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/hwve/backend"
	"github.com/xaionaro-go/hwve/logger"
)

var _ backend.Backend = (*Backend)(nil)

// Backend is the libav capability provider.
type Backend struct{}

var initOnce sync.Once

// New returns the libav backend. The first call bridges the libav log
// callback into the contextual logger.
func New(ctx context.Context) *Backend {
	initOnce.Do(func() {
		initLibAV(ctx)
	})
	return &Backend{}
}

func initLibAV(ctx context.Context) {
	l := logger.FromCtx(ctx)
	astiav.SetLogLevel(logLevelToAstiav(l.Level()))
	astiav.SetLogCallback(func(c astiav.Classer, level astiav.LogLevel, fmtStr, msg string) {
		logger.Logf(ctx, logLevelFromAstiav(level), "libav: %s", strings.TrimSpace(msg))
	})
}

func logLevelToAstiav(level logger.Level) astiav.LogLevel {
	switch level {
	case logger.LevelFatal:
		return astiav.LogLevelFatal
	case logger.LevelPanic:
		return astiav.LogLevelPanic
	case logger.LevelError:
		return astiav.LogLevelError
	case logger.LevelWarning:
		return astiav.LogLevelWarning
	case logger.LevelInfo:
		return astiav.LogLevelInfo
	case logger.LevelDebug:
		return astiav.LogLevelVerbose
	case logger.LevelTrace:
		return astiav.LogLevelDebug
	}
	return astiav.LogLevelInfo
}

func logLevelFromAstiav(level astiav.LogLevel) logger.Level {
	switch {
	case level <= astiav.LogLevelPanic:
		return logger.LevelPanic
	case level <= astiav.LogLevelFatal:
		return logger.LevelFatal
	case level <= astiav.LogLevelError:
		return logger.LevelError
	case level <= astiav.LogLevelWarning:
		return logger.LevelWarning
	case level <= astiav.LogLevelInfo:
		return logger.LevelInfo
	case level <= astiav.LogLevelVerbose:
		return logger.LevelDebug
	}
	return logger.LevelTrace
}

func (b *Backend) String() string {
	return "libav"
}

// PixelFormatByName resolves a pixel format name ("nv12", "p010le",
// "yuv420p", ...) against the libav registry.
func (b *Backend) PixelFormatByName(
	ctx context.Context,
	name string,
) (_ret backend.PixelFormat, _err error) {
	logger.Tracef(ctx, "PixelFormatByName(ctx, '%s')", name)
	defer func() { logger.Tracef(ctx, "/PixelFormatByName(ctx, '%s'): %v %v", name, _ret, _err) }()

	pf := astiav.FindPixelFormatByName(name)
	if pf == astiav.PixelFormatNone {
		return nil, fmt.Errorf("unknown pixel format '%s'", name)
	}
	return pixelFormat{name: name, raw: pf}, nil
}

func asPixelFormat(f backend.PixelFormat) (pixelFormat, error) {
	pf, ok := f.(pixelFormat)
	if !ok {
		return pixelFormat{}, fmt.Errorf("pixel format %v is not a libav pixel format (%T)", f, f)
	}
	return pf, nil
}
