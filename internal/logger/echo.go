package logger

import (
	"fmt"
	"io"

	echo_log "github.com/labstack/gommon/log"
)

// EchoLoggerAdapter routes echo's internal logging through a module Logger:
//
//	e := echo.New()
//	e.Logger = logger.NewEchoLoggerAdapter(log.Module("http"))
type EchoLoggerAdapter struct {
	logger Logger
}

// NewEchoLoggerAdapter wraps l; a nil logger falls back to the console logger.
func NewEchoLoggerAdapter(l Logger) *EchoLoggerAdapter {
	if l == nil {
		l = NewConsoleLogger("http", LogLevelInfo)
	}
	return &EchoLoggerAdapter{logger: l}
}

// Output is unused; the wrapped logger owns its writers.
func (a *EchoLoggerAdapter) Output() io.Writer { return io.Discard }

func (a *EchoLoggerAdapter) SetOutput(_ io.Writer) {}

func (a *EchoLoggerAdapter) Prefix() string { return "" }

func (a *EchoLoggerAdapter) SetPrefix(_ string) {}

func (a *EchoLoggerAdapter) Level() echo_log.Lvl { return echo_log.INFO }

func (a *EchoLoggerAdapter) SetLevel(_ echo_log.Lvl) {}

func (a *EchoLoggerAdapter) SetHeader(_ string) {}

func (a *EchoLoggerAdapter) Print(i ...any) { a.logger.Info(fmt.Sprint(i...)) }

func (a *EchoLoggerAdapter) Printf(format string, args ...any) {
	a.logger.Info(fmt.Sprintf(format, args...))
}

func (a *EchoLoggerAdapter) Printj(j echo_log.JSON) { a.logger.Info("echo", Any("data", j)) }

func (a *EchoLoggerAdapter) Debug(i ...any) { a.logger.Debug(fmt.Sprint(i...)) }

func (a *EchoLoggerAdapter) Debugf(format string, args ...any) {
	a.logger.Debug(fmt.Sprintf(format, args...))
}

func (a *EchoLoggerAdapter) Debugj(j echo_log.JSON) { a.logger.Debug("echo", Any("data", j)) }

func (a *EchoLoggerAdapter) Info(i ...any) { a.logger.Info(fmt.Sprint(i...)) }

func (a *EchoLoggerAdapter) Infof(format string, args ...any) {
	a.logger.Info(fmt.Sprintf(format, args...))
}

func (a *EchoLoggerAdapter) Infoj(j echo_log.JSON) { a.logger.Info("echo", Any("data", j)) }

func (a *EchoLoggerAdapter) Warn(i ...any) { a.logger.Warn(fmt.Sprint(i...)) }

func (a *EchoLoggerAdapter) Warnf(format string, args ...any) {
	a.logger.Warn(fmt.Sprintf(format, args...))
}

func (a *EchoLoggerAdapter) Warnj(j echo_log.JSON) { a.logger.Warn("echo", Any("data", j)) }

func (a *EchoLoggerAdapter) Error(i ...any) { a.logger.Error(fmt.Sprint(i...)) }

func (a *EchoLoggerAdapter) Errorf(format string, args ...any) {
	a.logger.Error(fmt.Sprintf(format, args...))
}

func (a *EchoLoggerAdapter) Errorj(j echo_log.JSON) { a.logger.Error("echo", Any("data", j)) }

// Fatal logs at error level and panics so the server's recover path shuts down cleanly.
func (a *EchoLoggerAdapter) Fatal(i ...any) {
	msg := fmt.Sprint(i...)
	a.logger.Error(msg)
	panic("echo fatal error: " + msg)
}

func (a *EchoLoggerAdapter) Fatalf(format string, args ...any) {
	a.Fatal(fmt.Sprintf(format, args...))
}

func (a *EchoLoggerAdapter) Fatalj(j echo_log.JSON) {
	a.Fatal(fmt.Sprintf("%v", j))
}

func (a *EchoLoggerAdapter) Panic(i ...any) {
	msg := fmt.Sprint(i...)
	a.logger.Error(msg)
	panic(msg)
}

func (a *EchoLoggerAdapter) Panicf(format string, args ...any) {
	a.Panic(fmt.Sprintf(format, args...))
}

func (a *EchoLoggerAdapter) Panicj(j echo_log.JSON) {
	a.Panic(fmt.Sprintf("%v", j))
}
