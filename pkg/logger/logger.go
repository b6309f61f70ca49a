// Package logger owns the process-wide zap logger: one base logger tagged
// with the service name, component-named children for the subsystems, and
// a writer adapter that routes GORM's SQL log lines through zap.
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "astra-comms-core"

var (
	mu          sync.Mutex
	globalBase  *zap.Logger
	globalSugar *zap.SugaredLogger
)

// Init builds the global logger. env "prod"/"production" selects JSON
// output with ISO-8601 timestamps; anything else is the colored dev
// console. Stdlib log output is redirected so stray log.Printf calls from
// dependencies land in the same stream.
func Init(env string) (*zap.SugaredLogger, error) {
	mu.Lock()
	defer mu.Unlock()

	if globalSugar != nil && globalBase != nil {
		return globalSugar, nil
	}

	var cfg zap.Config
	if strings.EqualFold(env, "prod") || strings.EqualFold(env, "production") {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.Sampling = nil // call webhooks are bursty; sampled logs hide retransmits
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.OutputPaths = []string{"stderr"}

	base, err := cfg.Build(zap.Fields(zap.String("service", serviceName)))
	if err != nil {
		return nil, err
	}

	zap.ReplaceGlobals(base)
	_ = zap.RedirectStdLog(base)

	globalBase = base
	globalSugar = base.Sugar()
	return globalSugar, nil
}

// Base returns the base *zap.Logger, initializing from LOG_ENV on first use.
func Base() *zap.Logger {
	if globalBase == nil {
		if _, err := Init(os.Getenv("LOG_ENV")); err != nil {
			fallback()
		}
	}
	return globalBase
}

// L returns the global sugared logger, initializing it on first use.
func L() *zap.SugaredLogger {
	if globalSugar == nil {
		if _, err := Init(os.Getenv("LOG_ENV")); err != nil {
			fallback()
		}
	}
	return globalSugar
}

// Named returns a child logger tagged with a subsystem name, so gateway,
// escalation, and provider lines can be filtered apart in aggregation.
func Named(component string) *zap.Logger {
	return Base().Named(component)
}

// Sync flushes any buffered log entries.
func Sync() {
	if globalBase != nil {
		_ = globalBase.Sync()
	}
}

func fallback() {
	mu.Lock()
	defer mu.Unlock()
	if globalBase == nil {
		base, _ := zap.NewDevelopment()
		globalBase = base
		globalSugar = base.Sugar()
	}
}

// GORMWriter adapts gorm.io's logger.Writer interface (a bare Printf) onto
// zap. GORM only emits through its writer for slow queries and errors, so
// Warn is the honest level for everything it prints.
type GORMWriter struct {
	log *zap.Logger
}

// NewGORMWriter creates the writer adapter used by the repository layer.
func NewGORMWriter() GORMWriter {
	return GORMWriter{log: Named("gorm")}
}

// Printf implements gorm.io/gorm/logger.Writer.
func (w GORMWriter) Printf(format string, v ...interface{}) {
	msg := strings.TrimRight(fmt.Sprintf(format, v...), "\r\n")
	w.log.Warn(msg)
}
