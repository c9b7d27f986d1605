// Package logger builds the zap logger used by the command line tool.
package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger writing to stderr. Verbose enables debug output with
// the development encoder; otherwise info and above are written with the
// production encoder. Warnings and errors always go to stderr so they are
// never mixed into results printed on stdout.
func New(verbose bool) *zap.Logger {
	return newLogger(verbose, os.Stderr)
}

func newLogger(verbose bool, w io.Writer) *zap.Logger {
	syncer := zapcore.Lock(zapcore.AddSync(w))

	// debug and info level enabler
	infoLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
		if verbose {
			return level == zapcore.DebugLevel || level == zapcore.InfoLevel
		}
		return level == zapcore.InfoLevel
	})

	// warn, error and fatal level enabler
	warnErrorFatalLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
		return level >= zapcore.WarnLevel
	})

	encoderConfig := zap.NewProductionEncoderConfig()
	if verbose {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), syncer, infoLevel),
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), syncer, warnErrorFatalLevel),
	)

	return zap.New(core)
}
