package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// ZerologAdapter backs the Logger port with zerolog. Every event is
// tagged with the detection stage that emitted it ("pyramid",
// "extrema", "orientation", "buffers", "compute/cpu"), so a run's log
// can be filtered down to one stage of the pipeline.
type ZerologAdapter struct {
	logger zerolog.Logger
}

func NewZerolog(writer io.Writer, level Level) *ZerologAdapter {
	logger := zerolog.New(writer).
		Level(toZerologLevel(level)).
		With().
		Timestamp().
		Logger()

	return &ZerologAdapter{logger: logger}
}

// NewConsoleLogger writes human-readable output to stdout; used by
// cmd/siftgpu and by tests that want to see pipeline progress.
func NewConsoleLogger(level Level) *ZerologAdapter {
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout}
	return NewZerolog(consoleWriter, level)
}

func toZerologLevel(level Level) zerolog.Level {
	switch level {
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// emit stamps the stage tag and the caller's fields onto one event.
// Field values arrive as a map rather than typed setters so call sites
// can attach whatever is relevant (octave, level index, sigma,
// candidate counts) without the adapter growing a method per shape.
func (z *ZerologAdapter) emit(event *zerolog.Event, stage, message string, fields map[string]interface{}) {
	event = event.Str("stage", stage)
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(message)
}

func (z *ZerologAdapter) Debug(stage, message string, fields map[string]interface{}) {
	z.emit(z.logger.Debug(), stage, message, fields)
}

func (z *ZerologAdapter) Info(stage, message string, fields map[string]interface{}) {
	z.emit(z.logger.Info(), stage, message, fields)
}

func (z *ZerologAdapter) Warning(stage, message string, fields map[string]interface{}) {
	z.emit(z.logger.Warn(), stage, message, fields)
}

func (z *ZerologAdapter) Error(stage string, err error, fields map[string]interface{}) {
	z.emit(z.logger.Error().Err(err), stage, "stage failed", fields)
}
