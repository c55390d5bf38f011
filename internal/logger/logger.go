// Package logger provides the structured-logging port used throughout the
// pipeline: a small interface plus one zerolog-backed implementation.
package logger

// Logger is the sink the pipeline's core consumes. Every message names
// the detection stage it came from; fields are passed as a map so call
// sites can attach whatever is relevant (octave, level index, sigma,
// candidate counts) without the interface growing a parameter per
// caller.
type Logger interface {
	Debug(stage, msg string, fields map[string]interface{})
	Info(stage, msg string, fields map[string]interface{})
	Warning(stage, msg string, fields map[string]interface{})
	Error(stage string, err error, fields map[string]interface{})
}

// Level selects the minimum severity a Logger emits.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// Nop is a Logger that discards everything; useful in tests that don't care
// about log output.
type Nop struct{}

func (Nop) Debug(string, string, map[string]interface{})   {}
func (Nop) Info(string, string, map[string]interface{})    {}
func (Nop) Warning(string, string, map[string]interface{}) {}
func (Nop) Error(string, error, map[string]interface{})    {}
