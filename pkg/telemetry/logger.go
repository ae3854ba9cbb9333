package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log field names shared by every pdreach component.
const (
	FieldComponent = "component"
	FieldRunID     = "run_id"
	FieldModel     = "model"
	FieldQuery     = "query"
	FieldDirection = "direction"
)

// Logger is a zerolog logger carrying run, model and query fields.
type Logger struct {
	zlog   zerolog.Logger
	closer io.Closer
}

type loggerContextKey struct{}

// timeLayouts maps a configured time format to the zerolog field format and
// the layout used by the console writer.
var timeLayouts = map[string][2]string{
	"unix":      {zerolog.TimeFormatUnix, zerolog.TimeFormatUnix},
	"unixms":    {zerolog.TimeFormatUnixMs, time.StampMilli},
	"unixmicro": {zerolog.TimeFormatUnixMicro, time.StampMicro},
	"rfc3339":   {time.RFC3339, time.RFC3339},
}

// NewLogger creates a logger from cfg. An Output other than stdout or
// stderr is a file, opened for append.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	switch cfg.Output {
	case "stdout":
		return newLogger(os.Stdout, nil, cfg), nil
	case "stderr", "":
		return newLogger(os.Stderr, nil, cfg), nil
	}
	f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return newLogger(f, f, cfg), nil
}

// NewLoggerTo creates a logger writing to w.
func NewLoggerTo(w io.Writer, cfg LoggingConfig) *Logger {
	return newLogger(w, nil, cfg)
}

func newLogger(w io.Writer, closer io.Closer, cfg LoggingConfig) *Logger {
	layout, ok := timeLayouts[cfg.TimeFormat]
	if !ok {
		layout = timeLayouts["rfc3339"]
	}
	zerolog.TimeFieldFormat = layout[0]

	if cfg.Format == "console" {
		// Files never get color codes.
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: layout[1], NoColor: closer != nil}
	}

	ctx := zerolog.New(w).Level(logLevel(cfg.Level)).With().Timestamp()
	if cfg.EnableCaller {
		ctx = ctx.Caller()
	}
	zlog := ctx.Logger()

	if cfg.EnableSampling {
		zlog = zlog.Sample(&zerolog.BurstSampler{
			Burst:       uint32(cfg.SamplingInitial),
			Period:      time.Second,
			NextSampler: &zerolog.BasicSampler{N: uint32(cfg.SamplingThereafter)},
		})
	}
	return &Logger{zlog: zlog, closer: closer}
}

// logLevel parses level, defaulting to info for empty or unknown names.
func logLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// Zerolog returns the underlying logger for packages that take one directly,
// such as the automaton's saturation logging.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// WithContext stores the logger in ctx.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, l)
}

// FromContext returns the logger stored in ctx, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}

func (l *Logger) strs(kv ...string) *Logger {
	c := l.zlog.With()
	for i := 0; i+1 < len(kv); i += 2 {
		c = c.Str(kv[i], kv[i+1])
	}
	return &Logger{zlog: c.Logger()}
}

// NewComponentLogger returns a child logger tagged with component.
func (l *Logger) NewComponentLogger(component string) *Logger {
	return l.strs(FieldComponent, component)
}

// WithRunID tags entries with a batch run id.
func (l *Logger) WithRunID(runID string) *Logger {
	return l.strs(FieldRunID, runID)
}

// WithModel tags entries with the model name.
func (l *Logger) WithModel(name string) *Logger {
	return l.strs(FieldModel, name)
}

// WithQuery tags entries with a query name and its direction.
func (l *Logger) WithQuery(name, direction string) *Logger {
	return l.strs(FieldQuery, name, FieldDirection, direction)
}

// WithField adds an arbitrary field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{zlog: l.zlog.With().Interface(key, value).Logger()}
}

// WithError adds err under the standard error field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zlog: l.zlog.With().Err(err).Logger()}
}

func (l *Logger) log(level zerolog.Level, msg string) {
	l.zlog.WithLevel(level).Msg(msg)
}

func (l *Logger) Debug(msg string) { l.log(zerolog.DebugLevel, msg) }
func (l *Logger) Info(msg string)  { l.log(zerolog.InfoLevel, msg) }
func (l *Logger) Warn(msg string)  { l.log(zerolog.WarnLevel, msg) }
func (l *Logger) Error(msg string) { l.log(zerolog.ErrorLevel, msg) }

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(zerolog.DebugLevel, fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(zerolog.InfoLevel, fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(zerolog.WarnLevel, fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(zerolog.ErrorLevel, fmt.Sprintf(format, args...))
}
