// Package logging provides leveled, structured logging for the replication
// engine and its workers.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the available log levels.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

var levelColor = map[LogLevel]string{
	LevelDebug: "\x1b[36m",
	LevelInfo:  "\x1b[32m",
	LevelWarn:  "\x1b[33m",
	LevelError: "\x1b[31m",
}

const colorReset = "\x1b[0m"

// Config holds logging configuration.
type Config struct {
	Level   LogLevel
	Format  string // "text" (default) or "json"
	Output  io.Writer
	Sync    bool // fsync Output after every line, if it is a *os.File
	NoColor bool
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

type kv struct {
	key string
	val any
}

// Logger is a leveled logger that accumulates structured key/value context
// through WithNode/WithWorker/WithRequest/WithError, the way a request
// handler narrows a logger as it descends into a call.
type Logger struct {
	mu      sync.Mutex
	out     io.Writer
	level   LogLevel
	format  string
	sync    bool
	noColor bool
	context []kv
}

// NewLogger creates a new logger.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	format := config.Format
	if format == "" {
		format = "text"
	}
	return &Logger{
		out:     output,
		level:   config.Level,
		format:  format,
		sync:    config.Sync,
		noColor: config.NoColor,
	}
}

var (
	defaultLogger *Logger
	defaultMu     sync.RWMutex
)

// Default returns the default logger, creating it if necessary.
func Default() *Logger {
	defaultMu.RLock()
	if defaultLogger != nil {
		defer defaultMu.RUnlock()
		return defaultLogger
	}
	defaultMu.RUnlock()

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = logger
}

func (l *Logger) clone() *Logger {
	c := *l
	c.context = append([]kv(nil), l.context...)
	return &c
}

func (l *Logger) withKV(key string, val any) *Logger {
	c := l.clone()
	c.context = append(c.context, kv{key, val})
	return c
}

// WithNode returns a child logger annotated with a node id.
func (l *Logger) WithNode(id uint32) *Logger {
	return l.withKV("node_id", id)
}

// WithWorker returns a child logger annotated with a worker name
// ("receiver", "disksender", "acksender").
func (l *Logger) WithWorker(name string) *Logger {
	return l.withKV("worker", name)
}

// WithRequest returns a child logger annotated with a request tag and op.
func (l *Logger) WithRequest(tag uint64, op string) *Logger {
	c := l.withKV("tag", tag)
	return c.withKV("op", op)
}

// WithError returns a child logger annotated with an error.
func (l *Logger) WithError(err error) *Logger {
	return l.withKV("error", err)
}

func argsToKV(args []any) []kv {
	if len(args) == 0 {
		return nil
	}
	out := make([]kv, 0, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, _ := args[i].(string)
		out = append(out, kv{key, args[i+1]})
	}
	return out
}

func formatKVs(kvs []kv) string {
	if len(kvs) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range kvs {
		b.WriteByte(' ')
		b.WriteString(p.key)
		b.WriteByte('=')
		fmt.Fprintf(&b, "%v", p.val)
	}
	return b.String()
}

func (l *Logger) writeText(level LogLevel, msg string, kvs []kv) {
	prefix := "[" + level.String() + "]"
	if !l.noColor {
		if c, ok := levelColor[level]; ok {
			prefix = c + prefix + colorReset
		}
	}
	fmt.Fprintf(l.out, "%s %s %s%s\n", time.Now().Format(time.RFC3339), prefix, msg, formatKVs(kvs))
}

func (l *Logger) writeJSON(level LogLevel, msg string, kvs []kv) {
	entry := make(map[string]any, len(kvs)+3)
	entry["time"] = time.Now().Format(time.RFC3339)
	entry["level"] = level.String()
	entry["msg"] = msg
	for _, p := range kvs {
		entry[p.key] = p.val
	}
	b, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(l.out, "{\"level\":\"ERROR\",\"msg\":\"log marshal failed: %v\"}\n", err)
		return
	}
	l.out.Write(append(b, '\n'))
}

func (l *Logger) log(level LogLevel, msg string, args ...any) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	kvs := append(append([]kv(nil), l.context...), argsToKV(args)...)

	if l.format == "json" {
		l.writeJSON(level, msg, kvs)
	} else {
		l.writeText(level, msg, kvs)
	}

	if l.sync {
		if f, ok := l.out.(*os.File); ok {
			f.Sync()
		}
	}
}

func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, msg, args...) }

// Printf-style logging.
func (l *Logger) Debugf(format string, args ...any) { l.log(LevelDebug, fmt.Sprintf(format, args...)) }
func (l *Logger) Infof(format string, args ...any)  { l.log(LevelInfo, fmt.Sprintf(format, args...)) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(LevelWarn, fmt.Sprintf(format, args...)) }
func (l *Logger) Errorf(format string, args ...any) { l.log(LevelError, fmt.Sprintf(format, args...)) }

// Printf satisfies interfaces.Logger in terms of Info.
func (l *Logger) Printf(format string, args ...any) {
	l.Infof(format, args...)
}

// Global convenience functions.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
