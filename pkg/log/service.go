package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/mwantia/assetsync/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LoggerService interface {
	Debug(msg string, args ...any)

	Info(msg string, args ...any)

	Warn(msg string, args ...any)

	Error(msg string, args ...any)

	Fatal(msg string, args ...any)

	Named(name string) LoggerService
}

type LoggerServiceImpl struct {
	cfg    config.LogConfig
	name   string
	level  LogLevel
	writer io.Writer
	mu     *sync.Mutex
	closer io.Closer
}

type logEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Service   string `json:"service,omitempty"`
	Message   string `json:"message"`
}

func NewLoggerService(name string, cfg config.LogConfig) *LoggerServiceImpl {
	impl := &LoggerServiceImpl{
		cfg:   cfg,
		name:  name,
		level: Parse(cfg.Level),
		mu:    &sync.Mutex{},
	}

	impl.setupWriter()
	return impl
}

// NewLoggerServiceWithWriter logs to w only; used by tests and callers that
// capture output.
func NewLoggerServiceWithWriter(name string, cfg config.LogConfig, w io.Writer) *LoggerServiceImpl {
	cfg.NoColor = true
	return &LoggerServiceImpl{
		cfg:    cfg,
		name:   name,
		level:  Parse(cfg.Level),
		writer: w,
		mu:     &sync.Mutex{},
	}
}

// Discard returns a logger that drops everything.
func Discard() LoggerService {
	return NewLoggerServiceWithWriter("", config.LogConfig{Level: "FATAL"}, io.Discard)
}

func (impl *LoggerServiceImpl) setupWriter() {
	var writers []io.Writer

	if !impl.cfg.NoTerminal {
		writers = append(writers, os.Stdout)
	}

	if impl.cfg.File != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   impl.cfg.File,
			MaxSize:    impl.cfg.Rotation.MaxSize,
			MaxBackups: impl.cfg.Rotation.MaxBackups,
			MaxAge:     impl.cfg.Rotation.MaxAge,
			Compress:   impl.cfg.Rotation.Compress,
		}
		impl.closer = fileWriter
		writers = append(writers, fileWriter)
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	impl.writer = io.MultiWriter(writers...)
}

func (impl *LoggerServiceImpl) log(level LogLevel, msg string, args ...any) {
	if level < impl.level {
		return
	}

	timeFormat := impl.cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}
	timestamp := time.Now().Format(timeFormat)
	formattedMsg := formatMessage(msg, args)

	impl.mu.Lock()
	if impl.cfg.JSON {
		entry := logEntry{
			Timestamp: timestamp,
			Level:     level.String(),
			Message:   formattedMsg,
		}
		if impl.name != "" {
			entry.Service = impl.name
		}

		jsonBytes, _ := json.Marshal(entry)
		fmt.Fprintf(impl.writer, "%s\n", jsonBytes)
	} else {
		prefix := fmt.Sprintf("[%s] %-5s", timestamp, level)
		if impl.name != "" {
			prefix = fmt.Sprintf("%s [%s]", prefix, impl.name)
		}

		if !impl.cfg.NoTerminal && !impl.cfg.NoColor {
			fmt.Fprintf(impl.writer, "%s%s %s\033[0m\n", Color(level), prefix, formattedMsg)
		} else {
			fmt.Fprintf(impl.writer, "%s %s\n", prefix, formattedMsg)
		}
	}
	impl.mu.Unlock()

	if level == Fatal {
		os.Exit(1)
	}
}

// formatMessage only treats msg as a format when arguments are given, so
// literal messages may contain '%'.
func formatMessage(msg string, args []any) string {
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

func (impl *LoggerServiceImpl) Debug(msg string, args ...any) {
	impl.log(Debug, msg, args...)
}

func (impl *LoggerServiceImpl) Info(msg string, args ...any) {
	impl.log(Info, msg, args...)
}

func (impl *LoggerServiceImpl) Warn(msg string, args ...any) {
	impl.log(Warn, msg, args...)
}

func (impl *LoggerServiceImpl) Error(msg string, args ...any) {
	impl.log(Error, msg, args...)
}

func (impl *LoggerServiceImpl) Fatal(msg string, args ...any) {
	impl.log(Fatal, msg, args...)
}

func (impl *LoggerServiceImpl) Named(name string) LoggerService {
	fullName := name
	if impl.name != "" {
		fullName = fmt.Sprintf("%s/%s", impl.name, name)
	}

	return &LoggerServiceImpl{
		cfg:    impl.cfg,
		name:   fullName,
		level:  impl.level,
		writer: impl.writer, // Share the same writer
		mu:     impl.mu,
	}
}

// Cleanup flushes and closes the rotating log file, if any.
func (impl *LoggerServiceImpl) Cleanup() error {
	if impl.closer == nil {
		return nil
	}
	return impl.closer.Close()
}
