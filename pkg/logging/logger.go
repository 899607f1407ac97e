// Package logging структурированное логирование драйвера поверх logrus.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel уровни логирования
type LogLevel int

const (
	LogLevelTrace LogLevel = iota
	LogLevelDebug
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

var logLevelNames = map[LogLevel]string{
	LogLevelTrace: "TRACE",
	LogLevelDebug: "DEBUG",
	LogLevelInfo:  "INFO",
	LogLevelWarn:  "WARN",
	LogLevelError: "ERROR",
}

func (l LogLevel) String() string {
	if name, ok := logLevelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLevel разбирает имя уровня без учета регистра
func ParseLevel(s string) (LogLevel, error) {
	for level, name := range logLevelNames {
		if strings.EqualFold(name, s) {
			return level, nil
		}
	}
	if strings.EqualFold(s, "warning") {
		return LogLevelWarn, nil
	}
	return LogLevelInfo, fmt.Errorf("неизвестный уровень логирования %q", s)
}

func (l LogLevel) logrus() logrus.Level {
	switch l {
	case LogLevelTrace:
		return logrus.TraceLevel
	case LogLevelDebug:
		return logrus.DebugLevel
	case LogLevelWarn:
		return logrus.WarnLevel
	case LogLevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// StructuredLogger интерфейс для структурированного логирования
type StructuredLogger interface {
	Trace(ctx context.Context, msg string, fields ...Field)
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)

	// LogError логирует ошибку; коды и категории ошибок драйвера попадают в поля
	LogError(ctx context.Context, err error, msg string, fields ...Field)

	WithComponent(component string) StructuredLogger
	WithFields(fields ...Field) StructuredLogger

	SetLevel(level LogLevel)
	IsEnabled(level LogLevel) bool
}

// Field представляет поле лога
type Field struct {
	Key   string
	Value interface{}
}

// Helpers для создания полей
func String(key, value string) Field                 { return Field{key, value} }
func Int(key string, value int) Field                { return Field{key, value} }
func Uint32(key string, value uint32) Field          { return Field{key, value} }
func Bool(key string, value bool) Field              { return Field{key, value} }
func Duration(key string, value time.Duration) Field { return Field{key, value} }
func Any(key string, value interface{}) Field        { return Field{key, value} }
func Err(err error) Field                            { return Field{"error", err} }

// Hex поле в шестнадцатеричном виде (PLCI, NCCI, info коды)
func Hex(key string, value uint32) Field { return Field{key, fmt.Sprintf("0x%04x", value)} }

// Coded ошибки с кодом и категорией, например DriverError
type Coded interface {
	ErrorCode() string
	ErrorCategory() string
}

// Config конфигурация логгера
type Config struct {
	// Level уровень для консоли
	Level LogLevel
	// FileLevel уровень для файла
	FileLevel LogLevel
	// File путь к файлу лога, пустой отключает файл
	File string
	// MaxSizeMB размер файла до ротации
	MaxSizeMB int
	// MaxBackups число хранимых старых файлов
	MaxBackups int
	// Console вывод в консоль (stdout)
	Console io.Writer
}

// DefaultConfig консоль на уровне info, без файла
func DefaultConfig() Config {
	return Config{
		Level:      LogLevelInfo,
		FileLevel:  LogLevelDebug,
		MaxSizeMB:  100,
		MaxBackups: 1,
		Console:    os.Stdout,
	}
}

// LogrusLogger реализация StructuredLogger на logrus
type LogrusLogger struct {
	base  *logrus.Logger
	entry *logrus.Entry
}

// New создает логгер: консольный и файловый writer-hook со своими уровнями
func New(cfg Config) *LogrusLogger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})

	minLevel := cfg.Level
	if cfg.Console != nil {
		base.AddHook(&writerHook{writer: cfg.Console, levels: levelsUpTo(cfg.Level), formatter: base.Formatter})
	}
	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		base.AddHook(&writerHook{writer: file, levels: levelsUpTo(cfg.FileLevel), formatter: &logrus.TextFormatter{
			DisableColors:   true,
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		}})
		if cfg.FileLevel < minLevel {
			minLevel = cfg.FileLevel
		}
	}
	base.SetLevel(minLevel.logrus())

	return &LogrusLogger{base: base, entry: logrus.NewEntry(base)}
}

// NewNop логгер, который ничего не пишет
func NewNop() *LogrusLogger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	base.SetLevel(logrus.PanicLevel)
	return &LogrusLogger{base: base, entry: logrus.NewEntry(base)}
}

func levelsUpTo(l LogLevel) []logrus.Level {
	var out []logrus.Level
	for _, lvl := range logrus.AllLevels {
		if lvl <= l.logrus() {
			out = append(out, lvl)
		}
	}
	return out
}

// writerHook пишет записи своих уровней в отдельный writer
type writerHook struct {
	writer    io.Writer
	levels    []logrus.Level
	formatter logrus.Formatter
}

func (h *writerHook) Levels() []logrus.Level { return h.levels }

func (h *writerHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.writer.Write(line)
	return err
}

func toFields(fields []Field) logrus.Fields {
	out := make(logrus.Fields, len(fields))
	for _, f := range fields {
		out[f.Key] = f.Value
	}
	return out
}

func (l *LogrusLogger) log(level logrus.Level, msg string, fields []Field) {
	if !l.base.IsLevelEnabled(level) {
		return
	}
	l.entry.WithFields(toFields(fields)).Log(level, msg)
}

func (l *LogrusLogger) Trace(_ context.Context, msg string, fields ...Field) {
	l.log(logrus.TraceLevel, msg, fields)
}

func (l *LogrusLogger) Debug(_ context.Context, msg string, fields ...Field) {
	l.log(logrus.DebugLevel, msg, fields)
}

func (l *LogrusLogger) Info(_ context.Context, msg string, fields ...Field) {
	l.log(logrus.InfoLevel, msg, fields)
}

func (l *LogrusLogger) Warn(_ context.Context, msg string, fields ...Field) {
	l.log(logrus.WarnLevel, msg, fields)
}

func (l *LogrusLogger) Error(_ context.Context, msg string, fields ...Field) {
	l.log(logrus.ErrorLevel, msg, fields)
}

// LogError логирует ошибку на уровне error
func (l *LogrusLogger) LogError(ctx context.Context, err error, msg string, fields ...Field) {
	if err == nil {
		return
	}
	fields = append(fields, Err(err))
	if c, ok := err.(Coded); ok {
		fields = append(fields, String("error_code", c.ErrorCode()), String("error_category", c.ErrorCategory()))
	}
	l.Error(ctx, msg, fields...)
}

// WithComponent создает logger с указанным компонентом
func (l *LogrusLogger) WithComponent(component string) StructuredLogger {
	return &LogrusLogger{base: l.base, entry: l.entry.WithField("component", component)}
}

// WithFields создает logger с постоянными полями
func (l *LogrusLogger) WithFields(fields ...Field) StructuredLogger {
	return &LogrusLogger{base: l.base, entry: l.entry.WithFields(toFields(fields))}
}

// SetLevel меняет уровень на лету (переключатель отладки)
func (l *LogrusLogger) SetLevel(level LogLevel) {
	l.base.SetLevel(level.logrus())
}

// IsEnabled проверяет, включен ли уровень логирования
func (l *LogrusLogger) IsEnabled(level LogLevel) bool {
	return l.base.IsLevelEnabled(level.logrus())
}
