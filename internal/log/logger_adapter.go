package log

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// LoggerConfig is the `log:` section of the application configuration.
type LoggerConfig struct {
	Level     string           `mapstructure:"level"`
	Pattern   string           `mapstructure:"pattern"`
	Time      string           `mapstructure:"time"`
	Appenders []AppenderConfig `mapstructure:"appenders"`
}

type logrusAdapter struct {
	entry *logrus.Entry
}

func newFallbackLogger() Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.InfoLevel)
	return &logrusAdapter{entry: logrus.NewEntry(l)}
}

func buildLogger(cfg *LoggerConfig) (Logger, error) {
	if cfg == nil {
		return newFallbackLogger(), nil
	}

	pattern := cfg.Pattern
	if pattern == "" {
		pattern = "%time [%level] %field %msg"
	}
	timeFmt := cfg.Time
	if timeFmt == "" {
		timeFmt = "2006-01-02T15:04:05.000Z07:00"
	}

	l := logrus.New()
	l.SetFormatter(&formatter{pattern: pattern, time: timeFmt})
	l.SetReportCaller(strings.Contains(pattern, "%caller") || strings.Contains(pattern, "%func"))

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		if cfg.Level != "" {
			return nil, fmt.Errorf("log: unknown level %q: %w", cfg.Level, err)
		}
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	mw := NewMultiWriter()
	if len(cfg.Appenders) == 0 {
		mw.Add(os.Stdout)
	}
	for i, app := range cfg.Appenders {
		if err := attachAppender(mw, app); err != nil {
			return nil, fmt.Errorf("log: appender[%d] (%s): %w", i, app.Type, err)
		}
	}
	l.SetOutput(mw)

	return &logrusAdapter{entry: logrus.NewEntry(l)}, nil
}

// attachAppender decodes an appender's freeform Options map into its typed
// struct and wires the resulting writer into mw.
func attachAppender(mw *MultiWriter, app AppenderConfig) error {
	switch strings.ToLower(app.Type) {
	case "console", "stdout":
		mw.Add(os.Stdout)
	case "stderr":
		mw.Add(os.Stderr)
	case "file":
		var opt FileAppenderOpt
		if err := decodeOptions(app.Options, &opt); err != nil {
			return err
		}
		if opt.Filename == "" {
			return fmt.Errorf("file appender requires 'filename'")
		}
		mw.AddFileAppender(opt)
	case "kafka":
		var opt KafkaAppenderOpt
		if err := decodeOptions(app.Options, &opt); err != nil {
			return err
		}
		if len(opt.Brokers) == 0 || opt.Topic == "" {
			return fmt.Errorf("kafka appender requires 'brokers' and 'topic'")
		}
		mw.AddKafkaAppender(opt)
	case "loki":
		var opt LokiConfig
		if err := decodeOptions(app.Options, &opt); err != nil {
			return err
		}
		if opt.Endpoint == "" {
			return fmt.Errorf("loki appender requires 'endpoint'")
		}
		writer, err := NewLokiWriter(opt)
		if err != nil {
			return err
		}
		mw.Add(writer)
	default:
		return fmt.Errorf("unsupported appender type %q", app.Type)
	}
	return nil
}

func (l *logrusAdapter) Print(args ...interface{})                 { l.entry.Print(args...) }
func (l *logrusAdapter) Printf(format string, args ...interface{}) { l.entry.Printf(format, args...) }

func (l *logrusAdapter) Trace(args ...interface{})                 { l.entry.Trace(args...) }
func (l *logrusAdapter) Tracef(format string, args ...interface{}) { l.entry.Tracef(format, args...) }

func (l *logrusAdapter) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *logrusAdapter) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }

func (l *logrusAdapter) Info(args ...interface{})                 { l.entry.Info(args...) }
func (l *logrusAdapter) Infof(format string, args ...interface{}) { l.entry.Infof(format, args...) }

func (l *logrusAdapter) Warn(args ...interface{})                 { l.entry.Warn(args...) }
func (l *logrusAdapter) Warnf(format string, args ...interface{}) { l.entry.Warnf(format, args...) }

func (l *logrusAdapter) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *logrusAdapter) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusAdapter) Fatal(args ...interface{})                 { l.entry.Fatal(args...) }
func (l *logrusAdapter) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }

func (l *logrusAdapter) Panic(args ...interface{})                 { l.entry.Panic(args...) }
func (l *logrusAdapter) Panicf(format string, args ...interface{}) { l.entry.Panicf(format, args...) }

func (l *logrusAdapter) WithField(field string, value interface{}) Logger {
	return &logrusAdapter{entry: l.entry.WithField(field, value)}
}
func (l *logrusAdapter) WithFields(fields map[string]interface{}) Logger {
	return &logrusAdapter{entry: l.entry.WithFields(fields)}
}
func (l *logrusAdapter) WithError(err error) Logger {
	return &logrusAdapter{entry: l.entry.WithError(err)}
}

func (l *logrusAdapter) IsTraceEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.TraceLevel)
}
func (l *logrusAdapter) IsDebugEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.DebugLevel)
}
func (l *logrusAdapter) IsInfoEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.InfoLevel)
}
