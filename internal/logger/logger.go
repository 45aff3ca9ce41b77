package logger

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Logger writes leveled, category-tagged lines to stdout with per-level
// colors, and mirrors everything uncolored to logs/app.log when the file
// can be opened.
type Logger struct {
	mu   sync.Mutex
	file *os.File

	info    *color.Color
	warn    *color.Color
	err     *color.Color
	debug   *color.Color
	payment *color.Color
	db      *color.Color
	kafka   *color.Color
	api     *color.Color
}

func NewLogger() *Logger {
	l := &Logger{
		info:    color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		err:     color.New(color.FgRed, color.Bold),
		debug:   color.New(color.FgHiBlack),
		payment: color.New(color.FgCyan),
		db:      color.New(color.FgBlue),
		kafka:   color.New(color.FgMagenta),
		api:     color.New(color.FgWhite),
	}

	if err := os.MkdirAll("logs", 0o755); err == nil {
		if f, err := os.OpenFile("logs/app.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			l.file = f
		}
	}
	return l
}

func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func (l *Logger) write(c *color.Color, level, category, msg string) {
	line := fmt.Sprintf("%s [%s] [%s] %s", time.Now().Format("2006-01-02 15:04:05"), level, category, msg)

	l.mu.Lock()
	defer l.mu.Unlock()
	c.Println(line)
	if l.file != nil {
		fmt.Fprintln(l.file, line)
	}
}

func (l *Logger) Info(category, msg string)  { l.write(l.info, "INFO", category, msg) }
func (l *Logger) Warn(category, msg string)  { l.write(l.warn, "WARN", category, msg) }
func (l *Logger) Error(category, msg string) { l.write(l.err, "ERROR", category, msg) }
func (l *Logger) Debug(category, msg string) { l.write(l.debug, "DEBUG", category, msg) }

func (l *Logger) Fatal(category, msg string) {
	l.write(l.err, "FATAL", category, msg)
	l.Close()
	os.Exit(1)
}

func (l *Logger) LogPayment(action, paymentID, msg string) {
	l.write(l.payment, "PAYMENT", action, fmt.Sprintf("[%s] %s", paymentID, msg))
}

func (l *Logger) LogDatabase(action, db, msg string) {
	l.write(l.db, "DB", action, fmt.Sprintf("[%s] %s", db, msg))
}

func (l *Logger) LogKafka(action, topic, msg string) {
	l.write(l.kafka, "KAFKA", action, fmt.Sprintf("[%s] %s", topic, msg))
}

func (l *Logger) LogAPI(method, path, status, duration string) {
	l.write(l.api, "API", method, fmt.Sprintf("%s - %s (%s)", path, status, duration))
}

func (l *Logger) LogProcess(stage, msg string) {
	l.write(l.info, "PROCESS", stage, msg)
}

func (l *Logger) LogSecurity(kind, msg string) {
	l.write(l.warn, "SECURITY", kind, msg)
}
