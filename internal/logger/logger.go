// Package logger provides the process-wide log sink: stdout plus an
// optional size-rotated file, with a debug level gate.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Logger writes to stdout and, when configured, a rotating log file.
type Logger struct {
	mu          sync.Mutex
	debug       bool
	file        *os.File
	filePath    string
	maxSizeMB   int
	maxBackups  int
	currentSize int64
	out         *log.Logger
}

// New creates a logger. An empty filePath disables file output.
func New(filePath string, maxSizeMB, maxBackups int, debug bool) (*Logger, error) {
	l := &Logger{
		debug:      debug,
		filePath:   filePath,
		maxSizeMB:  maxSizeMB,
		maxBackups: maxBackups,
	}

	if filePath == "" {
		l.out = log.New(os.Stdout, "", log.LstdFlags)
		return l, nil
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if err := l.openFile(); err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	l.out = log.New(io.MultiWriter(os.Stdout, l.file), "", log.LstdFlags)
	return l, nil
}

func (l *Logger) openFile() error {
	file, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	l.file = file
	l.currentSize = info.Size()
	return nil
}

func (l *Logger) rotateIfNeeded() {
	if l.file == nil || l.maxSizeMB <= 0 {
		return
	}
	if l.currentSize < int64(l.maxSizeMB)*1024*1024 {
		return
	}

	l.file.Close()
	for i := l.maxBackups - 1; i >= 1; i-- {
		os.Rename(fmt.Sprintf("%s.%d", l.filePath, i), fmt.Sprintf("%s.%d", l.filePath, i+1))
	}
	if l.maxBackups > 0 {
		os.Rename(l.filePath, l.filePath+".1")
	}
	if err := l.openFile(); err != nil {
		// Fall back to stdout-only rather than losing logs entirely.
		l.file = nil
		l.out.SetOutput(os.Stdout)
		return
	}
	l.out.SetOutput(io.MultiWriter(os.Stdout, l.file))
}

func (l *Logger) write(level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg := fmt.Sprintf(format, args...)
	if level != "" {
		msg = level + " " + msg
	}
	l.out.Println(msg)

	if l.file != nil {
		l.currentSize += int64(len(msg) + 1)
		l.rotateIfNeeded()
	}
}

func (l *Logger) Printf(format string, args ...interface{}) { l.write("", format, args...) }
func (l *Logger) Info(format string, args ...interface{})   { l.write("[INFO]", format, args...) }
func (l *Logger) Warn(format string, args ...interface{})   { l.write("[WARN]", format, args...) }
func (l *Logger) Error(format string, args ...interface{})  { l.write("[ERROR]", format, args...) }

// Debug writes only when debug mode is on.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.mu.Lock()
	debug := l.debug
	l.mu.Unlock()
	if debug {
		l.write("[DEBUG]", format, args...)
	}
}

// Fatal logs and exits the process.
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.write("[FATAL]", format, args...)
	os.Exit(1)
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

var (
	globalMu sync.RWMutex
	global   *Logger
)

// Init installs the global logger used by the package-level functions.
func Init(filePath string, maxSizeMB, maxBackups int, debug bool) error {
	l, err := New(filePath, maxSizeMB, maxBackups, debug)
	if err != nil {
		return err
	}
	globalMu.Lock()
	if global != nil {
		global.Close()
	}
	global = l
	globalMu.Unlock()
	return nil
}

// Get returns the global logger, or nil before Init.
func Get() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

func Printf(format string, args ...interface{}) {
	if l := Get(); l != nil {
		l.Printf(format, args...)
	}
}

func Debug(format string, args ...interface{}) {
	if l := Get(); l != nil {
		l.Debug(format, args...)
	}
}

func Info(format string, args ...interface{}) {
	if l := Get(); l != nil {
		l.Info(format, args...)
	}
}

func Warn(format string, args ...interface{}) {
	if l := Get(); l != nil {
		l.Warn(format, args...)
	}
}

func Error(format string, args ...interface{}) {
	if l := Get(); l != nil {
		l.Error(format, args...)
	}
}

func Fatal(format string, args ...interface{}) {
	if l := Get(); l != nil {
		l.Fatal(format, args...)
	}
}
