// Package proxylog sets up process-wide logging and panic recovery: a
// rotating operational log file and a separate append-only panic log,
// both written through the standard library's log package.
package proxylog

import (
	"log"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/DeRuina/timberjack"
)

// Loggers groups the two destinations the proxy writes to: general
// operational logging, and panic reports.
type Loggers struct {
	Info  *log.Logger
	Panic *log.Logger

	logFile   *timberjack.Logger
	panicFile *os.File
}

// Setup creates <workDir>/logs/, opens a rotating log file for general
// logging, and opens a plain append-only panic log file. There is no
// process-wide panic hook in Go, so RecoverAndLog (below) is deferred at
// the top of each connection goroutine instead.
func Setup(workDir, appName string) (*Loggers, error) {
	logsDir := filepath.Join(workDir, "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, err
	}

	rotator := &timberjack.Logger{
		Filename:   filepath.Join(logsDir, appName+".log"),
		MaxAge:     7,
		MaxBackups: 7,
		LocalTime:  true,
	}

	panicFile, err := os.OpenFile(
		filepath.Join(logsDir, appName+".panic.log"),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY,
		0o644,
	)
	if err != nil {
		rotator.Close()
		return nil, err
	}

	return &Loggers{
		Info:      log.New(rotator, "", log.LstdFlags),
		Panic:     log.New(panicFile, "", log.LstdFlags),
		logFile:   rotator,
		panicFile: panicFile,
	}, nil
}

// Close releases the underlying log files.
func (l *Loggers) Close() error {
	err1 := l.logFile.Close()
	err2 := l.panicFile.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// RecoverAndLog recovers a panic in the calling goroutine, if any, logging
// the panic value and stack trace to l.Panic before letting the goroutine
// return normally. It is meant to be deferred at the top of each
// per-connection goroutine.
func (l *Loggers) RecoverAndLog(context string) {
	if r := recover(); r != nil {
		l.Panic.Printf(
			"%s %s panic: %v\n%s",
			time.Now().Format(time.RFC3339),
			context,
			r,
			debug.Stack(),
		)
	}
}

// WorkDir returns the directory the running executable lives in, falling
// back to the current working directory.
func WorkDir() string {
	exe, err := os.Executable()
	if err == nil {
		return filepath.Dir(exe)
	}
	wd, err := os.Getwd()
	if err == nil {
		return wd
	}
	return "."
}

// FormatPeer renders an address for a log line, tolerating an empty
// string (used when the peer is not yet known).
func FormatPeer(addr string) string {
	if addr == "" {
		return "<unknown>"
	}
	return addr
}
