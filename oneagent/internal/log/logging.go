// Copyright (C) 2017 Librato, Inc. All rights reserved.

// Package log implements the leveled logger of the loader. Messages below the
// current level are dropped; DEBUG messages carry the caller's file and line.
package log

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// LogLevel is a type that defines the log level.
type LogLevel uint8

// logLevel is the type for protected log level
// DO NOT COPY ME
type logLevel struct {
	LogLevel
	sync.RWMutex
}

// log levels
const (
	DEBUG LogLevel = iota
	INFO
	WARNING
	ERROR
)

const (
	envLoaderLogLevel = "DT_LOADER_DEBUG_LEVEL"

	// envDebug is the switch of the node `debug` module, which the loader
	// honors for compatibility: DEBUG=dynatrace enables debug logging.
	envDebug       = "DEBUG"
	debugNamespace = "dynatrace"
)

// LevelStr represents the log levels in strings
var LevelStr = []string{
	DEBUG:   "DEBUG",
	INFO:    "INFO",
	WARNING: "WARN",
	ERROR:   "ERROR",
}

// DefaultLevel defines the default log level
const DefaultLevel = WARNING

var (
	globalLevel = &logLevel{LogLevel: DefaultLevel}
	logger      = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
)

func init() {
	initLog()
}

func initLog() {
	if lvl, ok := os.LookupEnv(envLoaderLogLevel); ok {
		SetLevelFromStr(lvl)
		return
	}
	if debugEnabled(os.Getenv(envDebug)) {
		SetLevel(DEBUG)
		return
	}
	SetLevel(DefaultLevel)
}

// debugEnabled reports if the comma or space separated namespace list
// contains the loader's namespace or a wildcard.
func debugEnabled(namespaces string) bool {
	for _, ns := range strings.FieldsFunc(namespaces, func(r rune) bool {
		return r == ',' || r == ' '
	}) {
		if ns == "*" || ns == debugNamespace || strings.HasPrefix(ns, debugNamespace+":") {
			return true
		}
	}
	return false
}

// SetOutput sets the output destination for the internal logger.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// SetLevelFromStr parses the input string to a LogLevel and change the level of
// the global logger accordingly.
func SetLevelFromStr(s string) {
	level := DefaultLevel

	if l, valid := ToLogLevel(s); valid {
		level = l
	}

	SetLevel(level)
}

// ToLogLevel converts a string to a log level, or returns false for any error
func ToLogLevel(level string) (LogLevel, bool) {
	lvl := DefaultLevel

	// Accept integers for backward-compatibility.
	if i, err := strconv.Atoi(strings.TrimSpace(level)); err == nil {
		if i >= 0 && i < len(LevelStr) {
			lvl = LogLevel(i)
		} else {
			return lvl, false
		}
	} else {
		l, err := StrToLevel(strings.ToUpper(strings.TrimSpace(level)))
		if err != nil {
			return lvl, false
		}
		lvl = l
	}
	return lvl, true
}

// SetLevel sets the log level of the loader
func (l *logLevel) SetLevel(level LogLevel) {
	l.Lock()
	defer l.Unlock()
	l.LogLevel = level
}

// Level returns the current log level of the loader
func (l *logLevel) Level() LogLevel {
	l.RLock()
	defer l.RUnlock()
	return l.LogLevel
}

var (
	// SetLevel is the wrapper for the global logger
	SetLevel = globalLevel.SetLevel

	// Level is the wrapper for the global logger
	Level = globalLevel.Level
)

// StrToLevel converts a log level in string format (e.g., "DEBUG") to the
// corresponding log level in LogLevel type. It returns the default level and
// an error for invalid log level strings.
func StrToLevel(e string) (LogLevel, error) {
	for idx, s := range LevelStr {
		if s == e {
			return LogLevel(idx), nil
		}
	}
	return DefaultLevel, errors.New("not found")
}

// Enabled reports if messages of the given level are currently printed.
func Enabled(lv LogLevel) bool {
	return lv >= Level()
}

// logIt prints logs based on the debug level.
func logIt(level LogLevel, msg string, args []interface{}) {
	if !Enabled(level) {
		return
	}

	var buffer bytes.Buffer
	// layer 1: logIt(), layer 2: its wrappers, e.g., Info()
	const numberOfLayersToSkip = 2

	var pre string
	if level == DEBUG {
		_, file, line, ok := runtime.Caller(numberOfLayersToSkip)
		if ok {
			pre = fmt.Sprintf("%-5s [DT] %s:%d ", LevelStr[level], filepath.Base(file), line)
		} else {
			pre = fmt.Sprintf("%-5s [DT] %s:%s ", LevelStr[level], "na", "na")
		}
	} else { // avoid expensive reflections in production
		pre = fmt.Sprintf("%-5s [DT] ", LevelStr[level])
	}

	buffer.WriteString(pre)

	if msg == "" {
		buffer.WriteString(fmt.Sprint(args...))
	} else {
		buffer.WriteString(fmt.Sprintf(msg, args...))
	}

	logger.Print(buffer.String())
}

// Logf formats the log message with specified args
// and print it in the specified level
func Logf(level LogLevel, msg string, args ...interface{}) {
	logIt(level, msg, args)
}

// Log prints the log message in the specified level
func Log(level LogLevel, args ...interface{}) {
	logIt(level, "", args)
}

// Debugf formats the log message with specified args
// and print it in the specified level
func Debugf(msg string, args ...interface{}) {
	logIt(DEBUG, msg, args)
}

// Debug prints the log message in the specified level
func Debug(args ...interface{}) {
	logIt(DEBUG, "", args)
}

// Infof formats the log message with specified args
// and print it in the specified level
func Infof(msg string, args ...interface{}) {
	logIt(INFO, msg, args)
}

// Info prints the log message in the specified level
func Info(args ...interface{}) {
	logIt(INFO, "", args)
}

// Warningf formats the log message with specified args
// and print it in the specified level
func Warningf(msg string, args ...interface{}) {
	logIt(WARNING, msg, args)
}

// Warning prints the log message in the specified level
func Warning(args ...interface{}) {
	logIt(WARNING, "", args)
}

// Errorf formats the log message with specified args
// and print it in the specified level
func Errorf(msg string, args ...interface{}) {
	logIt(ERROR, msg, args)
}

// Error prints the log message in the specified level
func Error(args ...interface{}) {
	logIt(ERROR, "", args)
}
