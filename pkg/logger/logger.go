package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

var (
	InfoLog  *log.Logger
	ErrorLog *log.Logger
	WarnLog  *log.Logger
	DebugLog *log.Logger
	logFile  *os.File
	level    = INFO
	runTag   string
)

const (
	INFO = iota
	DEBUG
)

const flags = log.Ldate | log.Ltime | log.Lshortfile

// ParseLevel maps LOG_LEVEL values to a level; anything but "debug" is INFO.
func ParseLevel(s string) int {
	if strings.EqualFold(strings.TrimSpace(s), "debug") {
		return DEBUG
	}
	return INFO
}

// InitLogger initializes the logger with console output and, when filename
// is set, a file tee.
func InitLogger(filename string, lvl int) error {
	var out io.Writer = os.Stdout
	if filename != "" {
		var err error
		logFile, err = os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		out = io.MultiWriter(os.Stdout, logFile)
	}
	SetOutput(out, lvl)
	return nil
}

// SetOutput points every level at w.
func SetOutput(w io.Writer, lvl int) {
	level = lvl
	InfoLog = log.New(w, "INFO: ", flags)
	ErrorLog = log.New(w, "ERROR: ", flags)
	WarnLog = log.New(w, "WARN: ", flags)
	DebugLog = log.New(w, "DEBUG: ", flags)
}

// SetRunID tags every following log line with the run id; an empty id
// removes the tag.
func SetRunID(id string) {
	if id == "" {
		runTag = ""
		return
	}
	runTag = "run=" + id + " "
}

func Close() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

func Init() {
	InfoLog = log.New(os.Stdout, "INFO: ", flags)
	ErrorLog = log.New(os.Stderr, "ERROR: ", flags)
	WarnLog = log.New(os.Stdout, "WARN: ", flags)
	DebugLog = log.New(os.Stdout, "DEBUG: ", flags)
}

func Info(format string, v ...interface{}) {
	emit(&InfoLog, format, v...)
}

func Infof(format string, v ...interface{}) {
	emit(&InfoLog, format, v...)
}

func Error(format string, v ...interface{}) {
	emit(&ErrorLog, format, v...)
}

func Errorf(format string, v ...interface{}) {
	emit(&ErrorLog, format, v...)
}

func Warn(format string, v ...interface{}) {
	emit(&WarnLog, format, v...)
}

func Warnf(format string, v ...interface{}) {
	emit(&WarnLog, format, v...)
}

func Debug(format string, v ...interface{}) {
	if level < DEBUG {
		return
	}
	emit(&DebugLog, format, v...)
}

func Debugf(format string, v ...interface{}) {
	if level < DEBUG {
		return
	}
	emit(&DebugLog, format, v...)
}

// emit writes through l with a call depth that makes Lshortfile point at the
// caller of the exported helper.
func emit(l **log.Logger, format string, v ...interface{}) {
	if *l == nil {
		Init()
	}
	msg := format
	if len(v) > 0 {
		msg = fmt.Sprintf(format, v...)
	}
	(*l).Output(3, runTag+msg)
}
