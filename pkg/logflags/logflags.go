package logflags

import (
	"errors"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var debugInfo = false
var symtab = false
var cfi = false
var debugLineErrors = false
var unwind = false
var errorManager = false
var suppressions = false
var script = false

var logOut io.WriteCloser

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if !flag {
		return makeLogger(logrus.ErrorLevel, fields)
	}
	return makeLogger(logrus.DebugLevel, fields)
}

// DebugInfo returns true if the loading and unloading of debug info
// entries should be logged.
func DebugInfo() bool {
	return debugInfo
}

// DebugInfoLogger returns a logger for the debuginfo registry.
func DebugInfoLogger() Logger {
	return makeFlaggableLogger(debugInfo, Fields{"layer": "debuginfo"})
}

// Symtab returns true if symbol table construction should be traced.
func Symtab() bool {
	return symtab
}

// SymtabLogger returns a logger for symbol table construction.
func SymtabLogger() Logger {
	return makeFlaggableLogger(symtab, Fields{"layer": "debuginfo", "kind": "symtab"})
}

// CFI returns true if rejected call frame info records should be logged.
func CFI() bool {
	return cfi
}

// CFILogger returns a logger for the call frame info reader.
func CFILogger() Logger {
	return makeFlaggableLogger(cfi, Fields{"layer": "dwarf", "kind": "cfi"})
}

// DebugLineErrors returns true if pkg/dwarf/line should log its recoverable
// errors.
func DebugLineErrors() bool {
	return debugLineErrors
}

// Unwind returns true if every unwound frame should be logged.
func Unwind() bool {
	return unwind
}

// UnwindLogger returns a logger for the stack unwinder.
func UnwindLogger() Logger {
	return makeFlaggableLogger(unwind, Fields{"layer": "unwind"})
}

// ErrorManager returns true if the error manager should log its decisions.
func ErrorManager() bool {
	return errorManager
}

// ErrorManagerLogger returns a logger for the error manager.
func ErrorManagerLogger() Logger {
	return makeFlaggableLogger(errorManager, Fields{"layer": "errormgr"})
}

// Suppressions returns true if suppression loading and matching should be logged.
func Suppressions() bool {
	return suppressions
}

// SuppressionsLogger returns a logger for suppression loading and matching.
func SuppressionsLogger() Logger {
	return makeFlaggableLogger(suppressions, Fields{"layer": "errormgr", "kind": "suppressions"})
}

// Script returns true if starlark scripts should be traced.
func Script() bool {
	return script
}

// ScriptLogger returns a logger for the starlark environment.
func ScriptLogger() Logger {
	return makeFlaggableLogger(script, Fields{"layer": "script"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets debugger flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "tracecore-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return err
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(io.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "debuginfo"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch logcmd {
		case "debuginfo":
			debugInfo = true
		case "symtab":
			symtab = true
		case "cfi":
			cfi = true
		case "debuglineerr":
			debugLineErrors = true
		case "unwind":
			unwind = true
		case "errormgr":
			errorManager = true
		case "suppressions":
			suppressions = true
		case "script":
			script = true
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}
