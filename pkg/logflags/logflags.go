// Package logflags routes the logging of every layer of this codebase
// through logrus entries tagged with the layer they belong to. Layers are
// silenced unless enabled through Setup.
package logflags

import (
	"errors"
	"io/ioutil"
	"log"
	"strings"

	"github.com/sirupsen/logrus"
)

var unwind = false
var binding = false

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return logger
}

// Unwind returns true if the session/cursor layer should log.
func Unwind() bool {
	return unwind
}

// UnwindLogger returns a logger for the session/cursor layer.
func UnwindLogger() *logrus.Entry {
	return makeLogger(unwind, logrus.Fields{"layer": "unwind"})
}

// Binding returns true if entry-point resolution should log.
func Binding() bool {
	return binding
}

// BindingLogger returns a logger for entry-point resolution.
func BindingLogger() *logrus.Entry {
	return makeLogger(binding, logrus.Fields{"layer": "binding"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets logging flags based on the contents of logstr.
func Setup(logFlag bool, logstr string) error {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "unwind"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch logcmd {
		case "unwind":
			unwind = true
		case "binding":
			binding = true
		}
	}
	return nil
}
