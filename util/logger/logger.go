package logger

import (
	"fmt"
	"github.com/APTrust/dpn-registry/models"
	"github.com/op/go-logging"
	"io/ioutil"
	stdlog "log"
	"os"
	"path"
	"path/filepath"
)

/*
InitLogger creates and returns a logger suitable for logging
human-readable message, along with the path to the log file.
*/
func InitLogger(config *models.Config) (*logging.Logger, string) {
	processName := path.Base(os.Args[0])
	filename := fmt.Sprintf("%s.log", processName)
	filename = filepath.Join(config.AbsLogDirectory(), filename)
	if config.LogDirectory != "" {
		// If this fails, OpenFile will fail in just a second
		_ = os.MkdirAll(config.LogDirectory, 0755)
	}
	writer, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot open log file '%s': %v\n", filename, err)
		os.Exit(1)
	}

	log := logging.MustGetLogger(processName)
	format := logging.MustStringFormatter("%{time} [%{level}] %{message}")
	logging.SetFormatter(format)

	logBackend := logging.NewLogBackend(writer, "", 0)
	if config.LogToStderr {
		// Log to BOTH file and stderr
		stderrBackend := logging.NewLogBackend(os.Stderr, "", stdlog.LstdFlags|stdlog.Lshortfile)
		stderrBackend.Color = true
		logging.SetBackend(logBackend, stderrBackend)
	} else {
		// Log to file only
		logging.SetBackend(logBackend)
	}
	// SetBackend resets levels, so this has to come after.
	logging.SetLevel(config.LogLevel, processName)

	return log, filename
}

/*
InitJsonLogger creates and returns a logger suitable for logging JSON
data, along with the path to the log file. JSON logs consist of a
single JSON object per line, with no extraneous data. The replication
service writes one line per security-relevant outcome, so the file
doubles as an audit trail.
*/
func InitJsonLogger(config *models.Config) (*stdlog.Logger, string) {
	processName := path.Base(os.Args[0])
	filename := fmt.Sprintf("%s.json", processName)
	filename = filepath.Join(config.AbsLogDirectory(), filename)
	if config.LogDirectory != "" {
		_ = os.MkdirAll(config.LogDirectory, 0755)
	}
	writer, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot open log file '%s': %v", filename, err)
		os.Exit(1)
	}
	return stdlog.New(writer, "", 0), filename
}

/*
Discard logger returns a logger that writes to dev/null.
Suitable for use in testing.
*/
func DiscardLogger(module string) *logging.Logger {
	log := logging.MustGetLogger(module)
	devnull := logging.NewLogBackend(ioutil.Discard, "", 0)
	logging.SetBackend(devnull)
	logging.SetLevel(logging.INFO, module)
	return log
}
