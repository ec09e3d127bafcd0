// Package logging wraps logrus with the field/level conventions shared by
// the archiver, retriever, and deleter daemons.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the structured logger type used throughout the bridge. It is
// an Entry, not a bare *logrus.Logger, so the "component" field New
// attaches survives every subsequent WithField/WithError call.
type Logger = *logrus.Entry

// Fields is a set of structured log fields attached to a single entry.
type Fields = logrus.Fields

// New builds a logger for the named component (archiver, retriever,
// deleter), writing JSON lines to logdir/<component>.log when logdir is
// non-empty, and to stderr otherwise.
func New(component, logdir, level string) Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(parseLevel(level))

	if logdir != "" {
		if err := os.MkdirAll(logdir, 0o755); err == nil {
			f, err := os.OpenFile(logdir+"/"+component+".log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err == nil {
				logger.SetOutput(f)
			} else {
				logger.WithError(err).Warn("could not open log file, logging to stderr")
			}
		}
	}

	return logger.WithField("component", component)
}

func parseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
