// Package clog builds the apex loggers that are handed to components at startup.
package clog

import (
	"io"

	"github.com/apex/log"
)

// New returns a logger writing through Handler at the given level.
func New(w io.Writer, level log.Level) *log.Logger {
	return &log.Logger{
		Handler: NewHandler(w),
		Level:   level,
	}
}

// NewFromLevelString is New with the level parsed from a string such as "info" or "debug".
func NewFromLevelString(w io.Writer, level string) (*log.Logger, error) {
	l, err := log.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	return New(w, l), nil
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *log.Logger {
	return New(io.Discard, log.FatalLevel)
}

// For returns the component scoped entry used throughout the upload subsystem.
func For(logger log.Interface, component string) log.Interface {
	if logger == nil {
		logger = Discard()
	}

	return logger.WithField("component", component)
}
