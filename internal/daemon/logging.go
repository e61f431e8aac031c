package daemon

import (
	"log"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewRotatingLogger returns a logger writing to a size-rotated file.
// Used for the daemon's long-lived log so unattended hosts never fill a
// disk with sync output.
func NewRotatingLogger(path string, maxSizeMB, maxBackups int) *log.Logger {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	if maxBackups <= 0 {
		maxBackups = 3
	}
	return log.New(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	}, "[daemon] ", log.LstdFlags)
}
