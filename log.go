package wlwin

import (
	"log"
	"os"
)

// logger receives step failures and swallowed errors.
var logger = log.New(os.Stderr, "wlwin: ", log.LstdFlags)

// SetLogger replaces the package logger. A nil logger is ignored.
func SetLogger(l *log.Logger) {
	if l != nil {
		logger = l
	}
}
