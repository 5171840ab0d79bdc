package main

import (
	"fmt"
	"log"
	"os"
)

// setupLogging builds a stdout logger for normal operational messages
// plus a debug logger, each with its own prefix. loglens runs as a
// foreground CLI rather than a daemon, so there is no access/error log
// split: just stdout and an optional debug trace file.
func setupLogging(debugLogPath string) (stdoutLogger, debugLogger *log.Logger, closeFn func()) {
	stdoutLogger = log.New(os.Stdout, "", log.LstdFlags)

	if debugLogPath == "" {
		debugLogger = log.New(os.Stderr, "DEBUG: ", log.LstdFlags)
		return stdoutLogger, debugLogger, func() {}
	}

	f, err := os.OpenFile(debugLogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Printf("Error opening debug log file: %v\n", err)
		debugLogger = log.New(os.Stderr, "DEBUG: ", log.LstdFlags)
		return stdoutLogger, debugLogger, func() {}
	}

	debugLogger = log.New(f, "DEBUG: ", log.LstdFlags)
	return stdoutLogger, debugLogger, func() { _ = f.Close() }
}
