// Package utils
package utils

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// NewLogger returns a logger writing to stdout and, when file is set, appending to file.
// The returned func closes the file.
func NewLogger(level, file string) (zerolog.Logger, func(), error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	var w io.Writer = os.Stdout
	closer := func() {}
	if file != "" {
		f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return zerolog.Nop(), closer, err
		}
		w = zerolog.MultiLevelWriter(os.Stdout, f)
		closer = func() { _ = f.Close() }
	}

	logger := zerolog.New(w).With().Timestamp().Str("app", "signal-trader").Logger().Level(lvl)
	return logger, closer, nil
}
