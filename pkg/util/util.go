package util

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

var root = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
	Level(zerolog.InfoLevel).
	With().Timestamp().Logger()

// SetDebug raises the log level so that the per-stage debug messages (stage
// completion, per-function layout, optimizer rounds) become visible.
func SetDebug(enabled bool) {
	if enabled {
		root = root.Level(zerolog.DebugLevel)
	} else {
		root = root.Level(zerolog.InfoLevel)
	}
}

// Stage returns a logger scoped to one pipeline stage.
func Stage(name string) zerolog.Logger {
	return root.With().Str("stage", name).Logger()
}

// Fatalf reports an internal invariant violation and aborts. These are
// compiler bugs, never user errors; they must not fire on well-formed input.
func Fatalf(format string, args ...interface{}) {
	root.Error().Msg("internal error: " + fmt.Sprintf(format, args...))
	os.Exit(2)
}

func AlignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// EscapeAsciiz renders a string constant for a .asciiz directive. Embedded
// NUL bytes are dropped because .asciiz terminates the literal itself.
func EscapeAsciiz(s string) string {
	var sb strings.Builder
	for _, c := range []byte(s) {
		switch c {
		case '\n':
			sb.WriteString(`\n`)
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\t':
			sb.WriteString(`\t`)
		case 0:
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
