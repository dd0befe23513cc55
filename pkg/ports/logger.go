// Package ports defines the boundaries between the player core and its
// adapters.
package ports

// LogLevel represents the severity level of a log message.
type LogLevel int

const (
	// LevelDebug covers per-component details: demuxer indexing, decoder
	// processes, seek landings.
	LevelDebug LogLevel = iota
	// LevelInfo covers session progress.
	LevelInfo
	// LevelWarn covers skipped packets, failed seeks and other problems
	// playback survives.
	LevelWarn
	// LevelError covers failures that end the session.
	LevelError
	// LevelQuiet suppresses all log output.
	LevelQuiet
)

var levelNames = [...]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
	LevelQuiet: "quiet",
}

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return "unknown"
	}
	return levelNames[l]
}

// ParseLogLevel parses a level name. Unknown names map to LevelInfo.
func ParseLogLevel(s string) LogLevel {
	for l, name := range levelNames {
		if name == s {
			return LogLevel(l)
		}
	}
	return LevelInfo
}

// Logger abstracts logging with translatable messages. msg is a lexicon
// key and args are its format arguments.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})

	// WithComponent returns a Logger that prefixes messages with the
	// component name, e.g. "mp4source" or "ffmpegdecoder".
	WithComponent(component string) Logger
}
