package log

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog  zerolog.Logger
	diagFile *os.File
	logMu    sync.Mutex
	logReady bool
	pid      int
)

// Init configures the package-level logger. Output is "stderr", "stdout"
// or a file path; level is a zerolog level name ("debug", "info", ...).
func Init(output, level string) error {
	logMu.Lock()
	defer logMu.Unlock()

	pid = os.Getpid()

	var out *os.File
	switch output {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	default:
		f, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		diagFile = f
		out = f
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).Level(lvl).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func SessionStart(consultationID string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("consultation_id", consultationID).
		Msg("session_start")
}

func SessionEnd(consultationID string, finals int, dur time.Duration) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("consultation_id", consultationID).
		Int("final_segments", finals).
		Float64("duration_s", dur.Seconds()).
		Msg("session_end")
}

func ConnectionState(state string) {
	if logReady {
		diagLog.Info().Str("state", state).Msg("transport_state")
	}
}

func ReconnectScheduled(attempt int, delay time.Duration) {
	if !logReady {
		return
	}
	diagLog.Warn().
		Int("attempt", attempt).
		Float64("delay_s", delay.Seconds()).
		Msg("reconnect_scheduled")
}

func AnalysisDispatch(consultationID string, chars int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("consultation_id", consultationID).
		Int("chars", chars).
		Msg("analysis_dispatch")
}

func AnalysisResult(consultationID string, events int, dur time.Duration) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("consultation_id", consultationID).
		Int("events", events).
		Float64("total_ms", float64(dur.Milliseconds())).
		Msg("analysis_result")
}
