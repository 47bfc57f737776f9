package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/mattn/go-colorable"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	colorRed     = 31
	colorGreen   = 32
	colorYellow  = 33
	colorMagenta = 35
	colorBold    = 1
)

// paint wraps s in one escape sequence per color, innermost first
func paint(s string, noColor bool, colors ...int) string {
	if noColor {
		return s
	}
	for _, c := range colors {
		s = fmt.Sprintf("\x1b[%dm%s\x1b[0m", c, s)
	}
	return s
}

type levelStyle struct {
	label  string
	colors []int
}

var levelStyles = map[string]levelStyle{
	zerolog.LevelTraceValue: {"TRACE", []int{colorMagenta}},
	zerolog.LevelDebugValue: {"DEBUG", []int{colorYellow}},
	zerolog.LevelInfoValue:  {"INFO ", []int{colorGreen}},
	zerolog.LevelWarnValue:  {"WARN ", []int{colorRed}},
	zerolog.LevelErrorValue: {"ERROR", []int{colorRed, colorBold}},
	zerolog.LevelFatalValue: {"FATAL", []int{colorRed, colorBold}},
	zerolog.LevelPanicValue: {"PANIC", []int{colorRed, colorBold}},
}

func formatLevel(noColor bool) zerolog.Formatter {
	return func(i interface{}) string {
		var l string
		switch v := i.(type) {
		case nil:
			l = paint("???  ", noColor, colorBold)
		case string:
			if style, ok := levelStyles[v]; ok {
				l = paint(style.label, noColor, style.colors...)
			} else {
				l = paint(v, noColor, colorBold)
			}
		default:
			l = strings.ToUpper(fmt.Sprintf("%-5s", v))[0:5]
		}
		return fmt.Sprintf("| %s |", l)
	}
}

// lockedWriter serializes writes so console replies and log lines never
// interleave mid-line.
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (lw lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

// Stdout is shared by console replies and log lines
var Stdout io.Writer = lockedWriter{mu: &sync.Mutex{}, w: colorable.NewColorable(os.Stdout)}

func InitializeLogger() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(consoleWriter())
}

func consoleWriter() zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:         Stdout,
		TimeFormat:  time.RFC3339,
		FormatLevel: formatLevel(false),
	}
}

// ConfigureLogger applies the configured level and, when a log file is
// set, tees JSON logs into a rotating file.
func ConfigureLogger(config *Config) {
	zerolog.SetGlobalLevel(config.LogLevel())

	if config.LogFile() == "" {
		return
	}

	file := &lumberjack.Logger{
		Filename:   config.LogFile(),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	log.Logger = log.Output(zerolog.MultiLevelWriter(consoleWriter(), file))
	log.Info().Str("file", config.LogFile()).Msg("Logging to file")
}

// LoggerMiddleware logs every API request, recovering from handler panics
func LoggerMiddleware(logger *zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			log := logger.With().Logger()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			t1 := time.Now()
			defer func() {
				t2 := time.Now()

				// Recover and record stack traces in case of a panic
				if rec := recover(); rec != nil {
					log.Error().
						Interface("recover_info", rec).
						Bytes("debug_stack", debug.Stack()).
						Msg("HTTP endpoint panic")

					http.Error(ww, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}

				// log end request
				log.Info().
					Str("type", "access").
					Timestamp().
					Fields(map[string]interface{}{
						"remote_ip":  r.RemoteAddr,
						"url":        r.URL.Path,
						"proto":      r.Proto,
						"method":     r.Method,
						"user_agent": r.Header.Get("User-Agent"),
						"status":     ww.Status(),
						"latency_ms": float64(t2.Sub(t1).Nanoseconds()) / 1000000.0,
						"bytes_in":   r.Header.Get("Content-Length"),
						"bytes_out":  ww.BytesWritten(),
					}).
					Msg("HTTP request")
			}()

			next.ServeHTTP(ww, r)
		}
		return http.HandlerFunc(fn)
	}
}
