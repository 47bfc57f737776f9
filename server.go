package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"gregoryjjb/vgpio/dispatch"
	"gregoryjjb/vgpio/playback"
	"gregoryjjb/vgpio/regmap"
	"gregoryjjb/vgpio/signals"
)

/////////////////////
// Response helpers

func RespondInternalServiceError(w http.ResponseWriter, err error) {
	w.WriteHeader(http.StatusInternalServerError)
	w.Write([]byte(err.Error()))
}

func RespondNotFoundError(w http.ResponseWriter, body string) {
	w.WriteHeader(http.StatusNotFound)
	if body == "" {
		body = "Not found"
	}
	RespondText(w, body)
}

func RespondBadRequest(w http.ResponseWriter, message string) {
	w.WriteHeader(http.StatusBadRequest)
	RespondText(w, message)
}

func RespondText(w http.ResponseWriter, body string) {
	w.Write([]byte(body))
}

func RespondJSON(w http.ResponseWriter, body any) {
	w.Header().Add("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		RespondInternalServiceError(w, err)
	}
}

// RespondError maps dispatcher errors onto status codes
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, signals.ErrUnknownSignal):
		RespondNotFoundError(w, err.Error())
	case errors.Is(err, dispatch.ErrValidation),
		errors.Is(err, dispatch.ErrUnknownCommand),
		errors.Is(err, regmap.ErrPinRange),
		errors.Is(err, playback.ErrInvalidDelay):
		RespondBadRequest(w, err.Error())
	default:
		RespondInternalServiceError(w, err)
	}
}

type PinState struct {
	Pin   int  `json:"pin"`
	Value bool `json:"value"`
}

func pinParam(r *http.Request) (int, error) {
	pin, err := strconv.Atoi(chi.URLParam(r, "pin"))
	if err != nil {
		return 0, fmt.Errorf("%w: pin must be a number", dispatch.ErrValidation)
	}
	return pin, regmap.CheckPin(pin)
}

const maxCommandBytes = 4096

func NewRouter(d *dispatch.Dispatcher) http.Handler {
	r := chi.NewRouter()
	r.Use(LoggerMiddleware(&log.Logger))

	r.Route("/api", func(r chi.Router) {
		// POST one console command line
		r.Post("/command", func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes))
			if err != nil {
				RespondInternalServiceError(w, err)
				return
			}

			reply, err := d.ExecuteRemote(string(body))
			if err != nil {
				RespondError(w, err)
				return
			}
			RespondText(w, reply)
		})

		r.Get("/pins/{pin}", func(w http.ResponseWriter, r *http.Request) {
			pin, err := pinParam(r)
			if err != nil {
				RespondError(w, err)
				return
			}

			value, err := d.GPIO().Get(pin)
			if err != nil {
				RespondError(w, err)
				return
			}
			RespondJSON(w, PinState{Pin: pin, Value: value})
		})

		r.Put("/pins/{pin}/{value}", func(w http.ResponseWriter, r *http.Request) {
			pin, err := pinParam(r)
			if err != nil {
				RespondError(w, err)
				return
			}
			value, err := strconv.ParseBool(chi.URLParam(r, "value"))
			if err != nil {
				RespondBadRequest(w, "value must be 0 or 1")
				return
			}

			if _, err := d.GPIO().Set(pin, value); err != nil {
				RespondError(w, err)
				return
			}
			RespondJSON(w, PinState{Pin: pin, Value: value})
		})

		r.Get("/signals", func(w http.ResponseWriter, r *http.Request) {
			RespondJSON(w, d.Library().Names())
		})

		r.Post("/signals/{name}/play", func(w http.ResponseWriter, r *http.Request) {
			var delay time.Duration
			if raw := r.URL.Query().Get("delay"); raw != "" {
				seconds, err := strconv.ParseFloat(raw, 64)
				if err != nil {
					RespondBadRequest(w, "delay must be a number")
					return
				}
				if delay, err = playback.ParseDelay(seconds); err != nil {
					RespondError(w, err)
					return
				}
			}

			if err := d.Play(chi.URLParam(r, "name"), delay); err != nil {
				RespondError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		r.Post("/stop", func(w http.ResponseWriter, r *http.Request) {
			d.Engine().Stop()
			w.WriteHeader(http.StatusNoContent)
		})

		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			RespondJSON(w, d.Engine().Status())
		})

		r.Get("/history", func(w http.ResponseWriter, r *http.Request) {
			n, _ := strconv.Atoi(r.URL.Query().Get("n"))
			RespondJSON(w, d.History(n))
		})

		r.Get("/events", createWebsocketHandler(d.Engine()))
	})

	return r
}

// StartServer serves the HTTP API until ctx is cancelled.
func StartServer(ctx context.Context, address string, d *dispatch.Dispatcher) error {
	server := &http.Server{
		Addr:              address,
		Handler:           NewRouter(d),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("listen", address).Msg("launching server")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
