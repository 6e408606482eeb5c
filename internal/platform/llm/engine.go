// Package llm talks to the text-generation servers behind the recommendation
// gateway: a native Ollama endpoint or any OpenAI-compatible server.
package llm

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrEmptyReply is returned when the engine answers without any choice.
var ErrEmptyReply = errors.New("engine returned no output")

// Options are the sampling knobs forwarded to the engine. Zero values are
// left to the engine's own defaults.
type Options struct {
	NumPredict    int
	Temperature   float64
	NumCtx        int
	TopP          float64
	TopK          int
	RepeatPenalty float64
	NumThread     int
}

// GenerateRequest is one non-streaming completion.
type GenerateRequest struct {
	Model   string
	System  string
	Prompt  string
	JSON    bool
	Options Options
}

// Engine is a text-generation backend.
type Engine interface {
	// Name is the human-readable backend name used in status messages.
	Name() string
	// Models lists the model names the engine can serve.
	Models(ctx context.Context) ([]string, error)
	// Generate runs one completion and returns the raw text.
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// ResolveModel picks preferred when it is served, otherwise the first model.
// It returns "" when nothing is loaded.
func ResolveModel(models []string, preferred string) string {
	for _, m := range models {
		if m == preferred {
			return m
		}
	}
	if len(models) > 0 {
		return models[0]
	}
	return ""
}

// IsTimeout reports whether err is a deadline or transport timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "clinic",
	Subsystem: "llm",
	Name:      "request_duration_seconds",
	Help:      "Latency of calls to the text-generation engine.",
	Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 45, 60},
}, []string{"engine", "op", "outcome"})

func observe(engine, op string, start time.Time, err error) {
	outcome := "ok"
	switch {
	case IsTimeout(err):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	requestDuration.WithLabelValues(engine, op, outcome).Observe(time.Since(start).Seconds())
}
