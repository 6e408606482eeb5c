package recommendation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vitalcare/clinic/internal/platform/llm"
	"github.com/vitalcare/clinic/internal/platform/respcache"
)

const (
	// ModelLocalRules is reported as the model when no engine was consulted.
	ModelLocalRules    = "reglas-locales"
	fallbackLocalRules = "reglas-locales"

	busyTTL    = 15 * time.Second
	timeoutTTL = 30 * time.Second

	keyPromptPrefix = 512
)

var (
	ErrPromptRequired = errors.New("prompt is required")
	ErrNoModel        = errors.New("engine is reachable but has no model loaded")
)

// UnavailableError means the engine could not be probed.
type UnavailableError struct {
	Engine string
	Err    error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unreachable: %v", e.Engine, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Request is one recommendation call.
type Request struct {
	Prompt string
	Mode   Mode
	Fast   bool
	// Force skips the local short-circuit, the cache lookup and the
	// local-rules override of an "all normal" engine verdict.
	Force bool
	Debug bool
}

// Payload is the response body of a recommendation.
type Payload struct {
	Recommendation  string  `json:"recomendacion"`
	ModelUsed       *string `json:"modelo_usado"`
	EngineAvailable bool    `json:"lm_studio_disponible"`
	Cached          *bool   `json:"cached,omitempty"`
	Busy            bool    `json:"busy,omitempty"`
	TimedOut        bool    `json:"timed_out,omitempty"`
	TimeoutMS       int64   `json:"timeout_ms,omitempty"`
	Fallback        string  `json:"fallback,omitempty"`
	Source          string  `json:"source,omitempty"`
	Debug           *Debug  `json:"_debug,omitempty"`
}

// Debug exposes what the local rules saw for this request.
type Debug struct {
	Stats         Stats         `json:"stats"`
	Abnormalities []Abnormality `json:"abns"`
}

// Config tunes the gateway.
type Config struct {
	Model         string
	Provider      string
	EngineVersion string
	ProbeTimeout  time.Duration
	TimeoutFast   time.Duration
	TimeoutSlow   time.Duration
	Fast          llm.Options
	Slow          llm.Options
}

func (c Config) timeout(fast bool) time.Duration {
	if fast {
		return c.TimeoutFast
	}
	return c.TimeoutSlow
}

func (c Config) options(fast bool) llm.Options {
	if fast {
		return c.Fast
	}
	return c.Slow
}

type Service struct {
	engine llm.Engine
	cache  *respcache.Cache[Payload]
	cfg    Config
	logger zerolog.Logger
}

func NewService(engine llm.Engine, cache *respcache.Cache[Payload], cfg Config, logger zerolog.Logger) *Service {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 30 * time.Second
	}
	if cfg.TimeoutFast <= 0 {
		cfg.TimeoutFast = 30 * time.Second
	}
	if cfg.TimeoutSlow <= 0 {
		cfg.TimeoutSlow = 45 * time.Second
	}
	if cfg.Provider == "" {
		cfg.Provider = "ollama"
	}
	return &Service{engine: engine, cache: cache, cfg: cfg, logger: logger}
}

// EngineName is the display name of the configured engine.
func (s *Service) EngineName() string { return s.engine.Name() }

// CacheKey is engineVersion|mode|f-or-s|prompt prefix. Prompts that share
// their first 512 characters share an entry.
func (s *Service) CacheKey(prompt string, mode Mode, fast bool) string {
	speed := "s"
	if fast {
		speed = "f"
	}
	if r := []rune(prompt); len(r) > keyPromptPrefix {
		prompt = string(r[:keyPromptPrefix])
	}
	return s.cfg.EngineVersion + "|" + string(mode) + "|" + speed + "|" + prompt
}

// keyHash identifies a key in logs without leaking the prompt.
func keyHash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:6])
}

func boolPtr(b bool) *bool { return &b }

// Recommend evaluates the prompt locally and consults the engine only when
// something is out of range or the caller forces it.
func (s *Service) Recommend(ctx context.Context, req Request) (Payload, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Payload{}, ErrPromptRequired
	}
	mode := ParseMode(string(req.Mode))
	key := s.CacheKey(req.Prompt, mode, req.Fast)
	stats := ExtractStats(req.Prompt)
	abns := Evaluate(stats)
	rangeLabel := ExtractRangeLabel(req.Prompt)

	if !req.Force && len(abns) == 0 {
		model := ModelLocalRules
		p := Payload{
			Recommendation:  Render(mode, Stable{RangeLabel: rangeLabel}),
			ModelUsed:       &model,
			EngineAvailable: true,
			Cached:          boolPtr(false),
		}
		s.cache.Set(key, p, 0)
		return withDebug(p, req, stats, abns), nil
	}

	if !req.Force {
		if p, ok := s.cache.Get(key); ok {
			p.Cached = boolPtr(true)
			return withDebug(p, req, stats, abns), nil
		}
	}

	model, err := s.probe(ctx)
	if err != nil {
		return Payload{}, &UnavailableError{Engine: s.engine.Name(), Err: err}
	}
	if model == "" {
		return Payload{}, ErrNoModel
	}

	log := s.logger.With().
		Str("key", keyHash(key)).
		Str("mode", string(mode)).
		Bool("fast", req.Fast).
		Logger()

	rc := replyContext{mode: mode, local: abns, rangeLabel: rangeLabel, force: req.Force, provider: s.cfg.Provider}
	load := func(ctx context.Context) (Payload, time.Duration, error) {
		return s.generate(ctx, req, model, rc, log)
	}
	busy := func() (Payload, time.Duration) {
		log.Warn().Msg("engine at capacity, serving busy recommendation")
		return Payload{
			Recommendation:  Render(mode, Busy{}),
			EngineAvailable: true,
			Busy:            true,
		}, busyTTL
	}

	p, outcome, err := s.cache.Do(ctx, key, req.Force, load, busy)
	if err != nil {
		return Payload{}, fmt.Errorf("query %s: %w", s.engine.Name(), err)
	}
	if outcome == respcache.Hit {
		p.Cached = boolPtr(true)
	}
	return withDebug(p, req, stats, abns), nil
}

// generate runs one engine call under the request deadline. A missed
// deadline becomes the timeout recommendation; other failures are errors.
func (s *Service) generate(ctx context.Context, req Request, model string, rc replyContext, log zerolog.Logger) (Payload, time.Duration, error) {
	timeout := s.cfg.timeout(req.Fast)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := s.engine.Generate(ctx, llm.GenerateRequest{
		Model:   model,
		System:  systemInstruction(req.Fast),
		Prompt:  userPrompt(rc.mode, req.Prompt),
		JSON:    true,
		Options: s.cfg.options(req.Fast),
	})
	switch {
	case err == nil:
	case errors.Is(err, llm.ErrEmptyReply):
		raw = ""
	case llm.IsTimeout(err):
		log.Warn().Dur("timeout", timeout).Msg("engine deadline exceeded")
		return Payload{
			Recommendation:  Render(rc.mode, Timeout{}),
			EngineAvailable: true,
			TimedOut:        true,
			TimeoutMS:       timeout.Milliseconds(),
		}, timeoutTTL, nil
	default:
		log.Error().Err(err).Msg("engine generation failed")
		return Payload{}, 0, err
	}

	r := interpret(raw, rc)
	return Payload{
		Recommendation:  r.text,
		ModelUsed:       &model,
		EngineAvailable: true,
		Fallback:        r.fallback,
		Source:          r.source,
	}, 0, nil
}

func withDebug(p Payload, req Request, stats Stats, abns []Abnormality) Payload {
	if !req.Debug {
		return p
	}
	if abns == nil {
		abns = []Abnormality{}
	}
	p.Debug = &Debug{Stats: stats, Abnormalities: abns}
	return p
}

func (s *Service) probe(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()
	models, err := s.engine.Models(ctx)
	if err != nil {
		return "", err
	}
	return llm.ResolveModel(models, s.cfg.Model), nil
}

// EngineStatus is the result of a liveness probe.
type EngineStatus struct {
	Available bool
	Model     string
	Message   string
	Err       error
}

// Status probes the engine and resolves the model that would be used.
func (s *Service) Status(ctx context.Context) EngineStatus {
	name := s.engine.Name()
	model, err := s.probe(ctx)
	if err != nil {
		return EngineStatus{Message: "Error al conectar con " + name, Err: err}
	}
	if model == "" {
		return EngineStatus{Available: true, Message: name + " activo sin modelo cargado"}
	}
	return EngineStatus{Available: true, Model: model, Message: name + " conectado correctamente"}
}

// Check adapts Status to a health probe.
func (s *Service) Check(ctx context.Context) error {
	st := s.Status(ctx)
	if !st.Available {
		return st.Err
	}
	if st.Model == "" {
		return ErrNoModel
	}
	return nil
}
