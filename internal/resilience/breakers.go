package resilience

import "time"

// Breakers bundles one circuit breaker per upstream provider dependency the
// tutoring server calls out to. Wrapping every LLM, STT, and TTS call
// through its matching breaker means a string of upstream failures trips
// that single provider's breaker rather than letting every subsequent turn
// queue up retries against a provider that is already down.
type Breakers struct {
	LLM *CircuitBreaker
	STT *CircuitBreaker
	TTS *CircuitBreaker
}

// NewBreakers constructs a [Breakers] with tuning suited to interactive,
// per-turn voice latency: a short reset timeout so a transient upstream
// blip does not keep tripping the breaker for a full session.
func NewBreakers() *Breakers {
	cfg := CircuitBreakerConfig{
		MaxFailures:  3,
		ResetTimeout: 15 * time.Second,
		HalfOpenMax:  1,
	}
	llmCfg, sttCfg, ttsCfg := cfg, cfg, cfg
	llmCfg.Name = "llm"
	sttCfg.Name = "stt"
	ttsCfg.Name = "tts"
	return &Breakers{
		LLM: NewCircuitBreaker(llmCfg),
		STT: NewCircuitBreaker(sttCfg),
		TTS: NewCircuitBreaker(ttsCfg),
	}
}
