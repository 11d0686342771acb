// Package engine chains the translation cache and the provider fallback
// order into one facade. Every text goes cache → google → deepl → mymemory
// → shell; whatever nothing could translate keeps its original form, so the
// caller never sees a hole in a batch.
package engine

import (
	"context"
	"log/slog"
	"strings"

	"github.com/fcs7/translate-php-tool/internal/cache"
	"github.com/fcs7/translate-php-tool/internal/domain"
	"github.com/fcs7/translate-php-tool/internal/provider"
)

// SourceCache marks results satisfied from the cache; SourceNone marks texts
// every provider failed on.
const (
	SourceCache = "cache"
	SourceNone  = "none"
)

// Engine is the translation facade used by the job workers. Safe for
// concurrent use; all mutable state lives in the cache and the providers.
type Engine struct {
	cache     *cache.Cache
	providers []provider.Translator
	log       *slog.Logger
}

// New builds the engine with the given provider fallback order.
func New(c *cache.Cache, providers []provider.Translator, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{cache: c, providers: providers, log: log}
}

// Translate resolves one text. The returned source names the cache or the
// provider that produced the translation; ok=false means every backend
// failed and result is the original text.
func (e *Engine) Translate(ctx context.Context, text string) (result, source string, ok bool) {
	if strings.TrimSpace(text) == "" {
		return text, SourceCache, true
	}
	if cached, level := e.cache.Lookup(ctx, text); level != cache.LevelMiss {
		return cached, SourceCache, true
	}

	for _, p := range e.providers {
		if !p.IsAvailable() || !p.PrecheckRate() {
			continue
		}
		if translated, succeeded := p.Translate(ctx, text); succeeded {
			e.cache.Store(ctx, text, translated, true)
			return translated, p.Name(), true
		}
		if ctx.Err() != nil {
			break
		}
	}
	return text, SourceNone, false
}

// TranslateBatch resolves texts positionally. Cache hits are taken first;
// the remainder walks the provider chain, each provider receiving only the
// texts its predecessors could not handle. Final leftovers keep their
// original form with ok=false.
func (e *Engine) TranslateBatch(ctx context.Context, texts []string) ([]string, []bool) {
	results := make([]string, len(texts))
	ok := make([]bool, len(texts))

	pending := make([]int, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = text
			ok[i] = true
			continue
		}
		if cached, level := e.cache.Lookup(ctx, text); level != cache.LevelMiss {
			results[i] = cached
			ok[i] = true
			continue
		}
		pending = append(pending, i)
	}

	for _, p := range e.providers {
		if len(pending) == 0 || ctx.Err() != nil {
			break
		}
		if !p.IsAvailable() || !p.PrecheckRate() {
			continue
		}

		subset := make([]string, len(pending))
		for j, idx := range pending {
			subset[j] = texts[idx]
		}

		subResults, subOK := p.TranslateBatch(ctx, subset)

		next := pending[:0:0]
		for j, idx := range pending {
			if j < len(subOK) && subOK[j] {
				results[idx] = subResults[j]
				ok[idx] = true
				e.cache.Store(ctx, texts[idx], subResults[j], true)
			} else {
				next = append(next, idx)
			}
		}
		pending = next
	}

	for _, idx := range pending {
		results[idx] = texts[idx]
	}
	return results, ok
}

// WarmUp preloads the cache from its durable store.
func (e *Engine) WarmUp(ctx context.Context) {
	if n := e.cache.WarmUp(ctx); n > 0 {
		e.log.Info("translation cache warmed", "entries", n)
	}
}

// ActiveProvider names the first provider that is currently available, or
// "none" when all are disabled or cooling down.
func (e *Engine) ActiveProvider() string {
	for _, p := range e.providers {
		if p.Status() == domain.ProviderAvailable {
			return p.Name()
		}
	}
	return SourceNone
}

// Stats snapshots the cache and every provider.
func (e *Engine) Stats() domain.EngineStats {
	providers := make(map[string]domain.ProviderStats, len(e.providers))
	for _, p := range e.providers {
		providers[p.Name()] = p.Stats()
	}
	return domain.EngineStats{
		Cache:          e.cache.Stats(),
		Providers:      providers,
		ActiveProvider: e.ActiveProvider(),
	}
}
