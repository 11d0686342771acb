package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fcs7/translate-php-tool/internal/domain"
)

// fakeClock drives State.now in tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestState(maxRPM int) (*State, *fakeClock) {
	clock := newFakeClock()
	st := NewState("test", maxRPM)
	st.now = clock.Now
	st.windowStart = clock.Now()
	return st, clock
}

func TestState_RecordFailure_CooldownDoubles(t *testing.T) {
	st, clock := newTestState(50)

	// 30s * 2^min(k,4): 60s, 120s, 240s, 480s, then capped at 480s.
	want := []time.Duration{
		60 * time.Second,
		120 * time.Second,
		240 * time.Second,
		480 * time.Second,
		480 * time.Second,
	}
	for i, d := range want {
		st.RecordFailure("429", true)
		assert.Equal(t, clock.Now().Add(d), st.CooldownUntil(), "offense %d", i+1)
	}
}

func TestState_PrecheckRate_BlockedDuringCooldown(t *testing.T) {
	st, clock := newTestState(50)

	st.RecordFailure("429", true)
	assert.False(t, st.PrecheckRate())
	assert.True(t, st.InCooldown())

	clock.Advance(61 * time.Second)
	assert.True(t, st.PrecheckRate())
	assert.False(t, st.InCooldown())
}

func TestState_PrecheckRate_WindowCapAndReset(t *testing.T) {
	st, clock := newTestState(3)

	for i := 0; i < 3; i++ {
		require.True(t, st.PrecheckRate())
		st.RecordSuccess()
	}
	assert.False(t, st.PrecheckRate(), "cap reached")

	clock.Advance(61 * time.Second)
	assert.True(t, st.PrecheckRate(), "window reset after a minute")
}

func TestState_RecordFailure_NonRateLimitHasNoCooldown(t *testing.T) {
	st, _ := newTestState(50)

	st.RecordFailure("connection refused", false)
	assert.False(t, st.InCooldown())
	assert.True(t, st.CooldownUntil().IsZero())
	assert.Equal(t, "connection refused", st.LastError())
}

func TestState_Stats(t *testing.T) {
	st, _ := newTestState(50)

	st.RecordSuccess()
	st.RecordSuccess()
	st.RecordSuccess()
	st.RecordFailure("boom", false)

	stats := st.statsWith(true)
	assert.Equal(t, domain.ProviderAvailable, stats.Status)
	assert.Equal(t, int64(4), stats.TotalRequests)
	assert.Equal(t, int64(3), stats.Successful)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, "75.0%", stats.SuccessRate)
}

func TestState_Stats_ZeroRequests(t *testing.T) {
	st, _ := newTestState(50)
	stats := st.statsWith(true)
	assert.Equal(t, int64(0), stats.TotalRequests)
	assert.Equal(t, "0.0%", stats.SuccessRate)
}

func TestNoopTranslation(t *testing.T) {
	assert.True(t, noopTranslation("Hello", "hello"))
	assert.True(t, noopTranslation("  Hello ", "HELLO"))
	assert.False(t, noopTranslation("Hello", "Olá"))
}

func TestGoogleFree_Translate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gtx", r.URL.Query().Get("client"))
		assert.Equal(t, "en", r.URL.Query().Get("sl"))
		assert.Equal(t, "pt", r.URL.Query().Get("tl"))
		assert.Equal(t, "Save changes", r.URL.Query().Get("q"))
		fmt.Fprint(w, `[[["Salvar alterações","Save changes",null,null,1]],null,"en"]`)
	}))
	defer srv.Close()

	g := NewGoogleFree(50)
	g.SetBaseURL(srv.URL)

	out, ok := g.Translate(context.Background(), "Save changes")
	require.True(t, ok)
	assert.Equal(t, "Salvar alterações", out)
	assert.Equal(t, domain.ProviderAvailable, g.Status())
}

func TestGoogleFree_Translate_MultiSegment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[[["Primeira parte. ","First part. "],["Segunda parte.","Second part."]],null,"en"]`)
	}))
	defer srv.Close()

	g := NewGoogleFree(50)
	g.SetBaseURL(srv.URL)

	out, ok := g.Translate(context.Background(), "First part. Second part.")
	require.True(t, ok)
	assert.Equal(t, "Primeira parte. Segunda parte.", out)
}

func TestGoogleFree_Translate_429EntersCooldown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := NewGoogleFree(50)
	g.SetBaseURL(srv.URL)

	_, ok := g.Translate(context.Background(), "Save changes")
	assert.False(t, ok)
	assert.True(t, g.InCooldown())
	assert.Equal(t, domain.ProviderRateLimited, g.Status())
}

func TestGoogleFree_Translate_IdentityIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[[["Save changes","Save changes"]],null,"en"]`)
	}))
	defer srv.Close()

	g := NewGoogleFree(50)
	g.SetBaseURL(srv.URL)

	_, ok := g.Translate(context.Background(), "Save changes")
	assert.False(t, ok)
	assert.False(t, g.InCooldown(), "identity output is a plain failure, not throttling")
}

func TestGoogleFree_TranslateBatch_Positional(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		fmt.Fprintf(w, `[[["tr:%s","%s"]],null,"en"]`, q, q)
	}))
	defer srv.Close()

	g := NewGoogleFree(50)
	g.SetBaseURL(srv.URL)

	texts := []string{"alpha", "", "gamma"}
	results, ok := g.TranslateBatch(context.Background(), texts)
	require.Len(t, results, 3)
	assert.Equal(t, "tr:alpha", results[0])
	assert.True(t, ok[0])
	assert.Equal(t, "", results[1])
	assert.True(t, ok[1], "empty input passes through")
	assert.Equal(t, "tr:gamma", results[2])
	assert.True(t, ok[2])
}

func TestDeepL_DisabledWithoutKey(t *testing.T) {
	d := NewDeepL("", 30)
	assert.False(t, d.IsAvailable())
	assert.Equal(t, domain.ProviderDisabled, d.Status())

	_, ok := d.Translate(context.Background(), "Save changes")
	assert.False(t, ok)
}

func TestDeepL_TranslateBatch_RepeatedTextFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "secret-key", r.PostForm.Get("auth_key"))
		assert.Equal(t, "EN", r.PostForm.Get("source_lang"))
		assert.Equal(t, "PT-BR", r.PostForm.Get("target_lang"))
		require.Equal(t, []string{"alpha", "beta"}, r.PostForm["text"])
		fmt.Fprint(w, `{"translations":[{"text":"alfa"},{"text":"beta-br"}]}`)
	}))
	defer srv.Close()

	d := NewDeepL("secret-key", 30)
	d.SetBaseURL(srv.URL)

	results, ok := d.TranslateBatch(context.Background(), []string{"alpha", "beta"})
	require.Len(t, results, 2)
	assert.Equal(t, "alfa", results[0])
	assert.True(t, ok[0])
	assert.Equal(t, "beta-br", results[1])
	assert.True(t, ok[1])
}

func TestDeepL_QuotaExhausted456EntersCooldown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(456)
	}))
	defer srv.Close()

	d := NewDeepL("secret-key", 30)
	d.SetBaseURL(srv.URL)

	_, ok := d.Translate(context.Background(), "Save changes")
	assert.False(t, ok)
	assert.True(t, d.InCooldown())
}

func TestMyMemory_Translate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Save changes", r.URL.Query().Get("q"))
		assert.Equal(t, "en|pt-br", r.URL.Query().Get("langpair"))
		assert.Equal(t, "ops@example.com", r.URL.Query().Get("de"))
		fmt.Fprint(w, `{"responseData":{"translatedText":"Salvar alterações"},"responseStatus":200}`)
	}))
	defer srv.Close()

	m := NewMyMemory("ops@example.com", 30)
	m.SetBaseURL(srv.URL)

	out, ok := m.Translate(context.Background(), "Save changes")
	require.True(t, ok)
	assert.Equal(t, "Salvar alterações", out)
}

func TestMyMemory_ResponseStatus429EntersCooldown(t *testing.T) {
	// MyMemory reports throttling inside a 200 body.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"responseData":{"translatedText":"MYMEMORY WARNING"},"responseStatus":"429"}`)
	}))
	defer srv.Close()

	m := NewMyMemory("", 30)
	m.SetBaseURL(srv.URL)

	_, ok := m.Translate(context.Background(), "Save changes")
	assert.False(t, ok)
	assert.True(t, m.InCooldown())
}

func TestMyMemory_TranslateBatch_StopsOnFirstFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprintf(w, `{"responseData":{"translatedText":"tr:%s"},"responseStatus":200}`,
			r.URL.Query().Get("q"))
	}))
	defer srv.Close()

	m := NewMyMemory("", 30)
	m.SetBaseURL(srv.URL)

	results, ok := m.TranslateBatch(context.Background(), []string{"a", "b", "c"})
	assert.True(t, ok[0])
	assert.Equal(t, "tr:a", results[0])
	assert.False(t, ok[1])
	assert.False(t, ok[2], "untouched after the first failure")
	assert.Equal(t, 2, calls)
}

func TestShell_UnavailableWithoutBinary(t *testing.T) {
	s := NewShell(20)
	s.SetBinary("definitely-not-installed-binary-xyz")
	assert.False(t, s.IsAvailable())
	assert.Equal(t, domain.ProviderDisabled, s.Status())
}
