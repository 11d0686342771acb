package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fcs7/translate-php-tool/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Google Free is the primary backend: the public gtx endpoint needs no
// credentials. Batches fan out as parallel single requests, bounded to 10
// in flight with a 15s overall budget.
const (
	googleTranslateURL   = "https://translate.googleapis.com/translate_a/single"
	googleRequestTimeout = 8 * time.Second
	googleBatchTimeout   = 15 * time.Second
	googleBatchInFlight  = 10
)

// GoogleFree translates via the free Google Translate gtx endpoint.
type GoogleFree struct {
	*State
	client     *http.Client
	baseURL    string
	sourceLang string
	targetLang string
}

// NewGoogleFree creates the provider with the given RPM cap.
func NewGoogleFree(maxRPM int) *GoogleFree {
	return &GoogleFree{
		State:      NewState("google_free", maxRPM),
		client:     &http.Client{Timeout: googleRequestTimeout},
		baseURL:    googleTranslateURL,
		sourceLang: "en",
		targetLang: "pt",
	}
}

// SetBaseURL overrides the endpoint (tests).
func (g *GoogleFree) SetBaseURL(u string) { g.baseURL = u }

// IsAvailable is always true — the endpoint needs no key.
func (g *GoogleFree) IsAvailable() bool { return true }

// Status derives availability from the cooldown state.
func (g *GoogleFree) Status() domain.ProviderStatus { return g.statusWith(g.IsAvailable()) }

// Stats returns the counters snapshot.
func (g *GoogleFree) Stats() domain.ProviderStats { return g.statsWith(g.IsAvailable()) }

// Translate performs one gtx request. The response is a nested JSON array
// whose first element holds [translated, original, ...] segments.
func (g *GoogleFree) Translate(ctx context.Context, text string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return text, true
	}

	q := url.Values{
		"client": {"gtx"},
		"sl":     {g.sourceLang},
		"tl":     {g.targetLang},
		"dt":     {"t"},
		"q":      {text},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		g.RecordFailure(err.Error(), false)
		return "", false
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := g.client.Do(req)
	if err != nil {
		g.RecordFailure(err.Error(), isRateLimitMessage(err.Error()))
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		g.RecordFailure(msg, resp.StatusCode == http.StatusTooManyRequests)
		return "", false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		g.RecordFailure(err.Error(), false)
		return "", false
	}

	translated, err := parseGtxResponse(body)
	if err != nil {
		g.RecordFailure(err.Error(), false)
		return "", false
	}
	if translated == "" || noopTranslation(text, translated) {
		g.RecordFailure("translation identical to input", false)
		return "", false
	}

	g.RecordSuccess()
	return strings.TrimSpace(translated), true
}

// TranslateBatch fans out parallel single requests, at most 10 in flight,
// under a 15s budget. Elements that miss the budget stay failed.
func (g *GoogleFree) TranslateBatch(ctx context.Context, texts []string) ([]string, []bool) {
	results := make([]string, len(texts))
	ok := make([]bool, len(texts))
	if len(texts) == 0 {
		return results, ok
	}

	ctx, cancel := context.WithTimeout(ctx, googleBatchTimeout)
	defer cancel()

	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(googleBatchInFlight)

	for i, text := range texts {
		i, text := i, text
		if strings.TrimSpace(text) == "" {
			results[i] = text
			ok[i] = true
			continue
		}
		grp.Go(func() error {
			results[i], ok[i] = g.Translate(ctx, text)
			return nil
		})
	}
	_ = grp.Wait()
	return results, ok
}

// parseGtxResponse extracts the translated segments from the gtx payload:
// [[["tradução","original",...],...],...].
func parseGtxResponse(body []byte) (string, error) {
	var payload []json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode gtx response: %w", err)
	}
	if len(payload) == 0 {
		return "", fmt.Errorf("empty gtx response")
	}

	var segments [][]json.RawMessage
	if err := json.Unmarshal(payload[0], &segments); err != nil {
		return "", fmt.Errorf("decode gtx segments: %w", err)
	}

	var b strings.Builder
	for _, seg := range segments {
		if len(seg) == 0 {
			continue
		}
		var part string
		if err := json.Unmarshal(seg[0], &part); err != nil {
			continue
		}
		b.WriteString(part)
	}
	return b.String(), nil
}
