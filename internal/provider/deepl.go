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
)

// DeepL Free is the key-gated premium backend (500k chars/month on a free
// key). Its batch protocol is a single form POST carrying repeated text
// fields; the response aligns translations positionally.
const (
	deeplAPIURL         = "https://api-free.deepl.com/v2/translate"
	deeplRequestTimeout = 15 * time.Second
	deeplBatchTimeout   = 30 * time.Second
)

// DeepL translates via the DeepL Free REST API.
type DeepL struct {
	*State
	client     *http.Client
	batch      *http.Client
	baseURL    string
	apiKey     string
	sourceLang string
	targetLang string
}

// NewDeepL creates the provider. An empty apiKey leaves it disabled.
func NewDeepL(apiKey string, maxRPM int) *DeepL {
	return &DeepL{
		State:      NewState("deepl_free", maxRPM),
		client:     &http.Client{Timeout: deeplRequestTimeout},
		batch:      &http.Client{Timeout: deeplBatchTimeout},
		baseURL:    deeplAPIURL,
		apiKey:     apiKey,
		sourceLang: "EN",
		targetLang: "PT-BR",
	}
}

// SetBaseURL overrides the endpoint (tests).
func (d *DeepL) SetBaseURL(u string) { d.baseURL = u }

// IsAvailable requires an API key.
func (d *DeepL) IsAvailable() bool { return d.apiKey != "" }

// Status derives availability from the key and the cooldown state.
func (d *DeepL) Status() domain.ProviderStatus { return d.statusWith(d.IsAvailable()) }

// Stats returns the counters snapshot.
func (d *DeepL) Stats() domain.ProviderStats { return d.statsWith(d.IsAvailable()) }

// deeplResponse is the REST payload shape.
type deeplResponse struct {
	Translations []struct {
		Text string `json:"text"`
	} `json:"translations"`
}

// Translate posts a single text.
func (d *DeepL) Translate(ctx context.Context, text string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return text, true
	}
	if d.apiKey == "" {
		return "", false
	}

	out, err := d.post(ctx, d.client, []string{text})
	if err != nil {
		d.recordError(err)
		return "", false
	}
	if len(out.Translations) == 0 {
		d.RecordFailure("empty response", false)
		return "", false
	}

	translated := strings.TrimSpace(out.Translations[0].Text)
	if translated == "" || noopTranslation(text, translated) {
		d.RecordFailure("translation identical to input", false)
		return "", false
	}

	d.RecordSuccess()
	return translated, true
}

// TranslateBatch sends all texts as repeated text fields in one POST.
// Identity translations come back as failed elements so the chain can pass
// them to the next provider.
func (d *DeepL) TranslateBatch(ctx context.Context, texts []string) ([]string, []bool) {
	results := make([]string, len(texts))
	ok := make([]bool, len(texts))
	if len(texts) == 0 || d.apiKey == "" {
		return results, ok
	}

	pending := make([]string, 0, len(texts))
	indexes := make([]int, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = text
			ok[i] = true
			continue
		}
		pending = append(pending, text)
		indexes = append(indexes, i)
	}
	if len(pending) == 0 {
		return results, ok
	}

	out, err := d.post(ctx, d.batch, pending)
	if err != nil {
		d.recordError(err)
		return results, ok
	}

	accepted := 0
	for j, idx := range indexes {
		if j >= len(out.Translations) {
			break
		}
		translated := strings.TrimSpace(out.Translations[j].Text)
		if translated == "" || noopTranslation(pending[j], translated) {
			continue
		}
		results[idx] = translated
		ok[idx] = true
		accepted++
	}

	if accepted > 0 {
		d.RecordSuccess()
	} else {
		d.RecordFailure("batch returned only identity translations", false)
	}
	return results, ok
}

// post sends the form request shared by single and batch paths.
func (d *DeepL) post(ctx context.Context, client *http.Client, texts []string) (*deeplResponse, error) {
	form := url.Values{
		"auth_key":    {d.apiKey},
		"source_lang": {d.sourceLang},
		"target_lang": {d.targetLang},
	}
	for _, t := range texts {
		form.Add("text", t)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	var out deeplResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// recordError classifies DeepL errors: 429 (throttle) and 456 (quota
// exhausted) both advance the cooldown.
func (d *DeepL) recordError(err error) {
	msg := err.Error()
	isRate := strings.Contains(msg, "429") || strings.Contains(msg, "456")
	d.RecordFailure(msg, isRate)
}
