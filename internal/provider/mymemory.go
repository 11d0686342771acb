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

// MyMemory is the anonymous fallback backend. It has no batch protocol, so
// TranslateBatch walks texts sequentially and gives up on the first failure
// to avoid hammering an endpoint that just throttled us.
const (
	myMemoryAPIURL         = "https://api.mymemory.translated.net/get"
	myMemoryRequestTimeout = 15 * time.Second
)

// MyMemory translates via the MyMemory public REST API.
type MyMemory struct {
	*State
	client   *http.Client
	baseURL  string
	email    string
	langPair string
}

// NewMyMemory creates the provider. The optional email raises the daily
// character allowance (de query parameter).
func NewMyMemory(email string, maxRPM int) *MyMemory {
	return &MyMemory{
		State:    NewState("mymemory", maxRPM),
		client:   &http.Client{Timeout: myMemoryRequestTimeout},
		baseURL:  myMemoryAPIURL,
		email:    email,
		langPair: "en|pt-br",
	}
}

// SetBaseURL overrides the endpoint (tests).
func (m *MyMemory) SetBaseURL(u string) { m.baseURL = u }

// IsAvailable is always true; the API accepts anonymous requests.
func (m *MyMemory) IsAvailable() bool { return true }

// Status derives availability from the cooldown state.
func (m *MyMemory) Status() domain.ProviderStatus { return m.statusWith(m.IsAvailable()) }

// Stats returns the counters snapshot.
func (m *MyMemory) Stats() domain.ProviderStats { return m.statsWith(m.IsAvailable()) }

// myMemoryResponse is the REST payload shape. The HTTP status is 200 even on
// throttling; the real status lives in responseStatus.
type myMemoryResponse struct {
	ResponseData struct {
		TranslatedText string `json:"translatedText"`
	} `json:"responseData"`
	ResponseStatus json.Number `json:"responseStatus"`
}

// Translate performs one GET request.
func (m *MyMemory) Translate(ctx context.Context, text string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return text, true
	}

	q := url.Values{
		"q":        {text},
		"langpair": {m.langPair},
	}
	if m.email != "" {
		q.Set("de", m.email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		m.RecordFailure(err.Error(), false)
		return "", false
	}

	resp, err := m.client.Do(req)
	if err != nil {
		m.RecordFailure(err.Error(), isRateLimitMessage(err.Error()))
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		m.RecordFailure(msg, resp.StatusCode == http.StatusTooManyRequests)
		return "", false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		m.RecordFailure(err.Error(), false)
		return "", false
	}

	var out myMemoryResponse
	if err := json.Unmarshal(body, &out); err != nil {
		m.RecordFailure("decode response: "+err.Error(), false)
		return "", false
	}
	if status, _ := out.ResponseStatus.Int64(); status == http.StatusTooManyRequests {
		m.RecordFailure("responseStatus 429", true)
		return "", false
	}

	translated := strings.TrimSpace(out.ResponseData.TranslatedText)
	if translated == "" || noopTranslation(text, translated) {
		m.RecordFailure("translation identical to input", false)
		return "", false
	}

	m.RecordSuccess()
	return translated, true
}

// TranslateBatch walks texts one by one and stops at the first failure;
// remaining elements stay failed for the next provider in the chain.
func (m *MyMemory) TranslateBatch(ctx context.Context, texts []string) ([]string, []bool) {
	results := make([]string, len(texts))
	ok := make([]bool, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = text
			ok[i] = true
			continue
		}
		if ctx.Err() != nil {
			break
		}
		results[i], ok[i] = m.Translate(ctx, text)
		if !ok[i] {
			break
		}
	}
	return results, ok
}
