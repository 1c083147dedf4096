// Package deepl is a minimal client for the DeepL REST API (v2): text
// translation, glossary management and account usage.
//
// The client performs exactly one HTTP request per call. Retries, backoff
// and rate-limit pauses are the caller's job; failures are reported as
// *APIError values that unwrap to the package sentinels.
package deepl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// FreeBaseURL serves keys ending in ":fx".
	FreeBaseURL = "https://api-free.deepl.com/v2"
	// ProBaseURL serves every other key.
	ProBaseURL = "https://api.deepl.com/v2"

	defaultTimeout = 120 * time.Second
	maxBodySize    = 10 << 20
)

// Client talks to one DeepL account.
type Client struct {
	apiKey  string
	baseURL string
	proxy   string
	timeout time.Duration
	http    *http.Client
	verbose bool
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the endpoint derived from the key.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the HTTP client. Proxy and timeout options are
// ignored when a client is supplied.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithProxy routes requests through the given proxy URL. Without it the
// HTTP_PROXY/HTTPS_PROXY environment variables apply.
func WithProxy(proxyURL string) Option {
	return func(c *Client) { c.proxy = proxyURL }
}

// WithTimeout sets the per-request timeout (default 120s).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithVerbose logs every request with the standard logger.
func WithVerbose(v bool) Option {
	return func(c *Client) { c.verbose = v }
}

// New returns a client for apiKey.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{apiKey: apiKey, timeout: defaultTimeout}
	if IsFreeKey(apiKey) {
		c.baseURL = FreeBaseURL
	} else {
		c.baseURL = ProBaseURL
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = makeHTTPClient(c.proxy, c.timeout)
	}
	return c
}

// IsFreeKey reports whether apiKey belongs to the free plan.
func IsFreeKey(apiKey string) bool {
	return strings.HasSuffix(apiKey, ":fx")
}

// BaseURL returns the endpoint the client sends requests to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func makeHTTPClient(proxyURL string, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		}
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

// ---------------------------------------------------------------------------
// Translation
// ---------------------------------------------------------------------------

// Formality values accepted by the API.
const (
	FormalityPreferMore = "prefer_more"
	FormalityPreferLess = "prefer_less"
)

// TranslateRequest is one /translate call.
type TranslateRequest struct {
	// Texts are translated independently; the response keeps their order.
	Texts []string
	// SourceLang is a DeepL source code ("EN"); empty lets DeepL detect it.
	SourceLang string
	// TargetLang is a DeepL target code ("JA", "PT-BR").
	TargetLang string
	// GlossaryID is sent as glossary_id when non-empty.
	GlossaryID string
	// Formality is sent when non-empty (FormalityPreferMore, FormalityPreferLess).
	Formality string
	// TagHandling is sent as tag_handling when non-empty ("xml").
	TagHandling string
	// IgnoreTags names the XML elements whose content is not translated.
	IgnoreTags []string
}

type translateResponse struct {
	Translations []struct {
		DetectedSourceLanguage string `json:"detected_source_language"`
		Text                   string `json:"text"`
	} `json:"translations"`
}

// Translate sends the texts in one request and returns the translations in
// request order. The caller checks that the count matches.
func (c *Client) Translate(ctx context.Context, req TranslateRequest) ([]string, error) {
	form := url.Values{}
	for _, t := range req.Texts {
		form.Add("text", t)
	}
	if req.SourceLang != "" {
		form.Set("source_lang", req.SourceLang)
	}
	form.Set("target_lang", req.TargetLang)
	form.Set("preserve_formatting", "1")
	if req.GlossaryID != "" {
		form.Set("glossary_id", req.GlossaryID)
	}
	if req.Formality != "" {
		form.Set("formality", req.Formality)
	}
	if req.TagHandling != "" {
		form.Set("tag_handling", req.TagHandling)
	}
	if len(req.IgnoreTags) > 0 {
		form.Set("ignore_tags", strings.Join(req.IgnoreTags, ","))
	}

	var resp translateResponse
	if err := c.do(ctx, http.MethodPost, "/translate", form, &resp); err != nil {
		return nil, err
	}

	out := make([]string, len(resp.Translations))
	for i, t := range resp.Translations {
		out[i] = t.Text
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Glossaries
// ---------------------------------------------------------------------------

// Glossary is a glossary stored on the DeepL account.
type Glossary struct {
	ID           string `json:"glossary_id"`
	Name         string `json:"name"`
	Ready        bool   `json:"ready"`
	SourceLang   string `json:"source_lang"`
	TargetLang   string `json:"target_lang"`
	CreationTime string `json:"creation_time"`
	EntryCount   int    `json:"entry_count"`
}

// ListGlossaries returns every glossary of the account.
func (c *Client) ListGlossaries(ctx context.Context) ([]Glossary, error) {
	var resp struct {
		Glossaries []Glossary `json:"glossaries"`
	}
	if err := c.do(ctx, http.MethodGet, "/glossaries", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Glossaries, nil
}

// CreateGlossary uploads TSV entries ("source\ttarget" rows) under name.
func (c *Client) CreateGlossary(ctx context.Context, name, sourceLang, targetLang, tsv string) (*Glossary, error) {
	form := url.Values{}
	form.Set("name", name)
	form.Set("source_lang", sourceLang)
	form.Set("target_lang", targetLang)
	form.Set("entries_format", "tsv")
	form.Set("entries", tsv)

	var g Glossary
	if err := c.do(ctx, http.MethodPost, "/glossaries", form, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// DeleteGlossary removes the glossary with the given ID.
func (c *Client) DeleteGlossary(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/glossaries/"+url.PathEscape(id), nil, nil)
}

// ---------------------------------------------------------------------------
// Usage
// ---------------------------------------------------------------------------

// Usage is the character consumption of the current billing period.
type Usage struct {
	CharacterCount int64 `json:"character_count"`
	CharacterLimit int64 `json:"character_limit"`
}

// Remaining returns the characters left, or -1 when the account has no limit.
func (u Usage) Remaining() int64 {
	if u.CharacterLimit <= 0 {
		return -1
	}
	if r := u.CharacterLimit - u.CharacterCount; r > 0 {
		return r
	}
	return 0
}

// Usage fetches the account's character usage.
func (c *Client) Usage(ctx context.Context) (Usage, error) {
	var u Usage
	err := c.do(ctx, http.MethodGet, "/usage", nil, &u)
	return u, err
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	endpoint := c.baseURL + path

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+c.apiKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	if c.verbose {
		log.Printf("[DEBUG] deepl: %s %s", method, endpoint)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return newNetworkError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return newNetworkError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := newStatusError(resp, respBody)
		if c.verbose {
			log.Printf("[DEBUG] deepl: %s %s -> %d %s", method, endpoint, resp.StatusCode, apiErr.Message)
		}
		return apiErr
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// errorMessage extracts {"message": "..."} from an error body, falling back
// to the raw body.
func errorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		if e.Detail != "" {
			return e.Message + ": " + e.Detail
		}
		return e.Message
	}
	return truncate(strings.TrimSpace(string(body)), 200)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
