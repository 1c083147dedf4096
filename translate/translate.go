// Package translate sends translation units to the translation service in
// batches, with retries, a shared rate-limit pause and an optional character
// budget.
package translate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/minios-linux/mdxlate/deepl"
	"github.com/minios-linux/mdxlate/langmeta"
	"github.com/minios-linux/mdxlate/mdfile"
)

// ErrTranslationFailed marks a batch that could not be translated. Its units
// fall back to the original text; the run continues.
var ErrTranslationFailed = errors.New("translation failed")

// errCountMismatch marks a 2xx response with the wrong number of texts.
var errCountMismatch = errors.New("translation count mismatch")

// Batch limits of the /translate endpoint.
const (
	DefaultMaxUnits = 50
	DefaultMaxBytes = 120 * 1024
)

// textOverhead approximates the form encoding cost of one text field.
const textOverhead = len("&text=")

// Client is the part of the service client the translator needs.
type Client interface {
	Translate(ctx context.Context, req deepl.TranslateRequest) ([]string, error)
}

// ---------------------------------------------------------------------------
// Translation options
// ---------------------------------------------------------------------------

// Options controls batching, retries and logging.
type Options struct {
	// MaxUnits is the maximum number of texts per request. Default: 50.
	MaxUnits int
	// MaxBytes is the maximum request payload per batch. Default: 120 KiB.
	MaxBytes int
	// MaxRetries is the number of retries after a rate limit or network
	// failure. Default: 3.
	MaxRetries int
	// BaseDelay is the first backoff delay, doubled on every retry. Default: 1s.
	BaseDelay time.Duration
	// MaxDelay caps the computed backoff. Default: 30s.
	MaxDelay time.Duration
	// Budget, if set, is charged for every batch sent and shared by all
	// callers of the translator.
	Budget *Budget
	// OnProgress is called after each batch with the units handled so far.
	OnProgress func(done, total int)
	// OnLog emits log messages during translation.
	OnLog func(format string, args ...any)
	// OnWarn is called for every failed batch.
	OnWarn func(err error)
	// Verbose enables detailed logging.
	Verbose bool
}

func (o *Options) log(format string, args ...any) {
	if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o *Options) effectiveMaxUnits() int {
	if o.MaxUnits > 0 {
		return o.MaxUnits
	}
	return DefaultMaxUnits
}

func (o *Options) effectiveMaxBytes() int {
	if o.MaxBytes > 0 {
		return o.MaxBytes
	}
	return DefaultMaxBytes
}

func (o *Options) effectiveMaxRetries() int {
	if o.MaxRetries > 0 {
		return o.MaxRetries
	}
	return 3
}

func (o *Options) effectiveBaseDelay() time.Duration {
	if o.BaseDelay > 0 {
		return o.BaseDelay
	}
	return time.Second
}

func (o *Options) effectiveMaxDelay() time.Duration {
	if o.MaxDelay > 0 {
		return o.MaxDelay
	}
	return 30 * time.Second
}

// backoff returns the wait before retry number attempt+1.
func (o *Options) backoff(attempt int, retryAfter time.Duration) time.Duration {
	wait := time.Duration(math.Pow(2, float64(attempt))) * o.effectiveBaseDelay()
	if limit := o.effectiveMaxDelay(); wait > limit {
		wait = limit
	}
	if retryAfter > wait {
		wait = retryAfter
	}
	return wait
}

// ---------------------------------------------------------------------------
// Translator
// ---------------------------------------------------------------------------

// Params are the per-call translation parameters.
type Params struct {
	// SourceLang and TargetLang are user-facing codes ("en", "pt-br").
	SourceLang string
	TargetLang string
	// GlossaryID is passed through unchanged; empty means no glossary.
	GlossaryID string
	// Formality is "default", "formal"/"more"/"prefer_more" or
	// "informal"/"less"/"prefer_less".
	Formality string
	// Ignore lists terms kept untranslated (product names and the like).
	Ignore []string
}

// Translation is the outcome for one unit.
type Translation struct {
	Text string
	// OK is false when the unit's batch failed; Text is then empty and the
	// original is kept as is.
	OK bool
}

// Result holds one Translation per input unit, in input order.
type Result struct {
	Translations []Translation
	// Warnings has one error wrapping ErrTranslationFailed per failed batch.
	Warnings []error
}

// Failed returns the number of units without a translation.
func (r Result) Failed() int {
	n := 0
	for _, t := range r.Translations {
		if !t.OK {
			n++
		}
	}
	return n
}

// Map returns the successful translations keyed by segment index, the form
// mdfile.Reconstruct takes.
func (r Result) Map(units []mdfile.Unit) map[int]string {
	out := make(map[int]string, len(units))
	for i, u := range units {
		if i < len(r.Translations) && r.Translations[i].OK {
			out[u.Index] = r.Translations[i].Text
		}
	}
	return out
}

// Translator is safe for concurrent use. A rate limit seen by one caller
// pauses every caller.
type Translator struct {
	client Client
	opts   Options
	rl     *rateLimitState
}

// New returns a translator sending requests through client.
func New(client Client, opts Options) *Translator {
	return &Translator{client: client, opts: opts, rl: &rateLimitState{}}
}

// Translate translates units. Failed batches are reported as warnings in the
// result. The returned error is set for authentication failures, exhausted
// quota and context cancellation, which stop the run, and for a language
// pair the service cannot translate (wrapping ErrTranslationFailed). The
// partial result must then be discarded.
func (t *Translator) Translate(ctx context.Context, units []mdfile.Unit, p Params) (Result, error) {
	res := Result{Translations: make([]Translation, len(units))}

	req, err := t.request(p)
	if err != nil {
		return res, err
	}

	var pending []int
	for i, u := range units {
		if strings.TrimSpace(u.Text) == "" {
			res.Translations[i] = Translation{OK: true}
			continue
		}
		pending = append(pending, i)
	}

	prot := newProtector(p.Ignore)
	if prot != nil {
		req.TagHandling = "xml"
		req.IgnoreTags = []string{keepTag}
	}

	texts := make([]string, len(pending))
	for j, i := range pending {
		texts[j] = units[i].Text
		if prot != nil {
			texts[j] = prot.wrap(texts[j])
		}
	}
	batches := splitBatches(texts, t.opts.effectiveMaxUnits(), t.opts.effectiveMaxBytes())

	done := 0
	for bi, b := range batches {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if t.opts.Verbose {
			t.opts.log("  Batch %d/%d (%d units)", bi+1, len(batches), b.end-b.start)
		}

		out, err := t.translateBatch(ctx, req, texts[b.start:b.end])
		switch {
		case err == nil:
			for j, text := range out {
				if prot != nil {
					text = prot.unwrap(text)
				}
				res.Translations[pending[b.start+j]] = Translation{Text: text, OK: true}
			}
		case errors.Is(err, ErrTranslationFailed):
			warn := fmt.Errorf("batch %d/%d (units %d-%d): %w", bi+1, len(batches),
				units[pending[b.start]].Index, units[pending[b.end-1]].Index, err)
			res.Warnings = append(res.Warnings, warn)
			if t.opts.OnWarn != nil {
				t.opts.OnWarn(warn)
			}
		default:
			return res, err
		}

		done += b.end - b.start
		if t.opts.OnProgress != nil {
			t.opts.OnProgress(done, len(pending))
		}
	}
	return res, nil
}

// request maps p to the service's codes and options.
func (t *Translator) request(p Params) (deepl.TranslateRequest, error) {
	var req deepl.TranslateRequest
	if p.SourceLang != "" {
		src, err := langmeta.SourceCode(p.SourceLang)
		if err != nil {
			return req, fmt.Errorf("%w: %v", ErrTranslationFailed, err)
		}
		req.SourceLang = src
	}
	tgt, err := langmeta.TargetCode(p.TargetLang)
	if err != nil {
		return req, fmt.Errorf("%w: %v", ErrTranslationFailed, err)
	}
	req.TargetLang = tgt
	req.GlossaryID = p.GlossaryID
	if langmeta.SupportsFormality(p.TargetLang) {
		req.Formality = formality(p.Formality)
	}
	return req, nil
}

// formality maps the accepted spellings to the service's values; "" means
// the option is not sent.
func formality(v string) string {
	switch strings.ToLower(v) {
	case "formal", "more", "prefer_more":
		return deepl.FormalityPreferMore
	case "informal", "less", "prefer_less":
		return deepl.FormalityPreferLess
	}
	return ""
}

// translateBatch sends one batch, retrying rate limits and network failures.
// It returns an error wrapping ErrTranslationFailed when the batch should
// fall back, and any other error when the run must stop.
func (t *Translator) translateBatch(ctx context.Context, base deepl.TranslateRequest, texts []string) ([]string, error) {
	chars := countChars(texts)
	if b := t.opts.Budget; b != nil {
		if err := b.Reserve(chars); err != nil {
			return nil, err
		}
	}

	out, err := t.send(ctx, base, texts)
	// A successful response is billed even when its count is wrong.
	if err != nil && t.opts.Budget != nil && !errors.Is(err, errCountMismatch) {
		t.opts.Budget.Refund(chars)
	}
	return out, err
}

func (t *Translator) send(ctx context.Context, base deepl.TranslateRequest, texts []string) ([]string, error) {
	req := base
	req.Texts = texts
	maxRetries := t.opts.effectiveMaxRetries()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		// Wait if globally paused (rate limit from another worker)
		if err := t.rl.waitIfPaused(ctx); err != nil {
			return nil, err
		}

		if t.opts.Verbose {
			log.Printf("[DEBUG] translate attempt %d: %d texts -> %s", attempt+1, len(texts), req.TargetLang)
		}

		out, err := t.client.Translate(ctx, req)
		if err == nil {
			if len(out) != len(texts) {
				return nil, fmt.Errorf("%w: %w: got %d translations for %d texts", ErrTranslationFailed, errCountMismatch, len(out), len(texts))
			}
			return out, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, deepl.ErrAuth) || errors.Is(err, deepl.ErrQuotaExceeded) {
			return nil, err
		}
		rateLimited := errors.Is(err, deepl.ErrRateLimited)
		if !rateLimited && !errors.Is(err, deepl.ErrNetwork) {
			return nil, fmt.Errorf("%w: %v", ErrTranslationFailed, err)
		}

		lastErr = err
		if attempt == maxRetries {
			break
		}

		var retryAfter time.Duration
		var apiErr *deepl.APIError
		if errors.As(err, &apiErr) {
			retryAfter = apiErr.RetryAfter
		}
		wait := t.opts.backoff(attempt, retryAfter)
		if rateLimited {
			// Globally pause all workers
			t.rl.pause(wait)
			if t.opts.Verbose {
				log.Printf("[WARN] rate limited, waiting %v before retry (attempt %d/%d)", wait, attempt+1, maxRetries)
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		if rateLimited {
			t.rl.unpause()
		}
	}

	return nil, fmt.Errorf("%w after %d retries: %v", ErrTranslationFailed, maxRetries, lastErr)
}

// ---------------------------------------------------------------------------
// Batching
// ---------------------------------------------------------------------------

// batch is the half-open range [start, end) of texts sent in one request.
type batch struct {
	start, end int
}

// splitBatches divides texts into consecutive batches of at most maxUnits
// texts and maxBytes payload. A text is never split; one larger than
// maxBytes forms a batch on its own.
func splitBatches(texts []string, maxUnits, maxBytes int) []batch {
	var batches []batch
	start, size := 0, 0
	for i, text := range texts {
		n := len(text) + textOverhead
		if i > start && (i-start >= maxUnits || size+n > maxBytes) {
			batches = append(batches, batch{start, i})
			start, size = i, 0
		}
		size += n
	}
	if start < len(texts) {
		batches = append(batches, batch{start, len(texts)})
	}
	return batches
}
