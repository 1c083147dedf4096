// Package glossary resolves the remote glossary to attach to translation
// requests and prepares term lists for registration.
package glossary

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/minios-linux/mdxlate/deepl"
	"github.com/minios-linux/mdxlate/langmeta"
)

var (
	// ErrUnavailable marks warnings about a glossary that could not be used;
	// translation continues without one.
	ErrUnavailable = errors.New("glossary unavailable")
	// ErrAmbiguous marks warnings about several ready glossaries matching.
	ErrAmbiguous = errors.New("glossary ambiguous")
)

// Lister lists the glossaries stored on the account.
type Lister interface {
	ListGlossaries(ctx context.Context) ([]deepl.Glossary, error)
}

// Options controls resolver logging.
type Options struct {
	// OnWarn is called once for every warning as it is recorded.
	OnWarn func(err error)
	// Verbose enables [DEBUG] output through the standard logger.
	Verbose bool
}

// Binding is the outcome of resolving one (source, target, name) triple.
type Binding struct {
	SourceLang string
	TargetLang string
	Name       string
	// ID is the glossary to send, empty when Found is false.
	ID    string
	Found bool
}

type key struct {
	src, tgt, name string
}

func (k key) String() string {
	return k.src + "\x00" + k.tgt + "\x00" + k.name
}

// Resolver caches glossary bindings for one run. It is safe for concurrent
// use; concurrent lookups of the same triple share one listing call.
type Resolver struct {
	lister Lister
	opts   Options
	group  singleflight.Group

	mu       sync.Mutex
	cache    map[key]Binding
	warnings []error
}

// NewResolver returns a resolver backed by lister.
func NewResolver(lister Lister, opts Options) *Resolver {
	return &Resolver{
		lister: lister,
		opts:   opts,
		cache:  make(map[key]Binding),
	}
}

// Resolve returns the glossary binding for the language pair and logical
// glossary name. Missing or unready glossaries give Found=false and a
// warning, not an error. An empty name disables glossaries silently.
// Only authentication, quota and context errors are returned.
func (r *Resolver) Resolve(ctx context.Context, sourceLang, targetLang, name string) (Binding, error) {
	b := Binding{SourceLang: sourceLang, TargetLang: targetLang, Name: name}
	if name == "" {
		return b, nil
	}

	k := key{src: langmeta.Base(sourceLang), tgt: langmeta.Base(targetLang), name: name}
	if cached, ok := r.cached(k); ok {
		return b.withResult(cached), nil
	}

	v, err, _ := r.group.Do(k.String(), func() (any, error) {
		if cached, ok := r.cached(k); ok {
			return cached, nil
		}
		res, err := r.lookup(ctx, k, b)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[k] = res
		r.mu.Unlock()
		return res, nil
	})
	if err != nil {
		return b, err
	}
	return b.withResult(v.(Binding)), nil
}

// withResult copies the lookup outcome of r into b, keeping b's spelling of
// the languages.
func (b Binding) withResult(r Binding) Binding {
	b.ID = r.ID
	b.Found = r.Found
	return b
}

func (r *Resolver) cached(k key) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.cache[k]
	return b, ok
}

func (r *Resolver) lookup(ctx context.Context, k key, b Binding) (Binding, error) {
	if r.opts.Verbose {
		log.Printf("[DEBUG] glossary: listing glossaries for %q (%s -> %s)", k.name, k.src, k.tgt)
	}

	list, err := r.lister.ListGlossaries(ctx)
	if err != nil {
		if errors.Is(err, deepl.ErrAuth) || errors.Is(err, deepl.ErrQuotaExceeded) {
			return b, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return b, ctxErr
		}
		r.warn(fmt.Errorf("%w: listing glossaries for %q: %v", ErrUnavailable, k.name, err))
		return b, nil
	}

	var ready []deepl.Glossary
	matched := 0
	for _, g := range list {
		if g.Name != k.name || langmeta.Base(g.SourceLang) != k.src || langmeta.Base(g.TargetLang) != k.tgt {
			continue
		}
		matched++
		if g.Ready {
			ready = append(ready, g)
		}
	}

	switch {
	case matched == 0:
		r.warn(fmt.Errorf("%w: no glossary %q for %s -> %s", ErrUnavailable, k.name, k.src, k.tgt))
		return b, nil
	case len(ready) == 0:
		r.warn(fmt.Errorf("%w: glossary %q for %s -> %s is not ready", ErrUnavailable, k.name, k.src, k.tgt))
		return b, nil
	case len(ready) > 1:
		r.warn(fmt.Errorf("%w: %d ready glossaries named %q for %s -> %s, using %s",
			ErrAmbiguous, len(ready), k.name, k.src, k.tgt, ready[0].ID))
	}

	b.ID = ready[0].ID
	b.Found = true
	if r.opts.Verbose {
		log.Printf("[DEBUG] glossary: using %s for %q (%s -> %s)", b.ID, k.name, k.src, k.tgt)
	}
	return b, nil
}

func (r *Resolver) warn(err error) {
	r.mu.Lock()
	r.warnings = append(r.warnings, err)
	r.mu.Unlock()
	if r.opts.OnWarn != nil {
		r.opts.OnWarn(err)
	}
}

// Warnings returns every warning recorded so far, each once.
func (r *Resolver) Warnings() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]error, len(r.warnings))
	copy(out, r.warnings)
	return out
}
