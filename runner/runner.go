// Package runner drives a translation run: it walks the input, pushes each
// document through segmentation, translation, reconstruction and writing,
// and collects per-file outcomes and warnings into a run summary.
package runner

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/minios-linux/mdxlate/glossary"
	"github.com/minios-linux/mdxlate/langmeta"
	"github.com/minios-linux/mdxlate/lockfile"
	"github.com/minios-linux/mdxlate/mdfile"
	"github.com/minios-linux/mdxlate/translate"
	"github.com/minios-linux/mdxlate/walk"
)

// Translator translates the units of one document.
type Translator interface {
	Translate(ctx context.Context, units []mdfile.Unit, p translate.Params) (translate.Result, error)
}

// Resolver finds the glossary to use for a language pair.
type Resolver interface {
	Resolve(ctx context.Context, sourceLang, targetLang, name string) (glossary.Binding, error)
	Warnings() []error
}

// Deps are the collaborators of a run.
type Deps struct {
	Translator Translator
	// Resolver is optional; without it no glossary is used.
	Resolver Resolver
}

// Options controls a run.
type Options struct {
	SourceLang string
	TargetLang string
	// Formality is passed to the translator as is.
	Formality string
	// Glossary is the logical glossary name; empty disables glossaries.
	Glossary string
	// Ignore lists terms kept untranslated in every document.
	Ignore []string
	// MaxDepth limits directory recursion (0 = input directory only,
	// negative = unlimited).
	MaxDepth int
	// Extensions selects the files to translate. Default: .md.
	Extensions []string
	// Concurrency is the number of files processed at once. Default: 1.
	Concurrency int
	// DetectLanguage checks that each document is written in SourceLang.
	DetectLanguage bool
	// Incremental skips documents unchanged since the last run, tracked in
	// a lock file in the output directory.
	Incremental bool
	// OnFile is called when a file reaches a final state.
	OnFile func(fr *FileResult)
	// OnLog emits log messages during the run.
	OnLog func(format string, args ...any)
	// OnWarn is called for every warning as it is recorded.
	OnWarn func(err error)
	// Verbose enables detailed logging.
	Verbose bool
}

func (o *Options) log(format string, args ...any) {
	if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o *Options) effectiveConcurrency() int {
	if o.Concurrency > 0 {
		return o.Concurrency
	}
	return 1
}

// params is the string recorded in the lock file next to each source.
func (o *Options) params() string {
	return strings.Join([]string{
		"source=" + langmeta.Base(o.SourceLang),
		"target=" + strings.ToLower(o.TargetLang),
		"formality=" + strings.ToLower(o.Formality),
		"glossary=" + o.Glossary,
		"ignore=" + strings.Join(o.Ignore, ","),
	}, "|")
}

// Controller runs translations. A controller may be reused for several
// runs, but not concurrently.
type Controller struct {
	deps Deps
	opts Options

	warnMu sync.Mutex
}

// New returns a controller.
func New(deps Deps, opts Options) *Controller {
	return &Controller{deps: deps, opts: opts}
}

// Run translates input (a file or directory) into output. The result is
// always returned. The error is set when the run was aborted by a fatal
// condition: the input could not be walked, the output path does not fit
// the input, or the service rejected the credentials or quota. A canceled
// ctx stops the run at the next file boundary, sets Result.Canceled and
// returns no error.
func (c *Controller) Run(ctx context.Context, input, output string) (*Result, error) {
	res := &Result{}

	w, err := walk.New(input, output, walk.Options{MaxDepth: c.opts.MaxDepth, Extensions: c.opts.Extensions})
	if err != nil {
		res.abort(err)
		return res, err
	}

	var lock *lockfile.LockFile
	if c.opts.Incremental {
		dir := output
		if !w.IsDir() {
			dir = filepath.Dir(output)
		}
		if lock, err = lockfile.Load(dir); err != nil {
			err = fmt.Errorf("%w: %v", walk.ErrIO, err)
			res.abort(err)
			return res, err
		}
		c.opts.log("Lock file %s: %s", lock.Path(), lock.Summary())
	}

	// In-flight files are not interrupted by ctx, only by a fatal error.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	sem := semaphore.NewWeighted(int64(c.opts.effectiveConcurrency()))

	var walkErr error
	stopped := false
	for pair, err := range w.Pairs() {
		if err != nil {
			if !stopped {
				walkErr = err
				cancel()
			}
			break
		}

		fr := &FileResult{Input: pair.Input, Output: pair.Output, Rel: pair.Rel, State: StatePending}
		res.Files = append(res.Files, fr)
		if stopped {
			continue
		}

		if ctx.Err() != nil {
			res.Canceled = true
			stopped = true
			continue
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			stopped = true
			continue
		}
		if ctx.Err() != nil || gctx.Err() != nil {
			sem.Release(1)
			res.Canceled = ctx.Err() != nil
			stopped = true
			continue
		}

		g.Go(func() error {
			err := c.process(gctx, fr, lock)
			// The run must read as stopped before the slot frees up, or the
			// loop could start the next file.
			if err != nil {
				cancel()
			}
			sem.Release(1)
			return err
		})
	}

	fatal := g.Wait()
	if walkErr != nil {
		fatal = walkErr
	}
	if fatal != nil {
		res.abort(fatal)
	}

	if c.deps.Resolver != nil {
		res.Warnings = append(res.Warnings, c.deps.Resolver.Warnings()...)
	}
	for _, fr := range res.Files {
		res.Warnings = append(res.Warnings, fr.Warnings...)
	}

	if lock != nil {
		if !res.Aborted && !res.Canceled {
			keys := make([]string, len(res.Files))
			for i, fr := range res.Files {
				keys[i] = lockfile.Key(fr.Rel)
			}
			lock.Clean(c.opts.TargetLang, keys)
		}
		if err := lock.Save(); err != nil {
			c.warn(&res.Warnings, fmt.Errorf("saving lock file: %w", err))
		} else {
			c.opts.log("Saved %s: %s", lock.Path(), lock.Summary())
		}
	}

	res.count()
	return res, res.Err
}

// process runs the pipeline of one file. Only fatal errors are returned;
// every other failure is recorded in fr.
func (c *Controller) process(ctx context.Context, fr *FileResult, lock *lockfile.LockFile) error {
	err := c.pipeline(ctx, fr, lock)
	switch {
	case err == nil:
	case IsFatal(err):
		fr.fail(err)
		if c.opts.Verbose {
			log.Printf("[DEBUG] runner: %s: fatal: %v", fr.Rel, err)
		}
	default:
		fr.fail(err)
		err = nil
	}
	if c.opts.OnFile != nil {
		c.opts.OnFile(fr)
	}
	return err
}

func (c *Controller) pipeline(ctx context.Context, fr *FileResult, lock *lockfile.LockFile) error {
	fr.State = StateSegmenting
	data, err := os.ReadFile(fr.Input)
	if err != nil {
		return err
	}
	source := string(data)

	key := lockfile.Key(fr.Rel)
	content := lockfile.Content(c.opts.params(), source)
	if lock != nil && !lock.IsChanged(c.opts.TargetLang, key, content) && fileExists(fr.Output) {
		fr.State = StateSkipped
		return nil
	}

	doc := mdfile.Parse(fr.Input, data)
	units := doc.Units()
	fr.Units = len(units)
	if c.opts.Verbose {
		text, opaque := doc.Stats()
		c.opts.log("  %s: %d text / %d opaque segments", fr.Rel, text, opaque)
	}

	if c.opts.DetectLanguage && c.opts.SourceLang != "" {
		if lang, reliable := langmeta.Detect(doc.Prose()); reliable && lang != langmeta.Base(c.opts.SourceLang) {
			c.warn(&fr.Warnings, fmt.Errorf("%s: %w: looks like %s, not %s",
				fr.Rel, ErrLanguageMismatch, langmeta.Name(lang), langmeta.Name(c.opts.SourceLang)))
		}
	}

	fr.State = StateTranslating
	p := translate.Params{
		SourceLang: c.opts.SourceLang,
		TargetLang: c.opts.TargetLang,
		Formality:  c.opts.Formality,
		Ignore:     c.opts.Ignore,
	}
	if c.deps.Resolver != nil && c.opts.Glossary != "" {
		b, err := c.deps.Resolver.Resolve(ctx, c.opts.SourceLang, c.opts.TargetLang, c.opts.Glossary)
		if err != nil {
			return err
		}
		p.GlossaryID = b.ID
	}

	tr, err := c.deps.Translator.Translate(ctx, units, p)
	if err != nil {
		return err
	}
	fr.Untranslated = tr.Failed()
	for _, w := range tr.Warnings {
		c.warn(&fr.Warnings, fmt.Errorf("%s: %w", fr.Rel, w))
	}

	fr.State = StateReconstructing
	out := doc.Render(tr.Map(units))

	fr.State = StateWriting
	if err := mdfile.WriteFile(fr.Output, []byte(out)); err != nil {
		return err
	}
	fr.State = StateDone

	if lock != nil {
		if fr.Untranslated == 0 {
			lock.Update(c.opts.TargetLang, key, content)
		} else {
			lock.Forget(c.opts.TargetLang, key)
		}
	}
	return nil
}

func (c *Controller) warn(dst *[]error, err error) {
	*dst = append(*dst, err)
	if c.opts.OnWarn != nil {
		c.warnMu.Lock()
		c.opts.OnWarn(err)
		c.warnMu.Unlock()
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
