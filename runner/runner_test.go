package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minios-linux/mdxlate/deepl"
	"github.com/minios-linux/mdxlate/glossary"
	"github.com/minios-linux/mdxlate/lockfile"
	"github.com/minios-linux/mdxlate/mdfile"
	"github.com/minios-linux/mdxlate/translate"
	"github.com/minios-linux/mdxlate/walk"
)

// fakeTranslator upper-cases every unit unless fn overrides the outcome.
type fakeTranslator struct {
	mu     sync.Mutex
	calls  []translate.Params
	active atomic.Int32
	peak   atomic.Int32
	delay  time.Duration
	fn     func(ctx context.Context, units []mdfile.Unit) (translate.Result, error, bool)
}

func (f *fakeTranslator) Translate(ctx context.Context, units []mdfile.Unit, p translate.Params) (translate.Result, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, p)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fn != nil {
		if res, err, ok := f.fn(ctx, units); ok {
			return res, err
		}
	}
	res := translate.Result{Translations: make([]translate.Translation, len(units))}
	for i, u := range units {
		res.Translations[i] = translate.Translation{Text: strings.ToUpper(u.Text), OK: true}
	}
	return res, nil
}

func (f *fakeTranslator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeResolver struct {
	calls    atomic.Int32
	binding  glossary.Binding
	err      error
	warnings []error
}

func (r *fakeResolver) Resolve(ctx context.Context, src, tgt, name string) (glossary.Binding, error) {
	r.calls.Add(1)
	return r.binding, r.err
}

func (r *fakeResolver) Warnings() []error { return r.warnings }

func hasUnit(units []mdfile.Unit, substr string) bool {
	for _, u := range units {
		if strings.Contains(u.Text, substr) {
			return true
		}
	}
	return false
}

// writeTree creates name -> content files below a new temp dir.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return root
}

var threeFiles = map[string]string{
	"a.md": "# File a\n\nAlpha text.\n",
	"b.md": "# File b\n\nBravo text.\n",
	"c.md": "# File c\n\nCharlie text.\n",
}

func baseOptions() Options {
	return Options{SourceLang: "en", TargetLang: "ja"}
}

func TestRunTranslatesDirectory(t *testing.T) {
	in := writeTree(t, map[string]string{
		"a.md":           "# Title\n\nSome `code` here.\n",
		"docs/b.md":      "Text\n",
		"docs/skip.txt":  "not markdown\n",
		"docs/deep/c.md": "too deep\n",
	})
	out := filepath.Join(t.TempDir(), "out")

	tr := &fakeTranslator{}
	opts := baseOptions()
	opts.MaxDepth = 1
	res, err := New(Deps{Translator: tr}, opts).Run(context.Background(), in, out)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Done)
	assert.Zero(t, res.Failed)
	assert.False(t, res.Aborted)
	require.Len(t, res.Files, 2)
	for _, fr := range res.Files {
		assert.Equal(t, StateDone, fr.State)
	}

	got, err := os.ReadFile(filepath.Join(out, "a.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nTITLE\n\nSome SOME `code` here.\n HERE.\n", string(got))

	got, err = os.ReadFile(filepath.Join(out, "docs", "b.md"))
	require.NoError(t, err)
	assert.Equal(t, "Text\nTEXT\n", string(got))

	assert.NoFileExists(t, filepath.Join(out, "docs", "deep", "c.md"))
}

func TestRunSingleFile(t *testing.T) {
	in := writeTree(t, map[string]string{"README.md": "Hello\n"})
	out := filepath.Join(t.TempDir(), "ja", "README.ja.md")

	res, err := New(Deps{Translator: &fakeTranslator{}}, baseOptions()).
		Run(context.Background(), filepath.Join(in, "README.md"), out)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Done)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "Hello\nHELLO\n", string(got))
}

func TestRunQuotaAbortsBeforeNextFile(t *testing.T) {
	in := writeTree(t, threeFiles)
	out := t.TempDir()

	tr := &fakeTranslator{fn: func(ctx context.Context, units []mdfile.Unit) (translate.Result, error, bool) {
		if hasUnit(units, "Bravo") {
			return translate.Result{}, fmt.Errorf("batch 1/1: %w", deepl.NewAPIError(deepl.StatusQuotaExceeded, "")), true
		}
		return translate.Result{}, nil, false
	}}
	res, err := New(Deps{Translator: tr}, baseOptions()).Run(context.Background(), in, out)

	require.Error(t, err)
	assert.ErrorIs(t, err, deepl.ErrQuotaExceeded)
	assert.True(t, res.Aborted)
	assert.Equal(t, 2, tr.callCount(), "c.md must not be started")

	require.Len(t, res.Files, 3)
	assert.Equal(t, StateDone, res.Files[0].State)
	assert.Equal(t, StateFailed, res.Files[1].State)
	assert.Equal(t, KindQuotaExceeded, res.Files[1].Kind)
	assert.Equal(t, StatePending, res.Files[2].State)
	assert.Equal(t, 1, res.NotStarted)

	assert.FileExists(t, filepath.Join(out, "a.md"))
	assert.NoFileExists(t, filepath.Join(out, "b.md"))
	assert.NoFileExists(t, filepath.Join(out, "c.md"))
}

func TestRunFatalNeverStartsNextFile(t *testing.T) {
	for i := 0; i < 300; i++ {
		in := writeTree(t, threeFiles)
		out := t.TempDir()

		tr := &fakeTranslator{fn: func(ctx context.Context, units []mdfile.Unit) (translate.Result, error, bool) {
			if hasUnit(units, "Alpha") {
				return translate.Result{}, deepl.NewAPIError(http.StatusForbidden, "bad key"), true
			}
			return translate.Result{}, nil, false
		}}
		res, err := New(Deps{Translator: tr}, baseOptions()).Run(context.Background(), in, out)

		require.ErrorIs(t, err, deepl.ErrAuth)
		require.Equal(t, 1, tr.callCount(), "iteration %d: b.md must not be started", i)
		require.Equal(t, 2, res.NotStarted, "iteration %d", i)
		require.NoFileExists(t, filepath.Join(out, "b.md"), "iteration %d", i)
		require.NoFileExists(t, filepath.Join(out, "c.md"), "iteration %d", i)
	}
}

func TestRunFileFailureDoesNotAbort(t *testing.T) {
	in := writeTree(t, threeFiles)
	out := t.TempDir()

	tr := &fakeTranslator{fn: func(ctx context.Context, units []mdfile.Unit) (translate.Result, error, bool) {
		if hasUnit(units, "Bravo") {
			return translate.Result{}, fmt.Errorf("%w: unsupported target language", translate.ErrTranslationFailed), true
		}
		return translate.Result{}, nil, false
	}}
	res, err := New(Deps{Translator: tr}, baseOptions()).Run(context.Background(), in, out)
	require.NoError(t, err)

	assert.False(t, res.Aborted)
	assert.Equal(t, 2, res.Done)
	assert.Equal(t, 1, res.Failed)
	failed := res.FailedFiles()
	require.Len(t, failed, 1)
	assert.Equal(t, "b.md", failed[0].Rel)
	assert.Equal(t, KindTranslationFailed, failed[0].Kind)
	assert.FileExists(t, filepath.Join(out, "c.md"))

	lines := res.Summary()
	require.Len(t, lines, 2)
	assert.Equal(t, SeverityError, lines[0].Severity)
	assert.Contains(t, lines[0].Text, "b.md (TranslationFailed)")
	assert.Equal(t, SeverityWarning, lines[1].Severity)
	assert.Equal(t, "2 done, 1 failed, 0 skipped, 0 not started, 0 warnings", lines[1].Text)
}

func TestRunFallbackWarning(t *testing.T) {
	in := writeTree(t, map[string]string{"a.md": "First.\n\nSecond.\n"})
	out := t.TempDir()

	tr := &fakeTranslator{fn: func(ctx context.Context, units []mdfile.Unit) (translate.Result, error, bool) {
		return translate.Result{
			Translations: []translate.Translation{{Text: "ERSTE.", OK: true}, {}},
			Warnings:     []error{fmt.Errorf("batch 2/2: %w after 3 retries", translate.ErrTranslationFailed)},
		}, nil, true
	}}
	var warned []error
	opts := baseOptions()
	opts.OnWarn = func(err error) { warned = append(warned, err) }
	res, err := New(Deps{Translator: tr}, opts).Run(context.Background(), in, out)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Done)
	assert.Equal(t, 1, res.Files[0].Untranslated)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, KindTranslationFailed, Classify(res.Warnings[0]))
	assert.Equal(t, res.Warnings, warned)

	got, err := os.ReadFile(filepath.Join(out, "a.md"))
	require.NoError(t, err)
	assert.Equal(t, "First.\n\nERSTE.\n\nSecond.\n", string(got))
}

func TestRunGlossary(t *testing.T) {
	in := writeTree(t, threeFiles)

	t.Run("found", func(t *testing.T) {
		tr := &fakeTranslator{}
		rs := &fakeResolver{binding: glossary.Binding{ID: "g-1", Found: true}}
		opts := baseOptions()
		opts.Glossary = "docs"
		_, err := New(Deps{Translator: tr, Resolver: rs}, opts).Run(context.Background(), in, t.TempDir())
		require.NoError(t, err)
		for _, p := range tr.calls {
			assert.Equal(t, "g-1", p.GlossaryID)
		}
	})

	t.Run("missing is a warning", func(t *testing.T) {
		tr := &fakeTranslator{}
		miss := fmt.Errorf("%w: no glossary %q for en -> ja", glossary.ErrUnavailable, "docs")
		rs := &fakeResolver{warnings: []error{miss}}
		opts := baseOptions()
		opts.Glossary = "docs"
		res, err := New(Deps{Translator: tr, Resolver: rs}, opts).Run(context.Background(), in, t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, 3, res.Done)
		for _, p := range tr.calls {
			assert.Empty(t, p.GlossaryID)
		}
		require.Len(t, res.Warnings, 1)
		assert.Equal(t, KindGlossaryUnavailable, Classify(res.Warnings[0]))
	})

	t.Run("no name skips lookup", func(t *testing.T) {
		rs := &fakeResolver{}
		_, err := New(Deps{Translator: &fakeTranslator{}, Resolver: rs}, baseOptions()).
			Run(context.Background(), in, t.TempDir())
		require.NoError(t, err)
		assert.Zero(t, rs.calls.Load())
	})

	t.Run("auth error aborts", func(t *testing.T) {
		rs := &fakeResolver{err: deepl.NewAPIError(403, "")}
		opts := baseOptions()
		opts.Glossary = "docs"
		res, err := New(Deps{Translator: &fakeTranslator{}, Resolver: rs}, opts).
			Run(context.Background(), in, t.TempDir())
		assert.ErrorIs(t, err, deepl.ErrAuth)
		assert.True(t, res.Aborted)
		assert.Equal(t, KindAuth, res.Files[0].Kind)
	})
}

func TestRunInvalidPaths(t *testing.T) {
	in := writeTree(t, threeFiles)
	file := filepath.Join(in, "a.md")

	tests := []struct {
		name          string
		input, output string
		want          error
		kind          Kind
	}{
		{"dir into file", in, file, walk.ErrInvalidTarget, KindInvalidTarget},
		{"file into dir", file, t.TempDir(), walk.ErrInvalidTarget, KindInvalidTarget},
		{"missing input", filepath.Join(in, "nope"), t.TempDir(), walk.ErrIO, KindIO},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tr := &fakeTranslator{}
			res, err := New(Deps{Translator: tr}, baseOptions()).Run(context.Background(), tc.input, tc.output)
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, res.Aborted)
			assert.Equal(t, tc.kind, Classify(res.Err))
			assert.Zero(t, tr.callCount())
		})
	}
}

func TestRunCancelAtFileBoundary(t *testing.T) {
	in := writeTree(t, threeFiles)
	out := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := &fakeTranslator{fn: func(ctx context.Context, units []mdfile.Unit) (translate.Result, error, bool) {
		cancel()
		// The file in flight keeps a live context.
		assert.NoError(t, ctx.Err())
		return translate.Result{}, nil, false
	}}
	res, err := New(Deps{Translator: tr}, baseOptions()).Run(ctx, in, out)
	require.NoError(t, err)

	assert.True(t, res.Canceled)
	assert.False(t, res.Aborted)
	assert.Equal(t, 1, res.Done)
	assert.Equal(t, 2, res.NotStarted)
	assert.Equal(t, 1, tr.callCount())
	assert.FileExists(t, filepath.Join(out, "a.md"))
}

func TestRunConcurrency(t *testing.T) {
	files := make(map[string]string)
	for i := 0; i < 8; i++ {
		files[fmt.Sprintf("f%d.md", i)] = fmt.Sprintf("Document %d\n", i)
	}
	in := writeTree(t, files)

	tr := &fakeTranslator{delay: 30 * time.Millisecond}
	opts := baseOptions()
	opts.Concurrency = 4
	res, err := New(Deps{Translator: tr}, opts).Run(context.Background(), in, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8, res.Done)
	assert.LessOrEqual(t, tr.peak.Load(), int32(4))
	assert.Greater(t, tr.peak.Load(), int32(1))
	for i, fr := range res.Files {
		assert.Equal(t, fmt.Sprintf("f%d.md", i), fr.Rel, "results keep walk order")
	}
}

func TestRunIncremental(t *testing.T) {
	in := writeTree(t, threeFiles)
	out := t.TempDir()
	opts := baseOptions()
	opts.Incremental = true

	tr := &fakeTranslator{}
	res, err := New(Deps{Translator: tr}, opts).Run(context.Background(), in, out)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Done)

	// Unchanged sources are skipped.
	tr = &fakeTranslator{}
	res, err = New(Deps{Translator: tr}, opts).Run(context.Background(), in, out)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Skipped)
	assert.Zero(t, tr.callCount())

	// An edited source, a removed output and changed parameters are redone.
	require.NoError(t, os.WriteFile(filepath.Join(in, "a.md"), []byte("Changed.\n"), 0644))
	require.NoError(t, os.Remove(filepath.Join(out, "b.md")))
	tr = &fakeTranslator{}
	res, err = New(Deps{Translator: tr}, opts).Run(context.Background(), in, out)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Done)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, StateSkipped, res.Files[2].State)

	opts.Formality = "formal"
	tr = &fakeTranslator{}
	res, err = New(Deps{Translator: tr}, opts).Run(context.Background(), in, out)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Done)
}

func TestRunPassesIgnoredTerms(t *testing.T) {
	in := writeTree(t, map[string]string{"a.md": "Use mdxlate.\n"})
	out := t.TempDir()
	opts := baseOptions()
	opts.Incremental = true
	opts.Ignore = []string{"mdxlate"}

	tr := &fakeTranslator{}
	_, err := New(Deps{Translator: tr}, opts).Run(context.Background(), in, out)
	require.NoError(t, err)
	require.Equal(t, 1, tr.callCount())
	assert.Equal(t, []string{"mdxlate"}, tr.calls[0].Ignore)

	// A changed term list invalidates the lock entry.
	opts.Ignore = []string{"mdxlate", "DeepL"}
	tr = &fakeTranslator{}
	res, err := New(Deps{Translator: tr}, opts).Run(context.Background(), in, out)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Done)
	assert.Equal(t, 1, tr.callCount())
}

func TestRunIncrementalLogsLockFile(t *testing.T) {
	in := writeTree(t, threeFiles)
	out := t.TempDir()
	var logs []string
	opts := baseOptions()
	opts.Incremental = true
	opts.OnLog = func(format string, args ...any) { logs = append(logs, fmt.Sprintf(format, args...)) }

	_, err := New(Deps{Translator: &fakeTranslator{}}, opts).Run(context.Background(), in, out)
	require.NoError(t, err)

	lockPath := filepath.Join(out, lockfile.LockFileName)
	assert.Equal(t, []string{
		"Lock file " + lockPath + ": empty",
		"Saved " + lockPath + ": 1 targets, 3 files (ja: 3 files)",
	}, logs)
}

func TestRunIncrementalRetriesFallbacks(t *testing.T) {
	in := writeTree(t, map[string]string{"a.md": "Text.\n"})
	out := t.TempDir()
	opts := baseOptions()
	opts.Incremental = true

	partial := &fakeTranslator{fn: func(ctx context.Context, units []mdfile.Unit) (translate.Result, error, bool) {
		return translate.Result{
			Translations: make([]translate.Translation, len(units)),
			Warnings:     []error{translate.ErrTranslationFailed},
		}, nil, true
	}}
	_, err := New(Deps{Translator: partial}, opts).Run(context.Background(), in, out)
	require.NoError(t, err)

	tr := &fakeTranslator{}
	res, err := New(Deps{Translator: tr}, opts).Run(context.Background(), in, out)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Done, "a partially translated file is not recorded")
}

func TestRunDetectLanguage(t *testing.T) {
	in := writeTree(t, map[string]string{
		"de.md": "Die Übersetzung dieses Dokuments wurde automatisch erstellt. " +
			"Bitte prüfen Sie alle Abschnitte sorgfältig, bevor Sie die Dateien veröffentlichen, " +
			"denn die Maschine versteht den Zusammenhang nicht immer richtig.\n",
		"en.md": "This document was translated automatically. Please review every section " +
			"carefully before you publish the files, because the machine does not always " +
			"understand the context correctly.\n",
	})

	opts := baseOptions()
	opts.DetectLanguage = true
	res, err := New(Deps{Translator: &fakeTranslator{}}, opts).Run(context.Background(), in, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Done)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, KindLanguageMismatch, Classify(res.Warnings[0]))
	assert.Contains(t, res.Warnings[0].Error(), "de.md")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindNone},
		{fmt.Errorf("walking: %w", walk.ErrIO), KindIO},
		{&os.PathError{Op: "open", Path: "x", Err: os.ErrNotExist}, KindIO},
		{walk.ErrInvalidTarget, KindInvalidTarget},
		{deepl.NewAPIError(401, ""), KindAuth},
		{deepl.NewAPIError(456, ""), KindQuotaExceeded},
		{fmt.Errorf("x: %w", translate.ErrTranslationFailed), KindTranslationFailed},
		{glossary.ErrAmbiguous, KindGlossaryUnavailable},
		{ErrLanguageMismatch, KindLanguageMismatch},
		{context.Canceled, KindCanceled},
		{errors.New("boom"), KindUnknown},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Classify(tc.err), "%v", tc.err)
	}
	assert.Equal(t, "QuotaExceeded", KindQuotaExceeded.String())
	assert.Equal(t, "IoError", KindIO.String())
	assert.Equal(t, "Reconstructing", StateReconstructing.String())
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(walk.ErrIO))
	assert.True(t, IsFatal(walk.ErrInvalidTarget))
	assert.True(t, IsFatal(deepl.NewAPIError(403, "")))
	assert.True(t, IsFatal(deepl.NewAPIError(456, "")))
	assert.False(t, IsFatal(&os.PathError{Op: "open", Path: "x", Err: os.ErrPermission}))
	assert.False(t, IsFatal(translate.ErrTranslationFailed))
	assert.False(t, IsFatal(context.Canceled))
}
