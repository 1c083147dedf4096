package glossary

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minios-linux/mdxlate/deepl"
)

type fakeLister struct {
	calls atomic.Int32
	delay time.Duration
	list  []deepl.Glossary
	err   error
}

func (f *fakeLister) ListGlossaries(ctx context.Context) ([]deepl.Glossary, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.list, f.err
}

var accountGlossaries = []deepl.Glossary{
	{ID: "g-ja", Name: "internet_computer", Ready: true, SourceLang: "en", TargetLang: "ja"},
	{ID: "g-de-pending", Name: "internet_computer", Ready: false, SourceLang: "en", TargetLang: "de"},
	{ID: "g-fr-1", Name: "internet_computer", Ready: true, SourceLang: "en", TargetLang: "fr"},
	{ID: "g-fr-2", Name: "internet_computer", Ready: true, SourceLang: "en", TargetLang: "fr"},
	{ID: "g-other", Name: "other", Ready: true, SourceLang: "en", TargetLang: "ja"},
}

func TestResolveFound(t *testing.T) {
	l := &fakeLister{list: accountGlossaries}
	r := NewResolver(l, Options{})

	b, err := r.Resolve(context.Background(), "EN", "ja-JP", "internet_computer")
	require.NoError(t, err)
	assert.True(t, b.Found)
	assert.Equal(t, "g-ja", b.ID)
	assert.Empty(t, r.Warnings())

	// Cached: no second listing.
	b, err = r.Resolve(context.Background(), "en", "JA", "internet_computer")
	require.NoError(t, err)
	assert.Equal(t, int32(1), l.calls.Load())
	assert.Equal(t, Binding{SourceLang: "en", TargetLang: "JA", Name: "internet_computer", ID: "g-ja", Found: true}, b)
}

func TestResolveMissIsWarning(t *testing.T) {
	var warned []error
	l := &fakeLister{list: accountGlossaries}
	r := NewResolver(l, Options{OnWarn: func(err error) { warned = append(warned, err) }})

	b, err := r.Resolve(context.Background(), "en", "ru", "internet_computer")
	require.NoError(t, err)
	assert.False(t, b.Found)
	assert.Empty(t, b.ID)

	b, err = r.Resolve(context.Background(), "en", "de", "internet_computer")
	require.NoError(t, err)
	assert.False(t, b.Found, "unready glossary must not be used")

	warnings := r.Warnings()
	require.Len(t, warnings, 2)
	for _, w := range warnings {
		assert.ErrorIs(t, w, ErrUnavailable)
	}
	assert.Equal(t, warnings, warned)

	// The miss is cached and warned only once.
	_, _ = r.Resolve(context.Background(), "en", "ru", "internet_computer")
	assert.Len(t, r.Warnings(), 2)
	assert.Equal(t, int32(2), l.calls.Load())
}

func TestResolveAmbiguous(t *testing.T) {
	r := NewResolver(&fakeLister{list: accountGlossaries}, Options{})
	b, err := r.Resolve(context.Background(), "en", "fr", "internet_computer")
	require.NoError(t, err)
	assert.True(t, b.Found)
	assert.Equal(t, "g-fr-1", b.ID, "first ready match wins")
	require.Len(t, r.Warnings(), 1)
	assert.ErrorIs(t, r.Warnings()[0], ErrAmbiguous)
}

func TestResolveEmptyNameSkipsLookup(t *testing.T) {
	l := &fakeLister{list: accountGlossaries}
	r := NewResolver(l, Options{})
	b, err := r.Resolve(context.Background(), "en", "ja", "")
	require.NoError(t, err)
	assert.False(t, b.Found)
	assert.Zero(t, l.calls.Load())
	assert.Empty(t, r.Warnings())
}

func TestResolveListingErrors(t *testing.T) {
	for _, tc := range []struct {
		name   string
		status int
		want   error
	}{
		{"auth", 403, deepl.ErrAuth},
		{"quota", deepl.StatusQuotaExceeded, deepl.ErrQuotaExceeded},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := NewResolver(&fakeLister{err: deepl.NewAPIError(tc.status, "denied")}, Options{})
			_, err := r.Resolve(context.Background(), "en", "ja", "docs")
			assert.ErrorIs(t, err, tc.want)
			assert.Empty(t, r.Warnings())
		})
	}

	t.Run("transient becomes warning", func(t *testing.T) {
		r := NewResolver(&fakeLister{err: errors.New("connection reset")}, Options{})
		b, err := r.Resolve(context.Background(), "en", "ja", "docs")
		require.NoError(t, err)
		assert.False(t, b.Found)
		require.Len(t, r.Warnings(), 1)
		assert.ErrorIs(t, r.Warnings()[0], ErrUnavailable)
	})
}

func TestResolveConcurrentSharesOneCall(t *testing.T) {
	l := &fakeLister{list: accountGlossaries, delay: 50 * time.Millisecond}
	r := NewResolver(l, Options{})

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := r.Resolve(context.Background(), "en", "ja", "internet_computer")
			assert.NoError(t, err)
			ids[i] = b.ID
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), l.calls.Load())
	for _, id := range ids {
		assert.Equal(t, "g-ja", id)
	}
}

func TestReadTermsTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deepl.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
api_key = "ignored"

[glossaries.internet_computer]
"canister" = "キャニスター"
"cycles" = "サイクル"
`), 0644))

	entries, err := ReadTerms(path, "internet_computer")
	require.NoError(t, err)
	assert.Equal(t, []Entry{{"canister", "キャニスター"}, {"cycles", "サイクル"}}, entries)

	_, err = ReadTerms(path, "missing")
	assert.Error(t, err)
}

func TestReadTermsTSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terms.tsv")
	require.NoError(t, os.WriteFile(path, []byte("# comment\ncanister\tKanister\r\n\nneuron\tNeuron\n"), 0644))

	entries, err := ReadTerms(path, "")
	require.NoError(t, err)
	assert.Equal(t, []Entry{{"canister", "Kanister"}, {"neuron", "Neuron"}}, entries)

	require.NoError(t, os.WriteFile(path, []byte("no tab here\n"), 0644))
	_, err = ReadTerms(path, "")
	assert.Error(t, err)
}

func TestBuildTSV(t *testing.T) {
	var dups []Entry
	tsv, rows := BuildTSV([]Entry{
		{"zeta", "Z"},
		{" alpha ", " A "},
		{"", "empty source"},
		{"empty target", "  "},
		{"alpha", "A2"},
		{"multi\nline", "x\ty"},
	}, func(e Entry) { dups = append(dups, e) })

	assert.Equal(t, "alpha\tA\nmulti line\tx y\nzeta\tZ", tsv)
	assert.Equal(t, 3, rows)
	assert.Equal(t, []Entry{{"alpha", "A2"}}, dups)

	tsv, rows = BuildTSV(nil, nil)
	assert.Empty(t, tsv)
	assert.Zero(t, rows)
}

func TestFromMapSorted(t *testing.T) {
	entries := FromMap(map[string]string{"b": "2", "a": "1", "c": "3"})
	assert.Equal(t, []Entry{{"a", "1"}, {"b", "2"}, {"c", "3"}}, entries)
}
