package glossary

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Entry is one source term and its translation.
type Entry struct {
	Source string
	Target string
}

// termFile is the layout of a TOML term file:
//
//	[glossaries.internet_computer]
//	canister = "キャニスター"
type termFile struct {
	Glossaries map[string]map[string]string `toml:"glossaries"`
}

// ReadTerms loads the entries of glossary name from path. Files ending in
// .tsv hold "source<TAB>target" rows (name is ignored); anything else is
// read as TOML with a [glossaries.<name>] table.
func ReadTerms(path, name string) ([]Entry, error) {
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		return readTSV(path)
	}

	var tf termFile
	if _, err := toml.DecodeFile(path, &tf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	terms, ok := tf.Glossaries[name]
	if !ok {
		return nil, fmt.Errorf("%s: no [glossaries.%s] table", path, name)
	}
	return FromMap(terms), nil
}

func readTSV(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, "#") {
			continue
		}
		src, tgt, ok := strings.Cut(text, "\t")
		if !ok {
			return nil, fmt.Errorf("%s:%d: expected source<TAB>target", path, line)
		}
		entries = append(entries, Entry{Source: src, Target: tgt})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return entries, nil
}

// FromMap converts a term table to entries sorted by source term.
func FromMap(terms map[string]string) []Entry {
	entries := make([]Entry, 0, len(terms))
	for src, tgt := range terms {
		entries = append(entries, Entry{Source: src, Target: tgt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Source < entries[j].Source })
	return entries
}

// BuildTSV returns the upload body for entries: terms are trimmed, pairs
// with an empty side are dropped, rows are sorted by source term and only
// the first of several rows with the same source is kept; onDuplicate (if
// set) is called for each dropped duplicate. The returned count is the
// number of rows.
func BuildTSV(entries []Entry, onDuplicate func(Entry)) (string, int) {
	clean := make([]Entry, 0, len(entries))
	for _, e := range entries {
		e.Source = sanitize(e.Source)
		e.Target = sanitize(e.Target)
		if e.Source == "" || e.Target == "" {
			continue
		}
		clean = append(clean, e)
	}
	sort.SliceStable(clean, func(i, j int) bool { return clean[i].Source < clean[j].Source })

	var sb strings.Builder
	rows := 0
	for i, e := range clean {
		if i > 0 && clean[i-1].Source == e.Source {
			if onDuplicate != nil {
				onDuplicate(e)
			}
			continue
		}
		if rows > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(e.Source)
		sb.WriteByte('\t')
		sb.WriteString(e.Target)
		rows++
	}
	return sb.String(), rows
}

// sanitize trims a term and folds characters that would break a TSV row.
func sanitize(s string) string {
	s = strings.NewReplacer("\t", " ", "\r", " ", "\n", " ").Replace(s)
	return strings.TrimSpace(s)
}
