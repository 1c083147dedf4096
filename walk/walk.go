// Package walk enumerates the Markdown files of an input path and pairs each
// with its output location.
package walk

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrIO wraps filesystem failures; a run cannot continue past one.
	ErrIO = errors.New("i/o error")
	// ErrInvalidTarget is returned when input and output kinds mismatch
	// (file to directory or directory to file).
	ErrInvalidTarget = errors.New("invalid target")
)

// Options controls which files the walker yields.
type Options struct {
	// MaxDepth is the deepest directory level whose files are yielded;
	// the input directory is level 0. Negative means unlimited.
	MaxDepth int
	// Extensions lists accepted file extensions (case-insensitive, leading
	// dot optional). Default: .md.
	Extensions []string
}

// Pair is one source file and its destination.
type Pair struct {
	Input  string
	Output string
	// Rel is Input relative to the walk root, or its base name for a single file.
	Rel string
	// Depth is the level of the directory containing Input.
	Depth int
}

// Walker produces Pairs for one input/output combination.
type Walker struct {
	input  string
	output string
	isDir  bool
	opts   Options
	exts   map[string]bool
}

// New validates input and output and returns a walker. No directory is
// created here; output directories are made when files are written.
func New(input, output string, opts Options) (*Walker, error) {
	info, err := os.Stat(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIO, input, err)
	}

	w := &Walker{input: input, output: output, isDir: info.IsDir(), opts: opts}
	w.exts = make(map[string]bool)
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = []string{".md"}
	}
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		w.exts[e] = true
	}

	outInfo, outErr := os.Stat(output)
	outExists := outErr == nil
	trailingSep := strings.HasSuffix(output, "/") || strings.HasSuffix(output, string(os.PathSeparator))

	if w.isDir {
		if outExists && !outInfo.IsDir() {
			return nil, fmt.Errorf("%w: input %s is a directory but output %s is a file", ErrInvalidTarget, input, output)
		}
		if !outExists && !trailingSep && filepath.Ext(output) != "" {
			return nil, fmt.Errorf("%w: input %s is a directory but output %s looks like a file", ErrInvalidTarget, input, output)
		}
		return w, nil
	}

	if (outExists && outInfo.IsDir()) || trailingSep || filepath.Ext(output) == "" {
		return nil, fmt.Errorf("%w: input %s is a file but output %s looks like a directory", ErrInvalidTarget, input, output)
	}
	return w, nil
}

// IsDir reports whether the input is a directory.
func (w *Walker) IsDir() bool {
	return w.isDir
}

func (w *Walker) matches(name string) bool {
	return w.exts[strings.ToLower(filepath.Ext(name))]
}

// Pairs returns a lazy sequence of pairs in lexical order. Each range walks
// the tree again. A non-nil error is yielded at most once and ends the
// sequence.
func (w *Walker) Pairs() iter.Seq2[Pair, error] {
	return func(yield func(Pair, error) bool) {
		if !w.isDir {
			yield(Pair{Input: w.input, Output: w.output, Rel: filepath.Base(w.input)}, nil)
			return
		}

		stopped := false
		err := filepath.WalkDir(w.input, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrIO, path, err)
			}

			rel, relErr := filepath.Rel(w.input, path)
			if relErr != nil {
				return fmt.Errorf("%w: %s: %v", ErrIO, path, relErr)
			}

			if d.IsDir() {
				if rel != "." && w.opts.MaxDepth >= 0 && depthOf(rel) > w.opts.MaxDepth {
					return fs.SkipDir
				}
				return nil
			}

			if !d.Type().IsRegular() && d.Type()&fs.ModeSymlink == 0 {
				return nil
			}
			if !w.matches(d.Name()) {
				return nil
			}

			p := Pair{
				Input:  path,
				Output: filepath.Join(w.output, rel),
				Rel:    rel,
				Depth:  depthOf(filepath.Dir(rel)),
			}
			if !yield(p, nil) {
				stopped = true
				return fs.SkipAll
			}
			return nil
		})
		if err != nil && !stopped {
			yield(Pair{}, err)
		}
	}
}

// depthOf returns the directory level of a relative directory path ("." is 0).
func depthOf(relDir string) int {
	if relDir == "." || relDir == "" {
		return 0
	}
	return strings.Count(filepath.ToSlash(relDir), "/") + 1
}
