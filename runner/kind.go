package runner

import (
	"context"
	"errors"
	"io/fs"

	"github.com/minios-linux/mdxlate/deepl"
	"github.com/minios-linux/mdxlate/glossary"
	"github.com/minios-linux/mdxlate/translate"
	"github.com/minios-linux/mdxlate/walk"
)

// ErrLanguageMismatch marks a warning about a document that does not seem
// to be written in the source language.
var ErrLanguageMismatch = errors.New("source language mismatch")

// Kind classifies an error or warning for the run summary.
type Kind int

const (
	KindNone Kind = iota
	KindIO
	KindInvalidTarget
	KindTranslationFailed
	KindAuth
	KindQuotaExceeded
	KindGlossaryUnavailable
	KindLanguageMismatch
	KindCanceled
	KindUnknown
)

var kindNames = [...]string{
	KindNone:                "",
	KindIO:                  "IoError",
	KindInvalidTarget:       "InvalidTarget",
	KindTranslationFailed:   "TranslationFailed",
	KindAuth:                "AuthError",
	KindQuotaExceeded:       "QuotaExceeded",
	KindGlossaryUnavailable: "GlossaryUnavailable",
	KindLanguageMismatch:    "LanguageMismatch",
	KindCanceled:            "Canceled",
	KindUnknown:             "Unknown",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "Unknown"
	}
	return kindNames[k]
}

// Classify returns the kind of err.
func Classify(err error) Kind {
	var pathErr *fs.PathError
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, walk.ErrInvalidTarget):
		return KindInvalidTarget
	case errors.Is(err, walk.ErrIO):
		return KindIO
	case errors.Is(err, deepl.ErrAuth):
		return KindAuth
	case errors.Is(err, deepl.ErrQuotaExceeded):
		return KindQuotaExceeded
	case errors.Is(err, translate.ErrTranslationFailed):
		return KindTranslationFailed
	case errors.Is(err, glossary.ErrUnavailable), errors.Is(err, glossary.ErrAmbiguous):
		return KindGlossaryUnavailable
	case errors.Is(err, ErrLanguageMismatch):
		return KindLanguageMismatch
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.As(err, &pathErr):
		return KindIO
	}
	return KindUnknown
}

// IsFatal reports whether err stops the whole run.
func IsFatal(err error) bool {
	switch Classify(err) {
	case KindInvalidTarget, KindAuth, KindQuotaExceeded:
		return true
	case KindIO:
		return errors.Is(err, walk.ErrIO)
	}
	return false
}
