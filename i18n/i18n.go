// Package i18n localizes the mdxlate CLI's own messages (help texts, log
// lines, the run summary headers). It is unrelated to the documents being
// translated.
//
// Catalogues are gettext .po files embedded from locales/<lang>/LC_MESSAGES
// and read with gotext. The UI language is taken from MDXLATE_LANG, then the
// usual gettext variables.
//
//	i18n.Init("")
//	fmt.Println(i18n.N("%d file translated", "%d files translated", n))
package i18n

import (
	"embed"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/leonelquinteros/gotext"
)

//go:embed all:locales
var locales embed.FS

const (
	domain = "mdxlate"
	// Fallback is the language of the msgids.
	Fallback = "en"
)

var (
	po      *gotext.Locale
	current string
)

// Init selects the UI language. An empty lang is taken from the
// environment. The language is matched against the embedded catalogues, by
// full code first and then by base language; without a match the messages
// stay in English.
func Init(lang string) {
	if lang == "" {
		lang = detectLanguage()
	}

	current = match(lang, Available())
	if current == Fallback {
		po = nil
		return
	}
	po = gotext.NewLocaleFSWithPath(current, locales, "locales")
	po.AddDomain(domain)
	po.SetDomain(domain)
}

// Language returns the catalogue in use, Fallback when messages are not
// translated, "" before Init.
func Language() string {
	return current
}

// Available returns the languages with an embedded catalogue, sorted.
func Available() []string {
	entries, err := fs.ReadDir(locales, "locales")
	if err != nil {
		return nil
	}
	var langs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := fs.Stat(locales, "locales/"+e.Name()+"/LC_MESSAGES/"+domain+".po"); err == nil {
			langs = append(langs, e.Name())
		}
	}
	sort.Strings(langs)
	return langs
}

// match returns the entry of available for lang ("ru_RU" -> "ru"), or
// Fallback.
func match(lang string, available []string) string {
	lang = strings.ReplaceAll(lang, "-", "_")
	base, _, _ := strings.Cut(lang, "_")
	for _, want := range []string{lang, base} {
		for _, a := range available {
			if strings.EqualFold(a, want) {
				return a
			}
		}
	}
	return Fallback
}

// T translates a string. Without a catalogue the msgid is returned.
func T(msgid string) string {
	if po == nil {
		return msgid
	}
	return po.Get(msgid)
}

// N translates a string with plural forms, using the catalogue's plural
// formula. Without a catalogue English rules apply.
func N(singular, plural string, n int) string {
	if po == nil {
		if n == 1 {
			return singular
		}
		return plural
	}
	return po.GetN(singular, plural, n)
}

// detectLanguage reads MDXLATE_LANG, then LANGUAGE, LC_ALL, LC_MESSAGES and
// LANG (the GNU gettext order).
func detectLanguage() string {
	for _, env := range []string{"MDXLATE_LANG", "LANGUAGE", "LC_ALL", "LC_MESSAGES", "LANG"} {
		val := os.Getenv(env)
		if env == "LANGUAGE" {
			// Colon-separated preference list.
			val, _, _ = strings.Cut(val, ":")
		}
		// "ru_RU.UTF-8" -> "ru_RU"
		val, _, _ = strings.Cut(val, ".")
		if val == "" || val == "C" || val == "POSIX" {
			continue
		}
		return val
	}
	return Fallback
}
