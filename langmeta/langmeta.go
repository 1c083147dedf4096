// Package langmeta provides the language registry used to validate user
// language codes, map them to DeepL API codes, and decide which request
// options a target language accepts.
package langmeta

import (
	"fmt"
	"strings"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

// Meta describes how a base language is handled by the translation service.
type Meta struct {
	// Name is the English display name.
	Name string
	// Target is the DeepL target code used when no region is given.
	Target string
	// Formality is true if the service accepts a formality option for
	// this language as a target.
	Formality bool
	// Variants lists regional target codes accepted as-is (e.g. "PT-BR").
	Variants []string
}

// Registry contains every base language the service can translate.
// Keys are lower-case ISO 639-1 codes.
var Registry = map[string]Meta{
	"ar": {Name: "Arabic", Target: "AR"},
	"bg": {Name: "Bulgarian", Target: "BG"},
	"cs": {Name: "Czech", Target: "CS"},
	"da": {Name: "Danish", Target: "DA"},
	"de": {Name: "German", Target: "DE", Formality: true},
	"el": {Name: "Greek", Target: "EL"},
	"en": {Name: "English", Target: "EN-US", Variants: []string{"EN-GB", "EN-US"}},
	"es": {Name: "Spanish", Target: "ES", Formality: true},
	"et": {Name: "Estonian", Target: "ET"},
	"fi": {Name: "Finnish", Target: "FI"},
	"fr": {Name: "French", Target: "FR", Formality: true},
	"hu": {Name: "Hungarian", Target: "HU"},
	"id": {Name: "Indonesian", Target: "ID"},
	"it": {Name: "Italian", Target: "IT", Formality: true},
	"ja": {Name: "Japanese", Target: "JA", Formality: true},
	"ko": {Name: "Korean", Target: "KO"},
	"lt": {Name: "Lithuanian", Target: "LT"},
	"lv": {Name: "Latvian", Target: "LV"},
	"nb": {Name: "Norwegian Bokmål", Target: "NB"},
	"nl": {Name: "Dutch", Target: "NL", Formality: true},
	"pl": {Name: "Polish", Target: "PL", Formality: true},
	"pt": {Name: "Portuguese", Target: "PT-BR", Formality: true, Variants: []string{"PT-BR", "PT-PT"}},
	"ro": {Name: "Romanian", Target: "RO"},
	"ru": {Name: "Russian", Target: "RU", Formality: true},
	"sk": {Name: "Slovak", Target: "SK"},
	"sl": {Name: "Slovenian", Target: "SL"},
	"sv": {Name: "Swedish", Target: "SV"},
	"tr": {Name: "Turkish", Target: "TR"},
	"uk": {Name: "Ukrainian", Target: "UK"},
	"zh": {Name: "Chinese", Target: "ZH-HANS", Variants: []string{"ZH-HANS", "ZH-HANT"}},
}

func canonicalize(lang string) string {
	normalized := strings.ReplaceAll(strings.TrimSpace(lang), "_", "-")
	if normalized == "" {
		return ""
	}
	parts := strings.Split(normalized, "-")
	parts[0] = strings.ToLower(parts[0])
	for i := 1; i < len(parts); i++ {
		switch len(parts[i]) {
		case 2:
			parts[i] = strings.ToUpper(parts[i])
		case 4:
			parts[i] = strings.ToUpper(parts[i][:1]) + strings.ToLower(parts[i][1:])
		}
	}
	return strings.Join(parts, "-")
}

// Canonicalize validates a language code and returns it in BCP 47 form
// ("pt_br" -> "pt-BR").
func Canonicalize(lang string) (string, error) {
	c := canonicalize(lang)
	if c == "" {
		return "", fmt.Errorf("empty language code")
	}
	if _, err := language.Parse(c); err != nil {
		return "", fmt.Errorf("invalid language code %q: %w", lang, err)
	}
	return c, nil
}

// Base returns the lower-case base language of a code ("PT-br" -> "pt").
// Unparseable input is returned lower-cased up to the first separator.
func Base(lang string) string {
	c := canonicalize(lang)
	if tag, err := language.Parse(c); err == nil {
		base, _, _ := tag.Raw()
		return base.String()
	}
	if i := strings.IndexByte(c, '-'); i >= 0 {
		c = c[:i]
	}
	return strings.ToLower(c)
}

// Resolve returns the registry entry for a code, falling back to the base
// language. ok is false for languages the service cannot translate.
func Resolve(lang string) (Meta, bool) {
	m, ok := Registry[Base(lang)]
	return m, ok
}

// lookup finds the registry entry of lang. The registry is checked before
// Canonicalize: language.Parse rejects unassigned codes such as "xx" as
// invalid, and those must read as unsupported.
func lookup(lang, role string) (Meta, error) {
	if canonicalize(lang) == "" {
		return Meta{}, fmt.Errorf("empty %s language code", role)
	}
	m, ok := Resolve(lang)
	if !ok {
		return Meta{}, fmt.Errorf("unsupported %s language %q", role, lang)
	}
	if _, err := Canonicalize(lang); err != nil {
		return Meta{}, err
	}
	return m, nil
}

// SourceCode returns the DeepL source_lang value for lang. Source languages
// never carry a region.
func SourceCode(lang string) (string, error) {
	if _, err := lookup(lang, "source"); err != nil {
		return "", err
	}
	return strings.ToUpper(Base(lang)), nil
}

// TargetCode returns the DeepL target_lang value for lang, keeping a
// supported regional or script variant and otherwise using the default.
func TargetCode(lang string) (string, error) {
	m, err := lookup(lang, "target")
	if err != nil {
		return "", err
	}
	upper := strings.ToUpper(canonicalize(lang))
	for _, v := range m.Variants {
		if v == upper {
			return v, nil
		}
	}
	return m.Target, nil
}

// SupportsFormality reports whether the formality option may be sent for
// the given target language.
func SupportsFormality(lang string) bool {
	m, ok := Resolve(lang)
	return ok && m.Formality
}

// Name returns the display name of lang, or lang itself if it is unknown.
func Name(lang string) string {
	if m, ok := Resolve(lang); ok {
		return m.Name
	}
	return lang
}

// Detect guesses the language of text. reliable is false when the detector
// is not confident or the text is too short to judge.
func Detect(text string) (lang string, reliable bool) {
	if len(strings.TrimSpace(text)) == 0 {
		return "", false
	}
	info := whatlanggo.Detect(text)
	code := info.Lang.Iso6391()
	if code == "" {
		return "", false
	}
	return code, info.IsReliable()
}
