package translate

import (
	"html"
	"regexp"
	"sort"
	"strings"
)

// keepTag is the XML element sent around terms the service must not
// translate.
const keepTag = "mdxlate-keep"

var (
	xmlEscaper   = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	keepStripper = strings.NewReplacer("<"+keepTag+">", "", "</"+keepTag+">", "")
)

// protector marks do-not-translate terms in request texts. Texts are sent
// as XML, so they are escaped on the way out and unescaped on the way back.
type protector struct {
	re *regexp.Regexp
}

// newProtector returns nil when terms holds no usable term. Matching is
// case-insensitive and prefers longer terms.
func newProtector(terms []string) *protector {
	seen := make(map[string]bool)
	var clean []string
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" || seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		clean = append(clean, t)
	}
	if len(clean) == 0 {
		return nil
	}
	sort.SliceStable(clean, func(i, j int) bool { return len(clean[i]) > len(clean[j]) })

	parts := make([]string, len(clean))
	for i, t := range clean {
		parts[i] = regexp.QuoteMeta(xmlEscaper.Replace(t))
	}
	return &protector{re: regexp.MustCompile(`(?i)(?:` + strings.Join(parts, "|") + `)`)}
}

func (p *protector) wrap(text string) string {
	return p.re.ReplaceAllString(xmlEscaper.Replace(text), "<"+keepTag+">${0}</"+keepTag+">")
}

func (p *protector) unwrap(text string) string {
	return html.UnescapeString(keepStripper.Replace(text))
}
