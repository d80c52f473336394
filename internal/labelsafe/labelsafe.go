// Package labelsafe classifies single DNS labels as safe or unsafe for
// registration. It is the gateway's defense against homograph and
// invisible-character impersonation: ASCII labels must be plain LDH
// (letters-digits-hyphen), and Unicode labels must arrive as punycode, decode
// cleanly, contain no invisible codepoints, and stay within a single script.
//
// The filter is deliberately conservative and operates per label; the TLD is
// validated separately by the configuration allowlist. This lets the search
// pipeline report per-candidate reasons without aborting a whole batch.
package labelsafe

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/net/idna"
)

// Reason identifies why a label was rejected.
type Reason string

// Rejection reasons, stable strings exposed to API clients.
const (
	InvalidLength         Reason = "InvalidLength"
	InvalidHyphenPosition Reason = "InvalidHyphenPosition"
	NonASCIINotAllowed    Reason = "NonASCIINotAllowed"
	UnicodeMustUsePunycode Reason = "UnicodeMustUsePunycode"
	InvalidPunycode       Reason = "InvalidPunycode"
	HasInvisible          Reason = "HasInvisible"
	MixedScripts          Reason = "MixedScripts"
	AllNumeric            Reason = "AllNumeric"
)

// Result is the outcome of a label check. Safe is true iff Reasons is empty.
type Result struct {
	Safe    bool     `json:"safe"`
	Reasons []Reason `json:"reasons,omitempty"`
}

// asciiLDH matches a lowercase LDH label body.
var asciiLDH = regexp.MustCompile(`^[a-z0-9-]+$`)

// allDigits matches labels made of digits only.
var allDigits = regexp.MustCompile(`^[0-9]+$`)

// invisibles are zero-width and joiner codepoints abused for impersonation.
var invisibles = map[rune]struct{}{
	'\u200b': {}, // zero width space
	'\u200c': {}, // zero width non-joiner
	'\u200d': {}, // zero width joiner
	'\u2060': {}, // word joiner
	'\ufeff': {}, // zero width no-break space
}

// scripts is the census set: only these scripts participate in the
// mixed-script decision. Codepoints outside all of them are ignored.
var scripts = map[string]*unicode.RangeTable{
	"Latin":    unicode.Latin,
	"Cyrillic": unicode.Cyrillic,
	"Greek":    unicode.Greek,
	"Arabic":   unicode.Arabic,
	"Hebrew":   unicode.Hebrew,
	"Han":      unicode.Han,
	"Hiragana": unicode.Hiragana,
	"Katakana": unicode.Katakana,
}

// punycode decodes IDNA labels without remapping so a malformed xn-- label
// surfaces as an error instead of being silently passed through.
var punycode = idna.New(idna.StrictDomainName(false), idna.ValidateLabels(false))

// Check classifies a single DNS label. The label is lowercased before any
// test; allowUnicode gates whether punycode (xn--) labels are acceptable at
// all. Reasons accumulate, so a punycode label can be flagged for both
// invisibles and mixed scripts in one pass.
func Check(label string, allowUnicode bool) Result {
	label = strings.ToLower(strings.TrimSpace(label))

	if n := len(label); n < 1 || n > 63 {
		return unsafe(InvalidLength)
	}
	if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
		return unsafe(InvalidHyphenPosition)
	}

	if asciiLDH.MatchString(label) && !strings.HasPrefix(label, "xn--") {
		if allDigits.MatchString(label) {
			return unsafe(AllNumeric)
		}
		return Result{Safe: true}
	}

	if !allowUnicode {
		return unsafe(NonASCIINotAllowed)
	}
	if !strings.HasPrefix(label, "xn--") {
		return unsafe(UnicodeMustUsePunycode)
	}

	decoded, err := punycode.ToUnicode(label)
	if err != nil || decoded == "" || decoded == label {
		return unsafe(InvalidPunycode)
	}

	var reasons []Reason
	if hasInvisible(decoded) {
		reasons = append(reasons, HasInvisible)
	}
	if mixedScripts(decoded) {
		reasons = append(reasons, MixedScripts)
	}
	if len(reasons) > 0 {
		return Result{Safe: false, Reasons: reasons}
	}
	return Result{Safe: true}
}

func unsafe(r Reason) Result {
	return Result{Safe: false, Reasons: []Reason{r}}
}

func hasInvisible(s string) bool {
	for _, r := range s {
		if _, ok := invisibles[r]; ok {
			return true
		}
	}
	return false
}

// mixedScripts reports whether s touches more than one script from the census
// set. A single-script label with digits or hyphens stays clean; "раypal"
// (Cyrillic + Latin) does not.
func mixedScripts(s string) bool {
	seen := make(map[string]struct{}, 2)
	for _, r := range s {
		for name, table := range scripts {
			if unicode.Is(table, r) {
				seen[name] = struct{}{}
				break
			}
		}
		if len(seen) > 1 {
			return true
		}
	}
	return false
}
