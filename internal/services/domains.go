// Domain-name normalization shared by the purchase, search, and status
// services.
package services

import (
	"regexp"
	"strings"

	"github.com/winstonhq/go-domain-gateway/internal/labelsafe"
)

// domainRE is the accepted domain shape: an LDH label, a dot, and a purely
// alphabetic TLD. Punycode TLDs are intentionally out.
var domainRE = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?\.[a-zA-Z]{2,}$`)

// NormalizeDomain lowercases and trims a domain and validates its shape.
func NormalizeDomain(raw string) (string, *Error) {
	d := strings.ToLower(strings.TrimSpace(raw))
	if n := len(d); n < 3 || n > 253 {
		return "", E(KindValidation, "domain length must be between 3 and 253")
	}
	if !domainRE.MatchString(d) {
		return "", E(KindValidation, "invalid domain name: %q", d)
	}
	return d, nil
}

// SplitLabelTLD separates a normalized domain into its label and TLD.
func SplitLabelTLD(domain string) (label, tld string) {
	i := strings.LastIndex(domain, ".")
	return domain[:i], domain[i+1:]
}

// tldAllowed reports whether tld passes allowlist. Empty allowlist = all.
func tldAllowed(allowlist []string, tld string) bool {
	if len(allowlist) == 0 {
		return true
	}
	for _, t := range allowlist {
		if strings.EqualFold(t, tld) {
			return true
		}
	}
	return false
}

// labelError maps a label-safety result onto the error taxonomy. Single-cause
// rejections with a dedicated kind keep their kind; everything else is a
// generic UnsafeLabel carrying the reasons.
func labelError(res labelsafe.Result) *Error {
	if len(res.Reasons) == 1 {
		switch res.Reasons[0] {
		case labelsafe.NonASCIINotAllowed:
			return E(KindNonASCIINotAllowed, "label contains non-ASCII characters; set allow_unicode").
				With("reasons", res.Reasons)
		case labelsafe.UnicodeMustUsePunycode:
			return E(KindUnicodeMustUsePunycode, "unicode labels must be submitted in punycode (xn--) form").
				With("reasons", res.Reasons)
		}
	}
	return E(KindUnsafeLabel, "label failed safety checks").With("reasons", res.Reasons)
}
