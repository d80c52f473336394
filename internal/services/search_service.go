// Package services – SearchService
//
// This file implements the search pipeline: candidate generation from a free
// text prompt (or an explicit candidate list), per-candidate TLD and label
// safety screening, bulk availability via the registrar driver, and
// premium/price/limit filtering.
package services

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/winstonhq/go-domain-gateway/internal/domain"
	"github.com/winstonhq/go-domain-gateway/internal/labelsafe"
	"github.com/winstonhq/go-domain-gateway/internal/registrar"
	"github.com/winstonhq/go-domain-gateway/internal/repo"
)

// Search input bounds.
const (
	maxPromptLen      = 500
	maxSearchTLDs     = 10
	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

// defaultTLDs is the fallback when neither the request nor the allowlist
// names any.
var defaultTLDs = []string{"com", "net", "org", "io"}

// SearchRequest is the input of one search run. Exactly one of Prompt or
// Candidates must be set.
type SearchRequest struct {
	Prompt         string   `json:"prompt"`
	Candidates     []string `json:"candidates"`
	TLDs           []string `json:"tlds"`
	PriceCeiling   *float64 `json:"price_ceiling"`
	Limit          int      `json:"limit"`
	IncludePremium bool     `json:"include_premium"`
	IncludeUnicode bool     `json:"include_unicode"`
}

// SearchResponse carries the filtered availability results.
type SearchResponse struct {
	Results []registrar.Availability `json:"results"`
	Count   int                      `json:"count"`
}

// SearchService generates and screens purchase candidates.
type SearchService struct {
	DB       *gorm.DB
	Provider registrar.Provider
	Logger   zerolog.Logger

	AllowlistTLDs []string
	MaxCandidates int // cap on explicit candidate lists
}

// Search runs the pipeline for userID (empty for anonymous callers).
func (s *SearchService) Search(ctx context.Context, userID string, req SearchRequest) (*SearchResponse, error) {
	tr := otel.Tracer("services/SearchService")
	ctx, span := tr.Start(ctx, "Search",
		trace.WithAttributes(attribute.Int("candidates", len(req.Candidates))),
	)
	defer span.End()

	candidates, serr := s.buildCandidates(req)
	if serr != nil {
		return nil, serr
	}

	// TLD allowlist screen: reject the whole request only when every
	// candidate is disallowed.
	allowed := candidates[:0:0]
	for _, c := range candidates {
		_, tld := SplitLabelTLD(c)
		if tldAllowed(s.AllowlistTLDs, tld) {
			allowed = append(allowed, c)
		}
	}
	if len(allowed) == 0 {
		return nil, E(KindValidation, "no candidate has an allowed tld")
	}

	// Label safety screen: proceed with the safe subset, fail only when it is
	// empty, sampling at most two reasons for the error body.
	safe := allowed[:0:0]
	var sampleReasons []labelsafe.Reason
	for _, c := range allowed {
		label, _ := SplitLabelTLD(c)
		res := labelsafe.Check(label, req.IncludeUnicode)
		if res.Safe {
			safe = append(safe, c)
			continue
		}
		for _, r := range res.Reasons {
			if len(sampleReasons) < 2 {
				sampleReasons = append(sampleReasons, r)
			}
		}
	}
	if len(safe) == 0 {
		return nil, E(KindUnsafeLabel, "no candidate passed label safety checks").
			With("sample_reasons", sampleReasons)
	}

	avail, err := s.Provider.CheckAvailability(ctx, safe)
	if err != nil {
		return nil, E(KindInternal, "availability check failed: %v", err)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	results := make([]registrar.Availability, 0, limit)
	for _, a := range avail {
		if !a.Available {
			continue
		}
		if a.Premium && !req.IncludePremium {
			continue
		}
		if req.PriceCeiling != nil && a.PriceUSD > *req.PriceCeiling {
			continue
		}
		results = append(results, a)
		if len(results) >= limit {
			break
		}
	}

	searchRequests.Inc()
	if err := repo.AppendAudit(ctx, s.DB, userID, domain.AuditSearch, map[string]any{
		"prompt": req.Prompt,
		"tlds":   req.TLDs,
		"count":  len(results),
	}); err != nil {
		s.Logger.Warn().Err(err).Msg("audit append failed")
	}

	return &SearchResponse{Results: results, Count: len(results)}, nil
}

// buildCandidates validates the prompt/candidates alternative and produces
// the normalized candidate list.
func (s *SearchService) buildCandidates(req SearchRequest) ([]string, *Error) {
	hasPrompt := strings.TrimSpace(req.Prompt) != ""
	hasCandidates := len(req.Candidates) > 0
	if hasPrompt == hasCandidates {
		return nil, E(KindValidation, "exactly one of prompt or candidates is required")
	}

	if len(req.TLDs) > maxSearchTLDs {
		return nil, E(KindValidation, "at most %d tlds may be requested", maxSearchTLDs)
	}
	for _, t := range req.TLDs {
		if !isAlphaTLD(t) {
			return nil, E(KindValidation, "tld %q must be letters only", t)
		}
	}

	if hasCandidates {
		if s.MaxCandidates > 0 && len(req.Candidates) > s.MaxCandidates {
			return nil, E(KindValidation, "at most %d candidates may be submitted", s.MaxCandidates)
		}
		out := make([]string, 0, len(req.Candidates))
		for _, c := range req.Candidates {
			d := strings.ToLower(strings.TrimSpace(c))
			if d == "" {
				continue
			}
			out = append(out, d)
		}
		if len(out) == 0 {
			return nil, E(KindValidation, "candidates must not be empty")
		}
		return out, nil
	}

	if len(req.Prompt) > maxPromptLen {
		return nil, E(KindValidation, "prompt must be at most %d characters", maxPromptLen)
	}
	base := SlugFromPrompt(req.Prompt)
	if base == "" {
		return nil, E(KindValidation, "prompt yields no usable domain label")
	}

	tlds := req.TLDs
	if len(tlds) == 0 {
		tlds = s.AllowlistTLDs
	}
	if len(tlds) == 0 {
		tlds = defaultTLDs
	}
	out := make([]string, 0, len(tlds))
	for _, t := range tlds {
		out = append(out, base+"."+strings.ToLower(t))
	}
	return out, nil
}

// nonLabelRunRE collapses anything outside [a-z0-9] into a single hyphen.
var nonLabelRunRE = regexp.MustCompile(`[^a-z0-9]+`)

// slugFolder strips diacritics so "café" slugs to "cafe" before the ASCII
// screen drops the rest.
var slugFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// SlugFromPrompt derives a DNS label from free text: diacritic folding,
// lowercasing, hyphen-joining, and trimming.
func SlugFromPrompt(prompt string) string {
	folded, _, err := transform.String(slugFolder, prompt)
	if err != nil {
		folded = prompt
	}
	slug := strings.ToLower(strings.TrimSpace(folded))
	slug = nonLabelRunRE.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 63 {
		slug = strings.Trim(slug[:63], "-")
	}
	return slug
}

func isAlphaTLD(s string) bool {
	if len(s) < 2 {
		return false
	}
	for _, r := range strings.ToLower(s) {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
