package services

import (
	"context"
	"testing"

	"github.com/winstonhq/go-domain-gateway/internal/domain"
	"github.com/winstonhq/go-domain-gateway/internal/registrar"
	"gorm.io/gorm"
)

func newSearchService(db *gorm.DB, fp *fakeProvider) *SearchService {
	return &SearchService{
		DB:            db,
		Provider:      fp,
		Logger:        nopLogger(),
		MaxCandidates: 20,
	}
}

func TestSlugFromPrompt(t *testing.T) {
	cases := map[string]string{
		"AI chatbot":          "ai-chatbot",
		"  Fancy Café Shop  ": "fancy-cafe-shop",
		"hello---world!!":     "hello-world",
		"42 things":           "42-things",
		"!!!":                 "",
	}
	for in, want := range cases {
		if got := SlugFromPrompt(in); got != want {
			t.Fatalf("SlugFromPrompt(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSearch_PromptDerivesCandidates(t *testing.T) {
	db := newTestDB(t)
	fp := &fakeProvider{quote: stdQuote(12)}
	svc := newSearchService(db, fp)

	resp, err := svc.Search(context.Background(), "u1", SearchRequest{
		Prompt: "AI chatbot",
		TLDs:   []string{"com", "io"},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("count: %d", resp.Count)
	}
	want := map[string]bool{"ai-chatbot.com": true, "ai-chatbot.io": true}
	for _, r := range resp.Results {
		if !want[r.Domain] {
			t.Fatalf("unexpected candidate %q", r.Domain)
		}
	}

	// The run is audited.
	var audits int64
	db.Table("audit_logs").Where("verb = ?", domain.AuditSearch).Count(&audits)
	if audits != 1 {
		t.Fatalf("audit rows: %d", audits)
	}
}

func TestSearch_DefaultTLDFallback(t *testing.T) {
	db := newTestDB(t)
	fp := &fakeProvider{quote: stdQuote(12)}
	svc := newSearchService(db, fp)

	resp, err := svc.Search(context.Background(), "", SearchRequest{Prompt: "widgets"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Count != len(defaultTLDs) {
		t.Fatalf("expected one candidate per default tld, got %d", resp.Count)
	}
}

func TestSearch_AllowlistDrivesTLDs(t *testing.T) {
	db := newTestDB(t)
	fp := &fakeProvider{quote: stdQuote(12)}
	svc := newSearchService(db, fp)
	svc.AllowlistTLDs = []string{"dev"}

	resp, err := svc.Search(context.Background(), "", SearchRequest{Prompt: "widgets"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Count != 1 || resp.Results[0].Domain != "widgets.dev" {
		t.Fatalf("allowlist must drive derivation: %+v", resp.Results)
	}
}

func TestSearch_ExactlyOneOfPromptOrCandidates(t *testing.T) {
	db := newTestDB(t)
	svc := newSearchService(db, &fakeProvider{})
	ctx := context.Background()

	if _, err := svc.Search(ctx, "", SearchRequest{}); err == nil {
		t.Fatal("neither prompt nor candidates must fail")
	}
	if _, err := svc.Search(ctx, "", SearchRequest{Prompt: "x", Candidates: []string{"x.com"}}); err == nil {
		t.Fatal("both prompt and candidates must fail")
	}
}

func TestSearch_AllCandidatesUnsafe(t *testing.T) {
	db := newTestDB(t)
	svc := newSearchService(db, &fakeProvider{})

	// Punycode homographs with include_unicode=false: every candidate is
	// refused, so the whole request fails with sampled reasons.
	_, err := svc.Search(context.Background(), "", SearchRequest{
		Candidates: []string{"xn--pple-43d.com", "xn--80ak6aa92e.com"},
	})
	if got := kindOf(t, err); got != KindUnsafeLabel {
		t.Fatalf("kind: %s", got)
	}
	if _, ok := err.(*Error).Details["sample_reasons"]; !ok {
		t.Fatalf("sample_reasons missing: %+v", err)
	}
}

func TestSearch_SafeSubsetProceeds(t *testing.T) {
	db := newTestDB(t)
	fp := &fakeProvider{quote: stdQuote(12)}
	svc := newSearchService(db, fp)

	resp, err := svc.Search(context.Background(), "", SearchRequest{
		Candidates: []string{"good.com", "xn--pple-43d.com"},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Count != 1 || resp.Results[0].Domain != "good.com" {
		t.Fatalf("safe subset must proceed: %+v", resp.Results)
	}
}

func TestSearch_PremiumAndPriceFilters(t *testing.T) {
	db := newTestDB(t)
	fp := &fakeProvider{availability: []registrar.Availability{
		{Domain: "cheap.com", Available: true, PriceUSD: 9.68},
		{Domain: "pricey.com", Available: true, PriceUSD: 99.00},
		{Domain: "premium.com", Available: true, PriceUSD: 500, Premium: true},
		{Domain: "taken.com", Available: false},
	}}
	svc := newSearchService(db, fp)
	ctx := context.Background()

	// Premium is dropped by default.
	resp, err := svc.Search(ctx, "", SearchRequest{
		Candidates: []string{"cheap.com", "pricey.com", "premium.com", "taken.com"},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("premium/unavailable must be dropped: %+v", resp.Results)
	}

	// Price ceiling filters; with include_premium the premium entry passes the
	// premium filter but the ceiling still drops it.
	ceiling := 50.0
	resp, err = svc.Search(ctx, "", SearchRequest{
		Candidates:     []string{"cheap.com", "pricey.com", "premium.com"},
		PriceCeiling:   &ceiling,
		IncludePremium: true,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Count != 1 || resp.Results[0].Domain != "cheap.com" {
		t.Fatalf("ceiling filter: %+v", resp.Results)
	}
}

func TestSearch_LimitTruncates(t *testing.T) {
	db := newTestDB(t)
	avail := make([]registrar.Availability, 30)
	for i := range avail {
		avail[i] = registrar.Availability{Domain: "c.com", Available: true, PriceUSD: 5}
	}
	cands := make([]string, 15)
	for i := range cands {
		cands[i] = "c.com"
	}
	fp := &fakeProvider{availability: avail}
	svc := newSearchService(db, fp)

	resp, err := svc.Search(context.Background(), "", SearchRequest{Candidates: cands, Limit: 3})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Count != 3 {
		t.Fatalf("limit must truncate, got %d", resp.Count)
	}
}

func TestSearch_TLDValidation(t *testing.T) {
	db := newTestDB(t)
	svc := newSearchService(db, &fakeProvider{})
	ctx := context.Background()

	if _, err := svc.Search(ctx, "", SearchRequest{Prompt: "x", TLDs: []string{"c0m"}}); err == nil {
		t.Fatal("numeric tld must be rejected")
	}
	long := make([]string, 11)
	for i := range long {
		long[i] = "com"
	}
	if _, err := svc.Search(ctx, "", SearchRequest{Prompt: "x", TLDs: long}); err == nil {
		t.Fatal("more than 10 tlds must be rejected")
	}
}

func TestSearch_AllowlistRejectsWholeRequestOnlyWhenAllDisallowed(t *testing.T) {
	db := newTestDB(t)
	fp := &fakeProvider{quote: stdQuote(12)}
	svc := newSearchService(db, fp)
	svc.AllowlistTLDs = []string{"com"}
	ctx := context.Background()

	// Mixed list: the .dev candidate is silently dropped.
	resp, err := svc.Search(ctx, "", SearchRequest{Candidates: []string{"a.com", "b.dev"}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Count != 1 || resp.Results[0].Domain != "a.com" {
		t.Fatalf("mixed allowlist: %+v", resp.Results)
	}

	// All disallowed: the request fails.
	if _, err := svc.Search(ctx, "", SearchRequest{Candidates: []string{"a.dev", "b.dev"}}); err == nil {
		t.Fatal("all-disallowed must fail")
	}
}
