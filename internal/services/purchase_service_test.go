package services

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/winstonhq/go-domain-gateway/internal/domain"
	"github.com/winstonhq/go-domain-gateway/internal/keymutex"
	"github.com/winstonhq/go-domain-gateway/internal/registrar"
	"github.com/winstonhq/go-domain-gateway/internal/repo"
	"gorm.io/gorm"
)

const testIdemKey = "550e8400-e29b-41d4-a716-446655440000"

func newPurchaseService(db *gorm.DB, fp *fakeProvider) *PurchaseService {
	return &PurchaseService{
		DB:             db,
		Provider:       fp,
		Locks:          keymutex.New(),
		Contact:        registrar.Contact{FirstName: "Ada", LastName: "Lovelace", Email: "ops@example.com", Country: "US"},
		Logger:         nopLogger(),
		MaxPerTxnUSD:   1000,
		MaxDailyUSD:    5000,
		IdempotencyTTL: time.Hour,
	}
}

func stdQuote(total float64) registrar.Quote {
	return registrar.Quote{
		RegistrationPriceUSD: total - 0.18,
		ICANNFeeUSD:          0.18,
		TotalUSD:             total,
	}
}

func buyReq() BuyRequest {
	return BuyRequest{
		Domain:           "example.com",
		Years:            1,
		QuotedTotalUSD:   12.00,
		ConfirmationCode: "abcd",
		IdempotencyKey:   testIdemKey,
	}
}

func kindOf(t *testing.T, err error) string {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	se, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *services.Error, got %T: %v", err, err)
	}
	return se.Kind
}

func TestBuy_Success(t *testing.T) {
	db := newTestDB(t)
	fp := &fakeProvider{quote: stdQuote(12.00)}
	svc := newPurchaseService(db, fp)
	ctx := context.Background()

	body, err := svc.Buy(ctx, "u1", buyReq())
	if err != nil {
		t.Fatalf("buy: %v", err)
	}

	var resp BuyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.OrderID != "ORD-1" || resp.ChargedTotalUSD != 12.00 || resp.Registrar != "porkbun" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.NameserverMode != NameserverModeRegistrar || resp.DNSTemplateID != "web-basic" {
		t.Fatalf("defaults not applied: %+v", resp)
	}

	// Domain moved through PURCHASED into DNS_APPLIED (template mode).
	d, err := repo.GetDomainByName(ctx, db, "example.com")
	if err != nil {
		t.Fatalf("domain row: %v", err)
	}
	if d.Status != domain.DomainStatusDNSApplied {
		t.Fatalf("domain status: %q", d.Status)
	}

	// Exactly one purchase, spend recorded, template applied once.
	var purchases int64
	db.Table("purchases").Count(&purchases)
	if purchases != 1 {
		t.Fatalf("purchase rows: %d", purchases)
	}
	if spent, _ := repo.GetDailySpend(ctx, db, "u1", time.Now()); spent != 12.00 {
		t.Fatalf("spend: %v", spent)
	}
	if len(fp.recordCalls) != 1 || len(fp.nsCalls) != 0 {
		t.Fatalf("dns calls: records=%d ns=%d", len(fp.recordCalls), len(fp.nsCalls))
	}

	// Success is audited.
	var audits int64
	db.Table("audit_logs").Where("verb = ?", domain.AuditBuySuccess).Count(&audits)
	if audits != 1 {
		t.Fatalf("audit rows: %d", audits)
	}
}

func TestBuy_IdempotentRetryReplaysVerbatim(t *testing.T) {
	db := newTestDB(t)
	fp := &fakeProvider{quote: stdQuote(12.00)}
	svc := newPurchaseService(db, fp)
	ctx := context.Background()

	first, err := svc.Buy(ctx, "u1", buyReq())
	if err != nil {
		t.Fatalf("first buy: %v", err)
	}
	second, err := svc.Buy(ctx, "u1", buyReq())
	if err != nil {
		t.Fatalf("retry: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Fatalf("replay must be byte-identical:\n%s\n%s", first, second)
	}
	if fp.registers() != 1 {
		t.Fatalf("register must run once, got %d", fp.registers())
	}

	var purchases int64
	db.Table("purchases").Count(&purchases)
	if purchases != 1 {
		t.Fatalf("purchase rows: %d", purchases)
	}
	if spent, _ := repo.GetDailySpend(ctx, db, "u1", time.Now()); spent != 12.00 {
		t.Fatalf("spend must be added once, got %v", spent)
	}
}

func TestBuy_DigestMismatchConflicts(t *testing.T) {
	db := newTestDB(t)
	fp := &fakeProvider{quote: stdQuote(12.00)}
	svc := newPurchaseService(db, fp)
	ctx := context.Background()

	if _, err := svc.Buy(ctx, "u1", buyReq()); err != nil {
		t.Fatalf("first buy: %v", err)
	}

	altered := buyReq()
	altered.Years = 2
	_, err := svc.Buy(ctx, "u1", altered)
	if got := kindOf(t, err); got != KindIdempotencyMismatch {
		t.Fatalf("kind: %s", got)
	}
	if fp.registers() != 1 {
		t.Fatalf("mismatch must not register, got %d calls", fp.registers())
	}
}

func TestBuy_PriceDrift(t *testing.T) {
	db := newTestDB(t)
	fp := &fakeProvider{quote: stdQuote(13.00)}
	svc := newPurchaseService(db, fp)

	req := buyReq() // quoted 12.00, server quotes 13.00
	_, err := svc.Buy(context.Background(), "u1", req)
	if got := kindOf(t, err); got != KindPriceDrift {
		t.Fatalf("kind: %s", got)
	}
	se := err.(*Error)
	if se.Details["drift"] != 1.00 {
		t.Fatalf("drift detail: %v", se.Details)
	}

	var purchases int64
	db.Table("purchases").Count(&purchases)
	if purchases != 0 {
		t.Fatalf("drift must not create purchases, got %d", purchases)
	}
	if fp.registers() != 0 {
		t.Fatalf("drift must abort before register, got %d", fp.registers())
	}
}

func TestBuy_DriftWithinToleranceProceeds(t *testing.T) {
	db := newTestDB(t)
	fp := &fakeProvider{quote: stdQuote(12.50)}
	svc := newPurchaseService(db, fp)

	if _, err := svc.Buy(context.Background(), "u1", buyReq()); err != nil {
		t.Fatalf("0.50 drift is within tolerance: %v", err)
	}
}

func TestBuy_DailyCapExceeded(t *testing.T) {
	db := newTestDB(t)
	fp := &fakeProvider{quote: stdQuote(20.00)}
	svc := newPurchaseService(db, fp)
	ctx := context.Background()

	if err := repo.AddDailySpend(ctx, db, "u1", time.Now().UTC(), 4990); err != nil {
		t.Fatalf("seed spend: %v", err)
	}

	req := buyReq()
	req.QuotedTotalUSD = 20.00
	_, err := svc.Buy(ctx, "u1", req)
	if got := kindOf(t, err); got != KindDailyCapExceeded {
		t.Fatalf("kind: %s", got)
	}
	if remaining := err.(*Error).Details["remaining"]; remaining != 10.00 {
		t.Fatalf("remaining detail: %v", remaining)
	}
}

func TestBuy_PerTxnCapExceeded(t *testing.T) {
	db := newTestDB(t)
	fp := &fakeProvider{quote: stdQuote(1500)}
	svc := newPurchaseService(db, fp)

	req := buyReq()
	req.QuotedTotalUSD = 1500
	_, err := svc.Buy(context.Background(), "u1", req)
	if got := kindOf(t, err); got != KindSpendCapExceeded {
		t.Fatalf("kind: %s", got)
	}
	if fp.registers() != 0 {
		t.Fatal("cap check must run before any registrar call")
	}
}

func TestBuy_PremiumGate(t *testing.T) {
	db := newTestDB(t)
	q := stdQuote(350)
	q.Premium = true
	fp := &fakeProvider{quote: q}
	svc := newPurchaseService(db, fp)

	req := buyReq()
	req.QuotedTotalUSD = 350
	_, err := svc.Buy(context.Background(), "u1", req)
	if got := kindOf(t, err); got != KindPremiumNotAllowed {
		t.Fatalf("kind: %s", got)
	}

	req.AllowPremium = true
	if _, err := svc.Buy(context.Background(), "u1", req); err != nil {
		t.Fatalf("allow_premium must unlock the purchase: %v", err)
	}
}

func TestBuy_UnsafeLabelRejected(t *testing.T) {
	db := newTestDB(t)
	fp := &fakeProvider{quote: stdQuote(12)}
	svc := newPurchaseService(db, fp)

	req := buyReq()
	req.Domain = "аpple.com" // Cyrillic а
	_, err := svc.Buy(context.Background(), "u1", req)
	if got := kindOf(t, err); got != KindValidation {
		// The raw Cyrillic character fails the domain regex before the label
		// filter even runs.
		t.Fatalf("kind: %s", got)
	}

	req.Domain = "xn--pple-43d.com" // punycode of аpple
	_, err = svc.Buy(context.Background(), "u1", req)
	if got := kindOf(t, err); got != KindNonASCIINotAllowed {
		t.Fatalf("kind: %s", got)
	}
}

func TestBuy_TLDAllowlist(t *testing.T) {
	db := newTestDB(t)
	fp := &fakeProvider{quote: stdQuote(12)}
	svc := newPurchaseService(db, fp)
	svc.AllowlistTLDs = []string{"com", "io"}

	req := buyReq()
	req.Domain = "example.dev"
	_, err := svc.Buy(context.Background(), "u1", req)
	if got := kindOf(t, err); got != KindValidation {
		t.Fatalf("kind: %s", got)
	}
}

func TestBuy_CustomNameservers(t *testing.T) {
	db := newTestDB(t)
	fp := &fakeProvider{quote: stdQuote(12)}
	svc := newPurchaseService(db, fp)
	ctx := context.Background()

	req := buyReq()
	req.NameserverMode = NameserverModeCustom
	req.Nameservers = []string{"ns1.custom.net", "ns2.custom.net"}

	body, err := svc.Buy(ctx, "u1", req)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	var resp BuyResponse
	_ = json.Unmarshal(body, &resp)
	if resp.DNSTemplateID != "" {
		t.Fatalf("custom mode must not report a template: %+v", resp)
	}
	if len(fp.nsCalls) != 1 || len(fp.recordCalls) != 0 {
		t.Fatalf("dns calls: ns=%d records=%d", len(fp.nsCalls), len(fp.recordCalls))
	}

	// No DNS template ran, so the domain stays PURCHASED.
	d, _ := repo.GetDomainByName(ctx, db, "example.com")
	if d.Status != domain.DomainStatusPurchased {
		t.Fatalf("status: %q", d.Status)
	}
}

func TestBuy_CustomModeRequiresNameservers(t *testing.T) {
	db := newTestDB(t)
	fp := &fakeProvider{quote: stdQuote(12)}
	svc := newPurchaseService(db, fp)

	req := buyReq()
	req.NameserverMode = NameserverModeCustom
	_, err := svc.Buy(context.Background(), "u1", req)
	if got := kindOf(t, err); got != KindNameserversRequired {
		t.Fatalf("kind: %s", got)
	}
}

func TestBuy_UnknownTemplateFailsAndClearsSlot(t *testing.T) {
	db := newTestDB(t)
	fp := &fakeProvider{quote: stdQuote(12)}
	svc := newPurchaseService(db, fp)
	ctx := context.Background()

	req := buyReq()
	req.DNSTemplateID = "no-such-template"
	_, err := svc.Buy(ctx, "u1", req)
	if got := kindOf(t, err); got != KindUnknownDNSTemplate {
		t.Fatalf("kind: %s", got)
	}

	// The failure is audited and the idempotency slot is free for a retry.
	var audits int64
	db.Table("audit_logs").Where("verb = ?", domain.AuditBuyFail).Count(&audits)
	if audits != 1 {
		t.Fatalf("audit rows: %d", audits)
	}
	var idem int64
	db.Table("idempotency_keys").Count(&idem)
	if idem != 0 {
		t.Fatalf("idempotency slot must be cleared, got %d rows", idem)
	}
}

func TestBuy_RegistrarDeclineIsValidationError(t *testing.T) {
	db := newTestDB(t)
	fp := &fakeProvider{quote: stdQuote(12), registerDecline: true}
	svc := newPurchaseService(db, fp)

	_, err := svc.Buy(context.Background(), "u1", buyReq())
	if got := kindOf(t, err); got != KindValidation {
		t.Fatalf("kind: %s", got)
	}
	var purchases int64
	db.Table("purchases").Count(&purchases)
	if purchases != 0 {
		t.Fatalf("declined register must not persist purchases: %d", purchases)
	}
}

func TestBuy_InputValidation(t *testing.T) {
	db := newTestDB(t)
	fp := &fakeProvider{quote: stdQuote(12)}
	svc := newPurchaseService(db, fp)
	ctx := context.Background()

	mutate := []func(*BuyRequest){
		func(r *BuyRequest) { r.Domain = "not a domain" },
		func(r *BuyRequest) { r.Years = 11 },
		func(r *BuyRequest) { r.QuotedTotalUSD = 0 },
		func(r *BuyRequest) { r.ConfirmationCode = "abc" },
		func(r *BuyRequest) { r.ConfirmationCode = strings.Repeat("x", 101) },
		func(r *BuyRequest) { r.IdempotencyKey = "not-a-uuid" },
		func(r *BuyRequest) { r.NameserverMode = "manual" },
	}
	for i, m := range mutate {
		req := buyReq()
		m(&req)
		_, err := svc.Buy(ctx, "u1", req)
		if err == nil {
			t.Fatalf("case %d: expected validation failure", i)
		}
		if kind := err.(*Error).Kind; kind != KindValidation {
			t.Fatalf("case %d: kind %s", i, kind)
		}
	}

	// Defaults: years=1, privacy=true are applied, not rejected.
	req := buyReq()
	req.Years = 0
	req.WhoisPrivacy = nil
	if _, err := svc.Buy(ctx, "u1", req); err != nil {
		t.Fatalf("defaults must apply: %v", err)
	}
}

func TestBuy_ConcurrentDuplicatesRegisterOnce(t *testing.T) {
	db := newTestDB(t)
	fp := &fakeProvider{quote: stdQuote(12)}
	svc := newPurchaseService(db, fp)

	const callers = 8
	bodies := make([][]byte, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bodies[i], errs[i] = svc.Buy(context.Background(), "u1", buyReq())
		}()
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if !bytes.Equal(bodies[i], bodies[0]) {
			t.Fatalf("caller %d observed a different body", i)
		}
	}
	if fp.registers() != 1 {
		t.Fatalf("register must run exactly once, got %d", fp.registers())
	}
	var purchases int64
	db.Table("purchases").Count(&purchases)
	if purchases != 1 {
		t.Fatalf("purchase rows: %d", purchases)
	}
}

func TestRequestDigest_Stability(t *testing.T) {
	a := requestDigest("example.com", 1, true, 12.00)
	b := requestDigest("example.com", 1, true, 12.004) // rounds to the same cents
	if a != b {
		t.Fatal("digest must be stable across equal-cent quotes")
	}
	if a == requestDigest("example.com", 2, true, 12.00) {
		t.Fatal("digest must change with years")
	}
	if a == requestDigest("example.com", 1, false, 12.00) {
		t.Fatal("digest must change with privacy")
	}
	if a == requestDigest("other.com", 1, true, 12.00) {
		t.Fatal("digest must change with domain")
	}
}
