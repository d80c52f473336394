// Package services – PurchaseService
//
// This file implements the purchase pipeline: the state machine that couples
// the durable idempotency ledger, the per-key mutex, the re-quote-then-commit
// price check, the spend ledger, and post-commit DNS application. The
// ordering is deliberate and load-bearing:
//
//	validate → label safety → per-txn cap → provisional quote → daily cap →
//	idempotency begin → mutex acquire → idempotency re-check → fresh quote → drift check →
//	register → persist → DNS → spend add → idempotency commit
//
// Any failure inside the guarded region clears the idempotency slot so the
// client may retry; the mutex is always released. A retry after a crash is
// safe because committed responses are replayed verbatim from the ledger.
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/winstonhq/go-domain-gateway/internal/domain"
	"github.com/winstonhq/go-domain-gateway/internal/keymutex"
	"github.com/winstonhq/go-domain-gateway/internal/labelsafe"
	"github.com/winstonhq/go-domain-gateway/internal/registrar"
	"github.com/winstonhq/go-domain-gateway/internal/repo"
)

// priceDriftToleranceUSD is the absolute gap allowed between the client's
// quoted total and the fresh server quote at commit time.
const priceDriftToleranceUSD = 0.50

// idemKeyPrefix namespaces purchase idempotency keys.
const idemKeyPrefix = "buy:"

// NameserverModeRegistrar keeps the registrar's nameservers and applies a DNS
// template; NameserverModeCustom delegates to caller-supplied nameservers.
const (
	NameserverModeRegistrar = "registrar"
	NameserverModeCustom    = "custom"
)

// BuyRequest is the validated input of one purchase attempt. Defaults are
// applied by Normalize before the pipeline runs.
type BuyRequest struct {
	Domain           string   `json:"domain"`
	Years            int      `json:"years"`
	WhoisPrivacy     *bool    `json:"whois_privacy"`
	AllowPremium     bool     `json:"allow_premium"`
	AllowUnicode     bool     `json:"allow_unicode"`
	NameserverMode   string   `json:"nameserver_mode"`
	Nameservers      []string `json:"nameservers"`
	DNSTemplateID    string   `json:"dns_template_id"`
	QuotedTotalUSD   float64  `json:"quoted_total_usd"`
	ConfirmationCode string   `json:"confirmation_code"`
	IdempotencyKey   string   `json:"idempotency_key"`
}

// BuyResponse is the committed purchase outcome. The marshalled form is what
// the idempotency ledger stores and replays.
type BuyResponse struct {
	OrderID         string  `json:"order_id"`
	ChargedTotalUSD float64 `json:"charged_total_usd"`
	Registrar       string  `json:"registrar"`
	NameserverMode  string  `json:"nameserver_mode"`
	DNSTemplateID   string  `json:"dns_template_id,omitempty"`
	DomainID        string  `json:"domain_id"`
}

// PurchaseService orchestrates domain purchases.
type PurchaseService struct {
	DB       *gorm.DB
	Provider registrar.Provider
	Locks    *keymutex.Mutex
	Contact  registrar.Contact
	Logger   zerolog.Logger

	AllowlistTLDs  []string
	MaxPerTxnUSD   float64
	MaxDailyUSD    float64
	IdempotencyTTL time.Duration
}

// Buy runs the full purchase pipeline for userID. On success (or on replay of
// a committed attempt) it returns the response body exactly as stored in the
// idempotency ledger.
func (s *PurchaseService) Buy(ctx context.Context, userID string, req BuyRequest) (json.RawMessage, error) {
	tr := otel.Tracer("services/PurchaseService")
	ctx, span := tr.Start(ctx, "Buy",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("domain.name", req.Domain),
		),
	)
	defer span.End()

	// Steps 1–2: normalize, allowlist, label safety.
	dom, serr := s.normalize(&req)
	if serr != nil {
		return nil, serr
	}

	// Step 3: per-transaction ceiling.
	if req.QuotedTotalUSD > s.MaxPerTxnUSD {
		return nil, E(KindSpendCapExceeded, "quoted total %.2f exceeds per-transaction cap %.2f",
			req.QuotedTotalUSD, s.MaxPerTxnUSD).
			With("max_per_txn_usd", s.MaxPerTxnUSD)
	}

	// Step 4: provisional quote to detect premium pricing early.
	prov, err := s.Provider.Quote(ctx, dom, req.Years, *req.WhoisPrivacy)
	if err != nil {
		return nil, quoteError(err)
	}
	if prov.Premium && !req.AllowPremium {
		return nil, E(KindPremiumNotAllowed, "%s is premium-priced; set allow_premium to proceed", dom).
			With("total_usd", prov.TotalUSD)
	}

	// Step 5: daily ceiling. The read may race a concurrent add; the worst
	// case is bounded by one extra transaction under MaxPerTxnUSD.
	today := time.Now().UTC()
	spent, err := repo.GetDailySpend(ctx, s.DB, userID, today)
	if err != nil {
		return nil, E(KindInternal, "spend ledger unavailable")
	}
	if spent+req.QuotedTotalUSD > s.MaxDailyUSD {
		remaining := repo.Round2(math.Max(0, s.MaxDailyUSD-spent))
		return nil, E(KindDailyCapExceeded, "purchase would exceed the daily cap of %.2f USD", s.MaxDailyUSD).
			With("remaining", remaining)
	}

	// Steps 6–7: digest and idempotency begin.
	digest := requestDigest(dom, req.Years, *req.WhoisPrivacy, req.QuotedTotalUSD)
	key := idemKeyPrefix + dom + ":" + req.IdempotencyKey

	if stored, serr := s.replay(ctx, key, digest); serr != nil || stored != nil {
		return stored, errOrNil(serr)
	}

	// Step 8: serialize concurrent duplicates on this instance.
	if err := s.Locks.Acquire(ctx, key); err != nil {
		return nil, E(KindInternal, "purchase serialization interrupted")
	}
	defer s.Locks.Release(key)

	// A duplicate may have committed while this request waited for the lock.
	if stored, serr := s.replay(ctx, key, digest); serr != nil || stored != nil {
		return stored, errOrNil(serr)
	}

	// Steps 9–10: the guarded region.
	resp, serr := s.guardedPurchase(ctx, userID, dom, key, digest, req)
	if serr != nil {
		if err := repo.FailIdempotency(ctx, s.DB, key); err != nil {
			s.Logger.Error().Str("key", key).Err(err).Msg("idempotency cleanup failed")
		}
		s.audit(ctx, userID, domain.AuditBuyFail, map[string]any{
			"domain":  dom,
			"error":   serr.Kind,
			"message": serr.Message,
		})
		purchaseOutcomes.WithLabelValues(s.Provider.Name(), "failed").Inc()
		return nil, serr
	}

	purchaseOutcomes.WithLabelValues(s.Provider.Name(), "committed").Inc()
	return resp, nil
}

// guardedPurchase performs re-quote, register, persist, DNS, spend, and
// commit. The caller owns idempotency cleanup and mutex release.
func (s *PurchaseService) guardedPurchase(ctx context.Context, userID, dom, key, digest string, req BuyRequest) (json.RawMessage, *Error) {
	// Fresh quote; guard against price drift since the client's quotation.
	quote, err := s.Provider.Quote(ctx, dom, req.Years, *req.WhoisPrivacy)
	if err != nil {
		return nil, quoteError(err)
	}
	drift := repo.Round2(math.Abs(quote.TotalUSD - req.QuotedTotalUSD))
	if drift > priceDriftToleranceUSD {
		return nil, E(KindPriceDrift, "server quote %.2f drifted from quoted total %.2f", quote.TotalUSD, req.QuotedTotalUSD).
			With("drift", drift).
			With("server_total_usd", quote.TotalUSD)
	}

	// Register upstream. This call must be treated as possibly-succeeded on
	// error, which is why the client's idempotency key is mandatory.
	reg, err := s.Provider.Register(ctx, registrar.RegisterRequest{
		Domain:  dom,
		Years:   req.Years,
		Privacy: *req.WhoisPrivacy,
		Contact: s.Contact,
	})
	if err != nil {
		if errors.Is(err, registrar.ErrHTTP) {
			return nil, E(KindValidation, "registrar rejected the registration: %v", err)
		}
		return nil, E(KindInternal, "registration failed: %v", err)
	}
	if !reg.Success {
		return nil, E(KindValidation, "registrar declined the registration: %s", reg.Message)
	}
	charged := repo.Round2(reg.ChargedTotalUSD)

	// Persist domain + purchase atomically.
	var domRow *domain.Domain
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := repo.UpsertDomain(ctx, tx, dom, userID, s.Provider.Name(), domain.DomainStatusPurchased, *req.WhoisPrivacy)
		if err != nil {
			return err
		}
		domRow = d
		_, err = repo.CreatePurchase(ctx, tx, userID, d.ID, s.Provider.Name(), reg.OrderID, req.Years, charged, quote.Premium)
		return err
	})
	if err != nil {
		if errors.Is(err, repo.ErrDuplicateOrder) {
			// Another instance won the cross-instance race on this order.
			return nil, E(KindValidation, "duplicate registration detected for order %s", reg.OrderID)
		}
		return nil, E(KindInternal, "failed to persist purchase")
	}

	// DNS provisioning.
	dnsTemplateID := ""
	if req.NameserverMode == NameserverModeCustom {
		if err := s.Provider.SetNameservers(ctx, dom, req.Nameservers); err != nil {
			return nil, dnsError(err)
		}
	} else {
		tmpl, ok := registrar.LookupTemplate(req.DNSTemplateID)
		if !ok {
			return nil, E(KindUnknownDNSTemplate, "unknown dns template %q", req.DNSTemplateID).
				With("known_templates", registrar.TemplateIDs())
		}
		dnsTemplateID = tmpl.ID
		if err := s.Provider.ApplyRecords(ctx, dom, tmpl.Records); err != nil {
			return nil, dnsError(err)
		}
		if err := repo.UpdateDomainStatus(ctx, s.DB, domRow.ID, domain.DomainStatusDNSApplied); err != nil {
			s.Logger.Warn().Str("domain", dom).Err(err).Msg("dns status update failed")
		}
	}

	// Spend ledger. The registration is already committed upstream: a ledger
	// failure here under-reports one transaction and is reconciled out of
	// band, never by failing the purchase.
	if err := repo.AddDailySpend(ctx, s.DB, userID, time.Now().UTC(), charged); err != nil {
		s.Logger.Error().Str("user", userID).Float64("usd", charged).Err(err).Msg("spend ledger add failed")
	}

	resp := BuyResponse{
		OrderID:         reg.OrderID,
		ChargedTotalUSD: charged,
		Registrar:       s.Provider.Name(),
		NameserverMode:  req.NameserverMode,
		DNSTemplateID:   dnsTemplateID,
		DomainID:        domRow.ID,
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return nil, E(KindInternal, "failed to encode response")
	}
	if err := repo.CommitIdempotency(ctx, s.DB, key, digest, string(body), s.IdempotencyTTL); err != nil {
		return nil, E(KindInternal, "failed to commit idempotency record")
	}

	s.audit(ctx, userID, domain.AuditBuySuccess, map[string]any{
		"domain":   dom,
		"order_id": reg.OrderID,
		"total":    charged,
	})
	return body, nil
}

// replay consults the idempotency ledger. It returns the stored response when
// the key is committed with a matching digest, an IdempotencyMismatch error
// when the digests diverge, and (nil, nil) when the slot is free.
func (s *PurchaseService) replay(ctx context.Context, key, digest string) (json.RawMessage, *Error) {
	rec, err := repo.BeginIdempotency(ctx, s.DB, key, time.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, E(KindInternal, "idempotency ledger unavailable")
	}
	if rec.Digest != digest {
		return nil, E(KindIdempotencyMismatch, "idempotency key was already used with different parameters")
	}
	purchaseOutcomes.WithLabelValues(s.Provider.Name(), "replayed").Inc()
	return json.RawMessage(rec.ResponseJSON), nil
}

// normalize applies defaults and validates every request field, returning the
// normalized domain name.
func (s *PurchaseService) normalize(req *BuyRequest) (string, *Error) {
	dom, serr := NormalizeDomain(req.Domain)
	if serr != nil {
		return "", serr
	}
	req.Domain = dom

	label, tld := SplitLabelTLD(dom)
	if !tldAllowed(s.AllowlistTLDs, tld) {
		return "", E(KindValidation, "tld .%s is not on the allowlist", tld)
	}

	if req.Years == 0 {
		req.Years = 1
	}
	if req.Years < 1 || req.Years > 10 {
		return "", E(KindValidation, "years must be between 1 and 10")
	}
	if req.WhoisPrivacy == nil {
		t := true
		req.WhoisPrivacy = &t
	}
	if req.QuotedTotalUSD <= 0 {
		return "", E(KindValidation, "quoted_total_usd must be positive")
	}
	if n := len(req.ConfirmationCode); n < 4 || n > 100 {
		return "", E(KindValidation, "confirmation_code must be between 4 and 100 characters")
	}
	if u, err := uuid.Parse(req.IdempotencyKey); err != nil || u.Version() != 4 {
		return "", E(KindValidation, "idempotency_key must be a UUIDv4")
	}
	req.IdempotencyKey = strings.ToLower(req.IdempotencyKey)

	switch req.NameserverMode {
	case "":
		req.NameserverMode = NameserverModeRegistrar
	case NameserverModeRegistrar, NameserverModeCustom:
	default:
		return "", E(KindValidation, "nameserver_mode must be %q or %q", NameserverModeRegistrar, NameserverModeCustom)
	}
	if req.NameserverMode == NameserverModeCustom {
		if n := len(req.Nameservers); n < 2 || n > 13 {
			return "", E(KindNameserversRequired, "custom nameserver_mode requires 2 to 13 nameservers")
		}
		req.DNSTemplateID = ""
	} else if req.DNSTemplateID == "" {
		req.DNSTemplateID = registrar.DefaultDNSTemplateID
	}

	if res := labelsafe.Check(label, req.AllowUnicode); !res.Safe {
		return "", labelError(res)
	}
	return dom, nil
}

// audit best-effort appends to the audit trail; pipeline outcomes never
// depend on it.
func (s *PurchaseService) audit(ctx context.Context, userID, verb string, payload map[string]any) {
	if err := repo.AppendAudit(ctx, s.DB, userID, verb, payload); err != nil {
		s.Logger.Warn().Str("verb", verb).Err(err).Msg("audit append failed")
	}
}

// requestDigest hashes the canonical JSON of the purchase parameters with
// lexicographically sorted keys. Two requests agree iff their digests agree.
func requestDigest(domain string, years int, privacy bool, quotedUSD float64) string {
	canonical := fmt.Sprintf(
		`{"domain":%q,"quoted_total_usd":%s,"whois_privacy":%t,"years":%d}`,
		domain,
		strconv.FormatFloat(quotedUSD, 'f', 2, 64),
		privacy,
		years,
	)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// quoteError classifies a driver quote failure.
func quoteError(err error) *Error {
	if errors.Is(err, registrar.ErrTLDNotSupported) {
		return E(KindValidation, "tld not supported by registrar")
	}
	return E(KindInternal, "registrar quote unavailable: %v", err)
}

// dnsError classifies a driver DNS failure inside the guarded region.
func dnsError(err error) *Error {
	if errors.Is(err, registrar.ErrInvalidNameserverCount) {
		return E(KindNameserversRequired, "%v", err)
	}
	return E(KindInternal, "dns provisioning failed: %v", err)
}

// errOrNil flattens a typed error for callers returning the error interface.
func errOrNil(serr *Error) error {
	if serr == nil {
		return nil
	}
	return serr
}
