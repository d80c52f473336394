// Porkbun driver: JSON bodies over POST against api.porkbun.com. Credentials
// ride in every request body. In dry-run mode (the default), Register,
// SetNameservers, and ApplyRecords never reach the network and synthesize
// success instead.
package registrar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultPorkbunBaseURL is the production API root.
const DefaultPorkbunBaseURL = "https://api.porkbun.com/api/json/v3"

// dryRunOrderPrefix distinguishes synthesized orders from real ones.
const dryRunOrderPrefix = "PB-DRYRUN-"

// PorkbunOptions configures a Porkbun driver.
type PorkbunOptions struct {
	APIKey    string
	SecretKey string
	BaseURL   string       // defaults to DefaultPorkbunBaseURL
	DryRun    bool         // simulate mutating calls
	Client    *http.Client // defaults to a 15s-timeout client
	Logger    zerolog.Logger
}

// Porkbun implements Provider over the Porkbun JSON API.
type Porkbun struct {
	apiKey    string
	secretKey string
	baseURL   string
	dryRun    bool
	client    *http.Client
	cache     *pricingCache
	lg        zerolog.Logger
}

// NewPorkbun builds a Porkbun driver.
func NewPorkbun(opts PorkbunOptions) *Porkbun {
	base := opts.BaseURL
	if base == "" {
		base = DefaultPorkbunBaseURL
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Porkbun{
		apiKey:    opts.APIKey,
		secretKey: opts.SecretKey,
		baseURL:   strings.TrimRight(base, "/"),
		dryRun:    opts.DryRun,
		client:    client,
		cache:     newPricingCache(),
		lg:        opts.Logger,
	}
}

// Name implements Provider.
func (p *Porkbun) Name() string { return "porkbun" }

// DryRun reports whether mutating calls are simulated.
func (p *Porkbun) DryRun() bool { return p.dryRun }

// ---- wire types ----

// pbEnvelope is the common response header.
type pbEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type pbCheckResponse struct {
	pbEnvelope
	Response struct {
		Avail   string `json:"avail"`
		Price   string `json:"price"`
		Premium string `json:"premium"`
	} `json:"response"`
}

type pbPricingResponse struct {
	pbEnvelope
	Pricing map[string]struct {
		Registration string `json:"registration"`
		Renewal      string `json:"renewal"`
		Privacy      string `json:"privacy,omitempty"`
		Premium      string `json:"premium,omitempty"`
	} `json:"pricing"`
}

type pbCreateResponse struct {
	pbEnvelope
	OrderID string `json:"orderId"`
	Total   string `json:"total"`
}

type pbDomainInfoResponse struct {
	pbEnvelope
	Domain struct {
		Status     string `json:"status"`
		ExpireDate string `json:"expireDate"`
	} `json:"domain"`
}

// post issues one JSON POST under the shared retry policy and decodes the
// response into out. The credential pair is merged into every body.
func (p *Porkbun) post(ctx context.Context, path string, body map[string]any, out interface{ envelope() (string, string) }) error {
	if body == nil {
		body = map[string]any{}
	}
	body["apikey"] = p.apiKey
	body["secretapikey"] = p.secretKey

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}

	op := pathOp(path)
	return withRetries(ctx, p.lg, op, func() (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrNetwork, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			upstreamRetries.WithLabelValues(p.Name(), op).Inc()
			return true, fmt.Errorf("%w: %v", ErrNetwork, err)
		}
		defer resp.Body.Close()

		if retryable, herr := classifyStatus(resp.StatusCode); herr != nil {
			if retryable {
				upstreamRetries.WithLabelValues(p.Name(), op).Inc()
			}
			return retryable, herr
		}

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return true, fmt.Errorf("%w: %v", ErrNetwork, err)
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return false, fmt.Errorf("%w: %v", ErrParse, err)
		}
		if status, msg := out.envelope(); !strings.EqualFold(status, "SUCCESS") {
			return false, fmt.Errorf("%w: %s", ErrHTTP, msg)
		}
		return false, nil
	})
}

func (e *pbEnvelope) envelope() (string, string) { return e.Status, e.Message }

// CheckAvailability fans out one check per domain with bounded concurrency.
// Per-domain failures degrade to unavailable entries instead of failing the
// whole batch.
func (p *Porkbun) CheckAvailability(ctx context.Context, domains []string) ([]Availability, error) {
	out := make([]Availability, len(domains))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(availabilityConcurrency)

	for i, d := range domains {
		g.Go(func() error {
			var resp pbCheckResponse
			err := p.post(gctx, "/domain/checkDomain/"+d, nil, &resp)
			observe(p.Name(), "checkAvailability", err)
			if err != nil {
				p.lg.Warn().Str("domain", d).Err(err).Msg("availability check failed")
				out[i] = Availability{Domain: d, Available: false}
				return nil
			}
			out[i] = Availability{
				Domain:    d,
				Available: strings.EqualFold(resp.Response.Avail, "yes"),
				PriceUSD:  parseUSD(resp.Response.Price),
				Premium:   strings.EqualFold(resp.Response.Premium, "yes"),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Quote prices a registration from the per-TLD pricing table, cached for
// pricingTTL.
func (p *Porkbun) Quote(ctx context.Context, domain string, years int, privacy bool) (*Quote, error) {
	_, tld, err := splitDomain(domain)
	if err != nil {
		return nil, err
	}
	pricing, err := p.tldPricing(ctx, tld)
	if err != nil {
		return nil, err
	}
	return buildQuote(pricing.Price, pricing.PrivacyPrice, years, privacy, pricing.Premium), nil
}

// tldPricing serves from the cache, refreshing the whole table on a miss.
func (p *Porkbun) tldPricing(ctx context.Context, tld string) (tldPricing, error) {
	if e, ok := p.cache.get(tld); ok {
		return e, nil
	}

	var resp pbPricingResponse
	err := p.post(ctx, "/pricing/get", nil, &resp)
	observe(p.Name(), "pricing", err)
	if err != nil {
		return tldPricing{}, err
	}
	for t, row := range resp.Pricing {
		p.cache.put(t, tldPricing{
			Price:        parseUSD(row.Registration),
			Premium:      strings.EqualFold(row.Premium, "yes"),
			PrivacyPrice: parseUSD(row.Privacy),
		})
	}
	e, ok := p.cache.get(tld)
	if !ok {
		return tldPricing{}, fmt.Errorf("%w: %s", ErrTLDNotSupported, tld)
	}
	return e, nil
}

// Register places (or, in dry-run, simulates) a registration order.
func (p *Porkbun) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if p.dryRun {
		q, err := p.Quote(ctx, req.Domain, req.Years, req.Privacy)
		if err != nil {
			return nil, err
		}
		p.lg.Info().Str("domain", req.Domain).Msg("dry run: register simulated")
		return &RegisterResult{
			OrderID:         dryRunOrderPrefix + uuid.NewString(),
			ChargedTotalUSD: q.TotalUSD,
			Success:         true,
			Message:         "dry run",
		}, nil
	}

	body := map[string]any{
		"years":        req.Years,
		"whoisPrivacy": boolYN(req.Privacy),
		"registrant": map[string]string{
			"firstName": req.Contact.FirstName,
			"lastName":  req.Contact.LastName,
			"email":     req.Contact.Email,
			"phone":     req.Contact.Phone,
			"address":   req.Contact.Address,
			"city":      req.Contact.City,
			"state":     req.Contact.State,
			"zip":       req.Contact.Zip,
			"country":   req.Contact.Country,
		},
	}
	var resp pbCreateResponse
	err := p.post(ctx, "/domain/create/"+req.Domain, body, &resp)
	observe(p.Name(), "register", err)
	if err != nil {
		return nil, err
	}
	return &RegisterResult{
		OrderID:         resp.OrderID,
		ChargedTotalUSD: parseUSD(resp.Total),
		Success:         true,
	}, nil
}

// Status projects the registrar-side domain state.
func (p *Porkbun) Status(ctx context.Context, domain string) (*StatusResult, error) {
	var resp pbDomainInfoResponse
	err := p.post(ctx, "/domain/getDomain/"+domain, nil, &resp)
	observe(p.Name(), "status", err)
	if err != nil {
		// An API-level NOT FOUND is a projection, not a failure.
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return &StatusResult{State: StateNotFound}, nil
		}
		return nil, err
	}
	state := StateError
	switch strings.ToUpper(resp.Domain.Status) {
	case "ACTIVE":
		state = StateActive
	case "PENDING":
		state = StatePending
	case "EXPIRED":
		state = StateExpired
	}
	return &StatusResult{
		State:   state,
		Details: map[string]any{"expire_date": resp.Domain.ExpireDate},
	}, nil
}

// SetNameservers replaces the delegation set for domain.
func (p *Porkbun) SetNameservers(ctx context.Context, domain string, ns []string) error {
	if err := validateNameservers(ns); err != nil {
		return err
	}
	if p.dryRun {
		p.lg.Info().Str("domain", domain).Strs("ns", ns).Msg("dry run: nameserver update simulated")
		return nil
	}
	var resp pbEnvelope
	err := p.post(ctx, "/domain/updateNs/"+domain, map[string]any{"ns": ns}, &resp)
	observe(p.Name(), "setNameservers", err)
	return err
}

// ApplyRecords creates each record in order. A mix of successes and failures
// is reported as ErrDNSApplyPartialFailure so callers know the zone is in a
// half-applied state.
func (p *Porkbun) ApplyRecords(ctx context.Context, domain string, records []Record) error {
	if p.dryRun {
		p.lg.Info().Str("domain", domain).Int("records", len(records)).Msg("dry run: dns apply simulated")
		return nil
	}

	var applied int
	var firstErr error
	for _, r := range records {
		body := map[string]any{
			"type":    r.Type,
			"name":    recordName(r.Name, domain),
			"content": recordValue(r.Value, domain),
			"ttl":     strconv.Itoa(r.TTL),
		}
		if r.Prio > 0 {
			body["prio"] = strconv.Itoa(r.Prio)
		}
		var resp pbEnvelope
		err := p.post(ctx, "/dns/create/"+domain, body, &resp)
		observe(p.Name(), "applyRecords", err)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		applied++
	}

	switch {
	case firstErr == nil:
		return nil
	case applied == 0:
		return firstErr
	default:
		return fmt.Errorf("%w: %d/%d applied: %v", ErrDNSApplyPartialFailure, applied, len(records), firstErr)
	}
}

// ---- helpers ----

// recordName resolves the template "@" apex marker to the empty host porkbun
// expects.
func recordName(name, domain string) string {
	if name == "@" {
		return ""
	}
	return name
}

// recordValue resolves a template "@" value to the domain itself (used by
// CNAME www → apex).
func recordValue(value, domain string) string {
	if value == "@" {
		return domain
	}
	return value
}

func parseUSD(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return round2(v)
}

func boolYN(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// pathOp trims identifiers off an API path to keep log/metric labels bounded.
func pathOp(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	if len(parts) >= 2 {
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}
