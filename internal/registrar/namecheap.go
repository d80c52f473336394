// Namecheap driver: XML responses over GET against api.namecheap.com. All
// parameters (credentials included) ride in the query string; bulk
// availability is chunked into comma-separated batches fanned out under the
// shared concurrency cap.
package registrar

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultNamecheapBaseURL is the production API endpoint.
const DefaultNamecheapBaseURL = "https://api.namecheap.com/xml.response"

// ncDryRunOrderPrefix distinguishes synthesized orders from real ones.
const ncDryRunOrderPrefix = "NC-DRYRUN-"

// ncCheckBatchSize caps how many domains ride in one domains.check call.
const ncCheckBatchSize = 10

// NamecheapOptions configures a Namecheap driver.
type NamecheapOptions struct {
	APIUser  string
	APIKey   string
	Username string
	ClientIP string
	BaseURL  string       // defaults to DefaultNamecheapBaseURL
	DryRun   bool         // simulate mutating calls
	Client   *http.Client // defaults to a 15s-timeout client
	Logger   zerolog.Logger
}

// Namecheap implements Provider over the Namecheap XML API.
type Namecheap struct {
	apiUser  string
	apiKey   string
	username string
	clientIP string
	baseURL  string
	dryRun   bool
	client   *http.Client
	cache    *pricingCache
	lg       zerolog.Logger
}

// NewNamecheap builds a Namecheap driver.
func NewNamecheap(opts NamecheapOptions) *Namecheap {
	base := opts.BaseURL
	if base == "" {
		base = DefaultNamecheapBaseURL
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Namecheap{
		apiUser:  opts.APIUser,
		apiKey:   opts.APIKey,
		username: opts.Username,
		clientIP: opts.ClientIP,
		baseURL:  base,
		dryRun:   opts.DryRun,
		client:   client,
		cache:    newPricingCache(),
		lg:       opts.Logger,
	}
}

// Name implements Provider.
func (n *Namecheap) Name() string { return "namecheap" }

// DryRun reports whether mutating calls are simulated.
func (n *Namecheap) DryRun() bool { return n.dryRun }

// ---- wire types ----

type ncAPIResponse struct {
	XMLName xml.Name `xml:"ApiResponse"`
	Status  string   `xml:"Status,attr"`
	Errors  struct {
		Error []struct {
			Number string `xml:"Number,attr"`
			Text   string `xml:",chardata"`
		} `xml:"Error"`
	} `xml:"Errors"`
	CommandResponse struct {
		DomainCheckResult []struct {
			Domain                   string `xml:"Domain,attr"`
			Available                string `xml:"Available,attr"`
			IsPremiumName            string `xml:"IsPremiumName,attr"`
			PremiumRegistrationPrice string `xml:"PremiumRegistrationPrice,attr"`
		} `xml:"DomainCheckResult"`
		DomainCreateResult struct {
			Domain        string `xml:"Domain,attr"`
			Registered    string `xml:"Registered,attr"`
			ChargedAmount string `xml:"ChargedAmount,attr"`
			TransactionID string `xml:"TransactionID,attr"`
			OrderID       string `xml:"OrderID,attr"`
		} `xml:"DomainCreateResult"`
		DomainGetInfoResult struct {
			Status    string `xml:"Status,attr"`
			IsOurDNS  string `xml:"IsOurDNS,attr"`
			DomainDet struct {
				ExpiredDate string `xml:"ExpiredDate"`
			} `xml:"DomainDetails"`
		} `xml:"DomainGetInfoResult"`
		DomainDNSSetCustomResult struct {
			Updated string `xml:"Updated,attr"`
		} `xml:"DomainDNSSetCustomResult"`
		DomainDNSSetHostsResult struct {
			IsSuccess string `xml:"IsSuccess,attr"`
		} `xml:"DomainDNSSetHostsResult"`
		UserGetPricingResult struct {
			ProductType []struct {
				Name            string `xml:"Name,attr"`
				ProductCategory []struct {
					Name    string `xml:"Name,attr"`
					Product []struct {
						Name  string `xml:"Name,attr"`
						Price []struct {
							Duration string `xml:"Duration,attr"`
							Price    string `xml:"Price,attr"`
						} `xml:"Price"`
					} `xml:"Product"`
				} `xml:"ProductCategory"`
			} `xml:"ProductType"`
		} `xml:"UserGetPricingResult"`
	} `xml:"CommandResponse"`
}

// get issues one command under the shared retry policy and decodes the XML
// response. API-level errors (Status="ERROR") are not retried.
func (n *Namecheap) get(ctx context.Context, command string, params url.Values) (*ncAPIResponse, error) {
	q := url.Values{}
	q.Set("ApiUser", n.apiUser)
	q.Set("ApiKey", n.apiKey)
	q.Set("UserName", n.username)
	q.Set("ClientIp", n.clientIP)
	q.Set("Command", command)
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}

	var decoded ncAPIResponse
	err := withRetries(ctx, n.lg, command, func() (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"?"+q.Encode(), nil)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrNetwork, err)
		}
		resp, err := n.client.Do(req)
		if err != nil {
			upstreamRetries.WithLabelValues(n.Name(), command).Inc()
			return true, fmt.Errorf("%w: %v", ErrNetwork, err)
		}
		defer resp.Body.Close()

		if retryable, herr := classifyStatus(resp.StatusCode); herr != nil {
			if retryable {
				upstreamRetries.WithLabelValues(n.Name(), command).Inc()
			}
			return retryable, herr
		}

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return true, fmt.Errorf("%w: %v", ErrNetwork, err)
		}
		decoded = ncAPIResponse{}
		if err := xml.Unmarshal(raw, &decoded); err != nil {
			return false, fmt.Errorf("%w: %v", ErrParse, err)
		}
		if strings.EqualFold(decoded.Status, "ERROR") {
			msg := "api error"
			if len(decoded.Errors.Error) > 0 {
				msg = strings.TrimSpace(decoded.Errors.Error[0].Text)
			}
			return false, fmt.Errorf("%w: %s", ErrHTTP, msg)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return &decoded, nil
}

// CheckAvailability batches domains into comma-separated check calls and fans
// the batches out with bounded concurrency.
func (n *Namecheap) CheckAvailability(ctx context.Context, domains []string) ([]Availability, error) {
	byDomain := make(map[string]*Availability, len(domains))
	out := make([]Availability, len(domains))
	for i, d := range domains {
		out[i] = Availability{Domain: d}
		byDomain[strings.ToLower(d)] = &out[i]
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(availabilityConcurrency)
	for start := 0; start < len(domains); start += ncCheckBatchSize {
		batch := domains[start:min(start+ncCheckBatchSize, len(domains))]
		g.Go(func() error {
			params := url.Values{"DomainList": {strings.Join(batch, ",")}}
			resp, err := n.get(gctx, "namecheap.domains.check", params)
			observe(n.Name(), "checkAvailability", err)
			if err != nil {
				n.lg.Warn().Strs("batch", batch).Err(err).Msg("availability batch failed")
				return nil
			}
			for _, r := range resp.CommandResponse.DomainCheckResult {
				entry, ok := byDomain[strings.ToLower(r.Domain)]
				if !ok {
					continue
				}
				entry.Available = strings.EqualFold(r.Available, "true")
				entry.Premium = strings.EqualFold(r.IsPremiumName, "true")
				if entry.Premium {
					entry.PriceUSD = parseUSD(r.PremiumRegistrationPrice)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Fill standard prices from TLD pricing for non-premium availables.
	for i := range out {
		if out[i].Available && !out[i].Premium {
			if _, tld, err := splitDomain(out[i].Domain); err == nil {
				if p, err := n.tldPricing(ctx, tld); err == nil {
					out[i].PriceUSD = p.Price
				}
			}
		}
	}
	return out, nil
}

// Quote prices a registration from the cached per-TLD pricing table.
func (n *Namecheap) Quote(ctx context.Context, domain string, years int, privacy bool) (*Quote, error) {
	_, tld, err := splitDomain(domain)
	if err != nil {
		return nil, err
	}
	pricing, err := n.tldPricing(ctx, tld)
	if err != nil {
		return nil, err
	}
	return buildQuote(pricing.Price, pricing.PrivacyPrice, years, privacy, pricing.Premium), nil
}

// tldPricing serves one TLD from the cache, fetching the register pricing for
// that TLD on a miss. Whois privacy is free on this registrar.
func (n *Namecheap) tldPricing(ctx context.Context, tld string) (tldPricing, error) {
	if e, ok := n.cache.get(tld); ok {
		return e, nil
	}

	params := url.Values{
		"ProductType":     {"DOMAIN"},
		"ProductCategory": {"REGISTER"},
		"ProductName":     {strings.ToUpper(tld)},
	}
	resp, err := n.get(ctx, "namecheap.users.getPricing", params)
	observe(n.Name(), "pricing", err)
	if err != nil {
		return tldPricing{}, err
	}

	var price float64
	found := false
	for _, pt := range resp.CommandResponse.UserGetPricingResult.ProductType {
		for _, cat := range pt.ProductCategory {
			for _, prod := range cat.Product {
				if !strings.EqualFold(prod.Name, tld) {
					continue
				}
				for _, p := range prod.Price {
					if p.Duration == "" || p.Duration == "1" {
						price = parseUSD(p.Price)
						found = true
					}
				}
			}
		}
	}
	if !found {
		return tldPricing{}, fmt.Errorf("%w: %s", ErrTLDNotSupported, tld)
	}
	entry := tldPricing{Price: price}
	n.cache.put(tld, entry)
	return entry, nil
}

// Register places (or, in dry-run, simulates) a registration order.
func (n *Namecheap) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if n.dryRun {
		q, err := n.Quote(ctx, req.Domain, req.Years, req.Privacy)
		if err != nil {
			return nil, err
		}
		n.lg.Info().Str("domain", req.Domain).Msg("dry run: register simulated")
		return &RegisterResult{
			OrderID:         ncDryRunOrderPrefix + uuid.NewString(),
			ChargedTotalUSD: q.TotalUSD,
			Success:         true,
			Message:         "dry run",
		}, nil
	}

	params := url.Values{
		"DomainName": {req.Domain},
		"Years":      {strconv.Itoa(req.Years)},
		"AddFreeWhoisguard": {boolTF(req.Privacy)},
		"WGEnabled":         {boolTF(req.Privacy)},
	}
	addContact(params, "Registrant", req.Contact)
	addContact(params, "Tech", req.Contact)
	addContact(params, "Admin", req.Contact)
	addContact(params, "AuxBilling", req.Contact)

	resp, err := n.get(ctx, "namecheap.domains.create", params)
	observe(n.Name(), "register", err)
	if err != nil {
		return nil, err
	}
	created := resp.CommandResponse.DomainCreateResult
	res := &RegisterResult{
		OrderID:         created.OrderID,
		ChargedTotalUSD: parseUSD(created.ChargedAmount),
		Success:         strings.EqualFold(created.Registered, "true"),
	}
	if res.OrderID == "" {
		res.OrderID = created.TransactionID
	}
	if !res.Success {
		res.Message = "registrar declined registration"
	}
	return res, nil
}

// Status projects the registrar-side domain state.
func (n *Namecheap) Status(ctx context.Context, domain string) (*StatusResult, error) {
	resp, err := n.get(ctx, "namecheap.domains.getInfo", url.Values{"DomainName": {domain}})
	observe(n.Name(), "status", err)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return &StatusResult{State: StateNotFound}, nil
		}
		return nil, err
	}
	info := resp.CommandResponse.DomainGetInfoResult
	state := StateError
	switch strings.ToUpper(info.Status) {
	case "OK", "ACTIVE":
		state = StateActive
	case "LOCKED", "PENDING":
		state = StatePending
	case "EXPIRED":
		state = StateExpired
	}
	return &StatusResult{
		State:   state,
		Details: map[string]any{"expired_date": info.DomainDet.ExpiredDate},
	}, nil
}

// SetNameservers replaces the delegation set for domain.
func (n *Namecheap) SetNameservers(ctx context.Context, domain string, ns []string) error {
	if err := validateNameservers(ns); err != nil {
		return err
	}
	if n.dryRun {
		n.lg.Info().Str("domain", domain).Strs("ns", ns).Msg("dry run: nameserver update simulated")
		return nil
	}
	label, tld, err := splitDomain(domain)
	if err != nil {
		return err
	}
	params := url.Values{
		"SLD":         {label},
		"TLD":         {tld},
		"Nameservers": {strings.Join(ns, ",")},
	}
	resp, err := n.get(ctx, "namecheap.domains.dns.setCustom", params)
	observe(n.Name(), "setNameservers", err)
	if err != nil {
		return err
	}
	if !strings.EqualFold(resp.CommandResponse.DomainDNSSetCustomResult.Updated, "true") {
		return fmt.Errorf("%w: nameserver update rejected", ErrHTTP)
	}
	return nil
}

// ApplyRecords replaces the host record set in a single setHosts call. The
// API is all-or-nothing, so there is no partial-failure path on this driver.
func (n *Namecheap) ApplyRecords(ctx context.Context, domain string, records []Record) error {
	if n.dryRun {
		n.lg.Info().Str("domain", domain).Int("records", len(records)).Msg("dry run: dns apply simulated")
		return nil
	}
	label, tld, err := splitDomain(domain)
	if err != nil {
		return err
	}
	params := url.Values{"SLD": {label}, "TLD": {tld}}
	for i, r := range records {
		idx := strconv.Itoa(i + 1)
		params.Set("HostName"+idx, r.Name) // "@" is the apex marker on this API
		params.Set("RecordType"+idx, r.Type)
		params.Set("Address"+idx, recordValue(r.Value, domain))
		params.Set("TTL"+idx, strconv.Itoa(r.TTL))
		if r.Prio > 0 {
			params.Set("MXPref"+idx, strconv.Itoa(r.Prio))
		}
	}
	resp, err := n.get(ctx, "namecheap.domains.dns.setHosts", params)
	observe(n.Name(), "applyRecords", err)
	if err != nil {
		return err
	}
	if !strings.EqualFold(resp.CommandResponse.DomainDNSSetHostsResult.IsSuccess, "true") {
		return fmt.Errorf("%w: set hosts rejected", ErrHTTP)
	}
	return nil
}

// ---- helpers ----

// addContact flattens the registrant contact into the prefixed parameter set
// the create command expects.
func addContact(params url.Values, prefix string, c Contact) {
	params.Set(prefix+"FirstName", c.FirstName)
	params.Set(prefix+"LastName", c.LastName)
	params.Set(prefix+"EmailAddress", c.Email)
	params.Set(prefix+"Phone", c.Phone)
	params.Set(prefix+"Address1", c.Address)
	params.Set(prefix+"City", c.City)
	params.Set(prefix+"StateProvince", c.State)
	params.Set(prefix+"PostalCode", c.Zip)
	params.Set(prefix+"Country", c.Country)
}

func boolTF(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
