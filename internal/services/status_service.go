// Package services – StatusService
//
// Projects the persisted Domain row into the public status shape. This is a
// read-only view of the gateway's own state, not of the registrar's.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/winstonhq/go-domain-gateway/internal/domain"
	"github.com/winstonhq/go-domain-gateway/internal/repo"
)

// StatusProjection is the public status shape for one domain.
type StatusProjection struct {
	Domain    string         `json:"domain"`
	State     string         `json:"state"`
	Registrar string         `json:"registrar,omitempty"`
	UpdatedAt string         `json:"updated_at,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// StatusService resolves domain status projections.
type StatusService struct {
	DB            *gorm.DB
	AllowlistTLDs []string
}

// Status normalizes and screens the domain, then maps the stored row (or its
// absence) onto the projection. Repeated calls are idempotent until a
// purchase changes the row.
func (s *StatusService) Status(ctx context.Context, rawDomain string) (*StatusProjection, error) {
	tr := otel.Tracer("services/StatusService")
	ctx, span := tr.Start(ctx, "Status",
		trace.WithAttributes(attribute.String("domain.name", rawDomain)),
	)
	defer span.End()

	dom, serr := NormalizeDomain(rawDomain)
	if serr != nil {
		return nil, serr
	}
	_, tld := SplitLabelTLD(dom)
	if !tldAllowed(s.AllowlistTLDs, tld) {
		return nil, E(KindValidation, "tld .%s is not on the allowlist", tld)
	}

	row, err := repo.GetDomainByName(ctx, s.DB, dom)
	if errors.Is(err, repo.ErrNotFound) {
		return &StatusProjection{
			Domain:  dom,
			State:   "unknown",
			Details: map[string]any{"message": "domain is not tracked by this gateway"},
		}, nil
	}
	if err != nil {
		return nil, E(KindInternal, "status lookup failed")
	}

	state := "unknown"
	switch row.Status {
	case domain.DomainStatusPurchased:
		state = "purchased"
	case domain.DomainStatusDNSApplied:
		state = "dns_applied"
	case domain.DomainStatusError:
		state = "error"
	}
	return &StatusProjection{
		Domain:    dom,
		State:     state,
		Registrar: row.Registrar,
		UpdatedAt: row.UpdatedAt.UTC().Format(time.RFC3339),
	}, nil
}
