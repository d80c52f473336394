package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/winstonhq/go-domain-gateway/internal/registrar"
	"github.com/winstonhq/go-domain-gateway/internal/repo"
)

// newTestDB opens a unique in-memory database per test with the full schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA busy_timeout=5000;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// fakeProvider is an in-memory registrar.Provider with scriptable outcomes
// and call accounting.
type fakeProvider struct {
	mu sync.Mutex

	quote       registrar.Quote
	quoteErr    error
	quoteCalls  int
	secondQuote *registrar.Quote // served from the second Quote call on, if set

	registerErr     error
	registerDecline bool
	registerCalls   int

	availability []registrar.Availability
	availErr     error

	nsCalls     [][]string
	recordCalls [][]registrar.Record
}

func (f *fakeProvider) Name() string { return "porkbun" }

func (f *fakeProvider) Quote(ctx context.Context, domain string, years int, privacy bool) (*registrar.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteCalls++
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	if f.secondQuote != nil && f.quoteCalls > 1 {
		q := *f.secondQuote
		return &q, nil
	}
	q := f.quote
	return &q, nil
}

func (f *fakeProvider) CheckAvailability(ctx context.Context, domains []string) ([]registrar.Availability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.availErr != nil {
		return nil, f.availErr
	}
	if f.availability != nil {
		return f.availability, nil
	}
	out := make([]registrar.Availability, len(domains))
	for i, d := range domains {
		out[i] = registrar.Availability{Domain: d, Available: true, PriceUSD: f.quote.TotalUSD}
	}
	return out, nil
}

func (f *fakeProvider) Register(ctx context.Context, req registrar.RegisterRequest) (*registrar.RegisterResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registerCalls++
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	if f.registerDecline {
		return &registrar.RegisterResult{Success: false, Message: "domain just taken"}, nil
	}
	return &registrar.RegisterResult{
		OrderID:         fmt.Sprintf("ORD-%d", f.registerCalls),
		ChargedTotalUSD: f.quote.TotalUSD,
		Success:         true,
	}, nil
}

func (f *fakeProvider) Status(ctx context.Context, domain string) (*registrar.StatusResult, error) {
	return &registrar.StatusResult{State: registrar.StateActive}, nil
}

func (f *fakeProvider) SetNameservers(ctx context.Context, domain string, ns []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nsCalls = append(f.nsCalls, ns)
	return nil
}

func (f *fakeProvider) ApplyRecords(ctx context.Context, domain string, records []registrar.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordCalls = append(f.recordCalls, records)
	return nil
}

func (f *fakeProvider) registers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registerCalls
}

func nopLogger() zerolog.Logger { return zerolog.Nop() }
