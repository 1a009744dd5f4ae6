package pricing

import (
	"context"
	"sync"
	"testing"
	"time"

	"autoquote-backend/internal/catalog"
	"autoquote-backend/internal/components/chrono"
	"autoquote-backend/internal/components/telemetry"
	"autoquote-backend/internal/pricecache"
	"autoquote-backend/internal/quote"
	"autoquote-backend/internal/vehiclekey"
	"autoquote-backend/lib/testutil"
	"autoquote-backend/pkg/migrations"

	"github.com/stretchr/testify/require"
)

var clio = vehiclekey.VehicleInfo{Brand: "Renault", Model: "Clio", Year: 2020}

type fakeQuoter struct {
	mu       sync.Mutex
	prices   map[string]float64
	failures map[string]quote.ErrorKind
	requests []quote.Request
}

func (f *fakeQuoter) Quote(ctx context.Context, req quote.Request) (quote.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	id := req.Service.ID
	if kind, ok := f.failures[id]; ok {
		return quote.Quote{}, &quote.Error{Kind: kind, Step: quote.StepExtractPrice, Message: "no price on page"}
	}
	return quote.Quote{Price: f.prices[id], RemoteURL: req.FormURL + "/result"}, nil
}

func (f *fakeQuoter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fixture struct {
	resolver *Resolver
	store    pricecache.Store
	quoter   *fakeQuoter
	tel      *telemetry.Recorder
}

func newStore(t *testing.T, services pricecache.Services) pricecache.Store {
	t.Helper()
	database := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "pricing",
		DbSchema: pricecache.SqliteSchema,
	}).DB

	clock := chrono.NewFixedImpl(time.Date(2024, time.May, 14, 9, 30, 0, 0, time.UTC))
	return pricecache.NewStore(database, migrations.SQLite, services, clock)
}

func setup(t *testing.T) fixture {
	t.Helper()
	services, err := catalog.Default()
	require.NoError(t, err)

	store := newStore(t, services)
	quoter := &fakeQuoter{
		prices:   map[string]float64{},
		failures: map[string]quote.ErrorKind{},
	}
	tel := telemetry.NewRecorder()
	return fixture{
		resolver: NewResolver(services, store, quoter, WithCustomTelemetryAPI(tel)),
		store:    store,
		quoter:   quoter,
		tel:      tel,
	}
}

func TestResolveScrapesThenCaches(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.quoter.prices["plaquettes-avant"] = 89.999

	res := f.resolver.ResolvePrice(ctx, "plaquettes-avant", "AB-123-CD", clio, nil)
	require.True(t, res.Success, res.Error)
	require.False(t, res.Cached)
	require.Equal(t, 90.0, res.Price)
	require.Equal(t, "RENAULT_CLIO_2020", res.VehicleKey)
	require.Contains(t, res.RemoteURL, "/result")
	require.Equal(t, 1, f.quoter.calls())

	req := f.quoter.requests[0]
	require.Equal(t, "AB-123-CD", req.Plate)
	require.Equal(t, "plaquettes-avant", req.Service.ID)
	require.NotEmpty(t, req.FormURL)
	require.Nil(t, req.Variant)

	again := f.resolver.ResolvePrice(ctx, "plaquettes-avant", "AB-123-CD", clio, nil)
	require.True(t, again.Success)
	require.True(t, again.Cached)
	require.Equal(t, 90.0, again.Price)
	require.Empty(t, again.RemoteURL)
	require.Equal(t, 1, f.quoter.calls())
	require.True(t, f.tel.Has(telemetry.KindDebug, "cache hit"))
}

func TestResolveByAlias(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.quoter.prices["plaquettes-avant"] = 64.5

	res := f.resolver.ResolvePrice(ctx, "plaquettes-de-freins-avant", "AB123CD", clio, ptr("Plaquette avant"))
	require.True(t, res.Success, res.Error)
	require.False(t, res.Cached)
	require.Equal(t, 64.5, res.Price)
	require.Equal(t, "plaquettes-avant", f.quoter.requests[0].Service.ID)

	entry, ok := f.store.Get(ctx, "plaquettes-avant", "RENAULT_CLIO_2020", ptr("Plaquette avant"))
	require.True(t, ok)
	require.Equal(t, 64.5, entry.Price)

	res = f.resolver.ResolvePrice(ctx, "plaquettes-avant", "AB123CD", clio, ptr("Plaquette avant"))
	require.True(t, res.Success)
	require.True(t, res.Cached)
	require.Equal(t, 1, f.quoter.calls())
}

func TestResolveKeysVariantsApart(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.quoter.prices["plaquettes-avant"] = 75

	res := f.resolver.ResolvePrice(ctx, "plaquettes-avant", "AB123CD", clio, ptr("Les deux"))
	require.True(t, res.Success)
	require.Equal(t, "Les deux", *f.quoter.requests[0].Variant)

	res = f.resolver.ResolvePrice(ctx, "plaquettes-avant", "AB123CD", clio, ptr("Les deux"))
	require.True(t, res.Cached)

	res = f.resolver.ResolvePrice(ctx, "plaquettes-avant", "AB123CD", clio, ptr("Plaquette arrière"))
	require.False(t, res.Cached)
	require.Equal(t, 2, f.quoter.calls())
}

func TestResolveServesCacheForRejectedServices(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.store.Put(ctx, "revision", "RENAULT_CLIO_2020", nil, 149)
	res := f.resolver.ResolvePrice(ctx, "revision", "AB123CD", clio, nil)
	require.True(t, res.Success)
	require.True(t, res.Cached)
	require.Equal(t, 149.0, res.Price)
	require.Zero(t, f.quoter.calls())
}

func TestResolveRejections(t *testing.T) {
	noForm, err := catalog.New(catalog.File{Services: []catalog.ServiceDescriptor{{
		ID:            "vidange",
		Name:          "Vidange",
		VariantFamily: catalog.FamilyNone,
	}}})
	require.NoError(t, err)

	cases := []struct {
		name     string
		services *catalog.Catalog
		service  string
		kind     quote.ErrorKind
		contains string
	}{
		{name: "unknown with suggestion", service: "plaquete-avant", kind: quote.ConfigurationMissing, contains: `did you mean "plaquettes-avant"?`},
		{name: "unknown", service: "zzzz", kind: quote.ConfigurationMissing, contains: `unknown service "zzzz"`},
		{name: "disabled", service: "revision", kind: quote.ScrapingDisabled, contains: "disabled"},
		{name: "unsupported", service: "courroie-distribution", kind: quote.ScrapingDisabled, contains: "09 74 50 56 56"},
		{name: "no form", services: noForm, service: "vidange", kind: quote.ConfigurationMissing, contains: "no quote form"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			services := tc.services
			if services == nil {
				var err error
				services, err = catalog.Default()
				require.NoError(t, err)
			}
			quoter := &fakeQuoter{}
			tel := telemetry.NewRecorder()
			r := NewResolver(services, newStore(t, services), quoter, WithCustomTelemetryAPI(tel))

			res := r.ResolvePrice(context.Background(), tc.service, "AB123CD", clio, nil)
			require.False(t, res.Success)
			require.Equal(t, tc.kind, res.Kind)
			require.Contains(t, res.Error, tc.contains)
			require.Equal(t, "RENAULT_CLIO_2020", res.VehicleKey)
			require.Zero(t, quoter.calls())
			require.True(t, tel.Has(telemetry.KindWarning, report_resolver_resolve))
		})
	}
}

func TestResolvePropagatesEngineErrors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.quoter.failures["embrayage"] = quote.PriceNotFound

	res := f.resolver.ResolvePrice(ctx, "embrayage", "AB123CD", clio, nil)
	require.False(t, res.Success)
	require.Equal(t, quote.PriceNotFound, res.Kind)
	require.Equal(t, quote.StepExtractPrice, res.Step)
	require.Contains(t, res.Error, "no price on page")
	require.Zero(t, res.Price)

	_, cached := f.store.Get(ctx, "embrayage", "RENAULT_CLIO_2020", nil)
	require.False(t, cached)
}

func TestResolveWithoutDatabase(t *testing.T) {
	services, err := catalog.Default()
	require.NoError(t, err)
	store := pricecache.NewStore(nil, migrations.SQLite, services, chrono.NewFixedImpl(time.Now()))
	quoter := &fakeQuoter{prices: map[string]float64{"embrayage": 420}}
	r := NewResolver(services, store, quoter, WithCustomTelemetryAPI(telemetry.NewRecorder()))

	for range 2 {
		res := r.ResolvePrice(context.Background(), "embrayage", "AB123CD", clio, nil)
		require.True(t, res.Success)
		require.False(t, res.Cached)
		require.Equal(t, 420.0, res.Price)
	}
	require.Equal(t, 2, quoter.calls())
}

func ptr(s string) *string {
	return &s
}
