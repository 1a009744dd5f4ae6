// Package pricing answers price requests from the cache when it can and from
// a live quoting session when it must.
package pricing

import (
	"context"
	"errors"
	"fmt"

	"autoquote-backend/internal/catalog"
	"autoquote-backend/internal/components/assert"
	"autoquote-backend/internal/components/telemetry"
	"autoquote-backend/internal/pricecache"
	"autoquote-backend/internal/quote"
	"autoquote-backend/internal/vehiclekey"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("autoquote/internal/pricing")
var meter = otel.Meter("autoquote/internal/pricing")
var resolutionCounter, _ = meter.Int64Counter("price_resolutions")

const (
	report_resolver_resolve = "resolver.resolve"
	report_resolver_dual    = "resolver.dual"
)

// Result is the uniform answer to a price request.
type Result struct {
	Success    bool            `json:"success"`
	Price      float64         `json:"price,omitempty"`
	Cached     bool            `json:"cached"`
	VehicleKey string          `json:"vehicleKey"`
	RemoteURL  string          `json:"url,omitempty"`
	Error      string          `json:"error,omitempty"`
	Kind       quote.ErrorKind `json:"errorKind,omitempty"`
	Step       quote.Step      `json:"step,omitempty"`
}

func failed(key string, kind quote.ErrorKind, msg string) Result {
	return Result{VehicleKey: key, Kind: kind, Error: msg}
}

type Services interface {
	// Resolve finds a service by id, alternate identifier or form url.
	Resolve(key string) (*catalog.ServiceDescriptor, bool)
	Suggest(id string) string
	DualVariant(slug string) ([2]catalog.DualSide, bool)
}

type Cache interface {
	Get(ctx context.Context, serviceID, vehicleKey string, variant *string) (pricecache.Entry, bool)
	Put(ctx context.Context, serviceID, vehicleKey string, variant *string, price float64)
}

type Quoter interface {
	Quote(ctx context.Context, req quote.Request) (quote.Quote, error)
}

type implementationCfg struct {
	tel telemetry.API
}

type ImplementationOption func(cfg *implementationCfg)

func WithCustomTelemetryAPI(tel telemetry.API) ImplementationOption {
	return func(cfg *implementationCfg) {
		cfg.tel = tel
	}
}

type Resolver struct {
	services Services
	cache    Cache
	quoter   Quoter
	tel      telemetry.API
}

func NewResolver(services Services, cache Cache, quoter Quoter, options ...ImplementationOption) *Resolver {
	assert.NotNil(services)
	assert.NotNil(cache)
	assert.NotNil(quoter)

	cfg := implementationCfg{tel: telemetry.SlogAPI{}}
	for _, opt := range options {
		opt(&cfg)
	}
	return &Resolver{
		services: services,
		cache:    cache,
		quoter:   quoter,
		tel:      telemetry.NewScopedAPI("pricing", cfg.tel),
	}
}

func (r *Resolver) count(ctx context.Context, outcome string) {
	resolutionCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// reject explains why a service cannot be quoted without opening a session,
// ok is false when it can.
func (r *Resolver) reject(serviceID string, svc *catalog.ServiceDescriptor) (quote.ErrorKind, string, bool) {
	switch {
	case svc == nil:
		msg := fmt.Sprintf("unknown service %q", serviceID)
		if suggestion := r.services.Suggest(serviceID); suggestion != "" {
			msg += fmt.Sprintf(", did you mean %q?", suggestion)
		}
		return quote.ConfigurationMissing, msg, true
	case svc.ScrapingDisabled:
		return quote.ScrapingDisabled, fmt.Sprintf("online quoting is disabled for %q", svc.ID), true
	case svc.Unsupported():
		return quote.ScrapingDisabled, svc.UnsupportedMessage, true
	case svc.FormURL == "":
		return quote.ConfigurationMissing, fmt.Sprintf("no quote form configured for %q", svc.ID), true
	}
	return "", "", false
}

// ResolvePrice returns the price of a service for a vehicle, from the cache
// when present, otherwise by running a quoting session and caching what it
// found. Failed sessions are never cached.
func (r *Resolver) ResolvePrice(ctx context.Context, serviceID, plate string, vehicle vehiclekey.VehicleInfo, userVariant *string) Result {
	ctx, span := tracer.Start(ctx, "resolver:resolve")
	defer span.End()

	key := vehiclekey.Normalize(vehicle)
	svc, ok := r.services.Resolve(serviceID)
	if ok {
		serviceID = svc.ID
	}
	variant := vehiclekey.ResolveSelectionVariant(svc, userVariant)
	span.SetAttributes(
		attribute.String("custom.service_id", serviceID),
		attribute.String("custom.vehicle_key", key),
	)

	if entry, ok := r.cache.Get(ctx, serviceID, key, variant); ok {
		span.SetAttributes(attribute.Bool("custom.cached", true))
		r.count(ctx, "hit")
		r.tel.ReportDebug("cache hit", serviceID, key, entry.Price)
		return Result{
			Success:    true,
			Price:      entry.Price,
			Cached:     true,
			VehicleKey: key,
		}
	}

	if kind, msg, rejected := r.reject(serviceID, svc); rejected {
		span.SetStatus(codes.Error, string(kind))
		r.count(ctx, "rejected")
		r.tel.ReportWarning(report_resolver_resolve, serviceID, kind, msg)
		return failed(key, kind, msg)
	}

	q, err := r.quoter.Quote(ctx, quote.Request{
		Plate:   plate,
		FormURL: svc.FormURL,
		Service: svc,
		Variant: variant,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.count(ctx, "failed")
		res := failed(key, "", err.Error())
		var qerr *quote.Error
		if errors.As(err, &qerr) {
			res.Kind = qerr.Kind
			res.Step = qerr.Step
		}
		return res
	}

	price := pricecache.RoundCents(q.Price)
	r.cache.Put(ctx, serviceID, key, variant, price)
	r.count(ctx, "scraped")
	return Result{
		Success:    true,
		Price:      price,
		VehicleKey: key,
		RemoteURL:  q.RemoteURL,
	}
}
