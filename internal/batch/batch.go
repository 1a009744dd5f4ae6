// Package batch prices every quotable service for one vehicle, a few
// services at a time.
package batch

import (
	"context"
	"time"

	"autoquote-backend/internal/catalog"
	"autoquote-backend/internal/components/assert"
	"autoquote-backend/internal/components/chrono"
	"autoquote-backend/internal/components/telemetry"
	"autoquote-backend/internal/pricing"
	"autoquote-backend/internal/vehiclekey"
	libtelemetry "autoquote-backend/lib/telemetry"
	"autoquote-backend/lib/util/fsutil"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("autoquote/internal/batch")

const (
	report_runner_run    = "runner.run"
	report_runner_report = "runner.report"
)

type Pricer interface {
	ResolvePrice(ctx context.Context, serviceID, plate string, vehicle vehiclekey.VehicleInfo, userVariant *string) pricing.Result
}

type Services interface {
	Services() []catalog.ServiceDescriptor
}

type Options struct {
	// GroupSize is how many services are priced at the same time.
	GroupSize int
	// Pause is the minimum spacing between the starts of two groups.
	Pause time.Duration
	// IntraPause staggers the starts inside a group.
	IntraPause time.Duration
}

func DefaultOptions() Options {
	return Options{
		GroupSize:  2,
		Pause:      2 * time.Second,
		IntraPause: time.Second,
	}
}

type implementationCfg struct {
	tel       telemetry.API
	options   Options
	reports   fsutil.Output
	perfStats time.Duration
}

type ImplementationOption func(cfg *implementationCfg)

func WithCustomTelemetryAPI(tel telemetry.API) ImplementationOption {
	return func(cfg *implementationCfg) {
		cfg.tel = tel
	}
}

func WithOptions(options Options) ImplementationOption {
	return func(cfg *implementationCfg) {
		cfg.options = options
	}
}

// WithReports saves every finished run's report into out.
func WithReports(out fsutil.Output) ImplementationOption {
	return func(cfg *implementationCfg) {
		cfg.reports = out
	}
}

// WithPerfStats records process gauges every interval while a run is going.
func WithPerfStats(interval time.Duration) ImplementationOption {
	return func(cfg *implementationCfg) {
		cfg.perfStats = interval
	}
}

type Runner struct {
	pricer    Pricer
	services  Services
	clock     chrono.API
	tel       telemetry.API
	options   Options
	reports   fsutil.Output
	perfStats time.Duration
}

func NewRunner(pricer Pricer, services Services, clock chrono.API, options ...ImplementationOption) *Runner {
	assert.NotNil(pricer)
	assert.NotNil(services)
	assert.NotNil(clock)

	cfg := implementationCfg{
		tel:     telemetry.SlogAPI{},
		options: DefaultOptions(),
	}
	for _, opt := range options {
		opt(&cfg)
	}
	if cfg.options.GroupSize <= 0 {
		cfg.options.GroupSize = 1
	}

	return &Runner{
		pricer:    pricer,
		services:  services,
		clock:     clock,
		tel:       telemetry.NewScopedAPI("batch", cfg.tel),
		options:   cfg.options,
		reports:   cfg.reports,
		perfStats: cfg.perfStats,
	}
}

// Quotable lists the services a run covers, in catalog priority order.
func Quotable(services Services) []catalog.ServiceDescriptor {
	var out []catalog.ServiceDescriptor
	for _, svc := range services.Services() {
		if svc.ScrapingDisabled || svc.Unsupported() || svc.FormURL == "" {
			continue
		}
		out = append(out, svc)
	}
	return out
}

func limiter(every time.Duration) *rate.Limiter {
	if every <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(every), 1)
}

// Run prices every quotable service for the vehicle. A failed service does
// not stop the run, only ctx does.
func (r *Runner) Run(ctx context.Context, plate string, vehicle vehiclekey.VehicleInfo) (Report, error) {
	ctx, span := tracer.Start(ctx, "runner:run")
	defer span.End()

	if r.perfStats > 0 {
		statsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		libtelemetry.InstrumentPerfStats(statsCtx, r.perfStats)
	}

	services := Quotable(r.services)
	span.SetAttributes(attribute.Int("custom.service_count", len(services)))

	report := Report{
		Plate:      plate,
		VehicleKey: vehiclekey.Normalize(vehicle),
		StartedAt:  r.clock.Now(),
		Results:    make([]Outcome, len(services)),
	}

	groups := limiter(r.options.Pause)
	stagger := limiter(r.options.IntraPause)

	for start := 0; start < len(services); start += r.options.GroupSize {
		end := min(start+r.options.GroupSize, len(services))
		if err := groups.Wait(ctx); err != nil {
			return Report{}, err
		}
		r.tel.ReportDebug("starting group", start/r.options.GroupSize+1, end-start)

		var group errgroup.Group
		for i := start; i < end; i++ {
			if i > start {
				if err := stagger.Wait(ctx); err != nil {
					_ = group.Wait()
					return Report{}, err
				}
			}
			svc := services[i]
			group.Go(func() error {
				report.Results[i] = r.price(ctx, svc, plate, vehicle)
				return nil
			})
		}
		_ = group.Wait()
	}

	report.FinishedAt = r.clock.Now()
	report.tally()
	r.tel.ReportCount(report_runner_run, int64(report.Succeeded))
	if report.Failed > 0 {
		r.tel.ReportWarning(report_runner_run, plate, report.Failed, report.Total)
	}

	if r.reports != nil {
		body, err := report.JSON()
		if err != nil {
			r.tel.ReportBroken(report_runner_report, err)
		} else {
			r.reports.Write(report.FileName(), body)
		}
	}
	return report, nil
}

func (r *Runner) price(ctx context.Context, svc catalog.ServiceDescriptor, plate string, vehicle vehiclekey.VehicleInfo) Outcome {
	started := r.clock.Now()
	res := r.pricer.ResolvePrice(ctx, svc.ID, plate, vehicle, nil)
	elapsed := r.clock.Now().Sub(started)

	outcome := Outcome{
		ServiceID: svc.ID,
		Name:      svc.Name,
		Success:   res.Success,
		Price:     res.Price,
		Cached:    res.Cached,
		Error:     res.Error,
		Kind:      res.Kind,
		Seconds:   elapsed.Seconds(),
	}
	if !res.Success {
		r.tel.ReportDebug("service failed", svc.ID, res.Error)
	}
	return outcome
}
