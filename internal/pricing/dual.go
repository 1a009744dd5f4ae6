package pricing

import (
	"context"

	"autoquote-backend/internal/pricecache"
	"autoquote-backend/internal/quote"
	"autoquote-backend/internal/vehiclekey"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var sideNames = [2]string{"front", "rear"}

// ResolveDualVariantPrice prices a parent service as the sum of its front and
// rear halves. Both halves are resolved at the same time and each one is
// cached on its own; the sum only exists when both succeed.
func (r *Resolver) ResolveDualVariantPrice(ctx context.Context, serviceSlug, plate string, vehicle vehiclekey.VehicleInfo) Result {
	ctx, span := tracer.Start(ctx, "resolver:dual")
	defer span.End()
	span.SetAttributes(attribute.String("custom.service_slug", serviceSlug))

	key := vehiclekey.Normalize(vehicle)
	sides, ok := r.services.DualVariant(serviceSlug)
	if !ok {
		return failed(key, quote.ConfigurationMissing, "service does not support both variants")
	}

	var results [2]Result
	var group errgroup.Group
	for i, side := range sides {
		group.Go(func() error {
			label := side.Label
			results[i] = r.ResolvePrice(ctx, side.ServiceID, plate, vehicle, &label)
			return nil
		})
	}
	_ = group.Wait()

	for i, res := range results {
		if !res.Success {
			r.tel.ReportWarning(report_resolver_dual, serviceSlug, sideNames[i], res.Error)
			out := failed(key, res.Kind, sideNames[i]+": "+res.Error)
			out.Step = res.Step
			return out
		}
	}

	return Result{
		Success:    true,
		Price:      pricecache.RoundCents(results[0].Price + results[1].Price),
		Cached:     results[0].Cached && results[1].Cached,
		VehicleKey: key,
	}
}
