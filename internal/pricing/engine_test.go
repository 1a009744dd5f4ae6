package pricing

import (
	"context"
	"testing"
	"time"

	"autoquote-backend/internal/browser/browsertest"
	"autoquote-backend/internal/catalog"
	"autoquote-backend/internal/components/telemetry"
	"autoquote-backend/internal/quote"

	"github.com/stretchr/testify/require"
)

const plateForm = `<html><body><form>
	<div><span>Mon numéro de plaque</span><input id="plate" placeholder="AB123CD" value=""></div>
	<button type="button" id="continue">Continuer</button>
</form></body></html>`

const variantForm = `<html><body>
<h2>Votre véhicule : RENAULT CLIO</h2>
<label><input type="radio" name="v" value="avant"> Plaquette avant</label>
<label><input type="radio" name="v" value="arriere"> Plaquette arrière</label>
<label><input type="radio" name="v" value="deux"> Les deux</label>
<button id="calc">Calculer mon devis</button>
</body></html>`

func TestResolveThroughEngine(t *testing.T) {
	services, err := catalog.Default()
	require.NoError(t, err)
	svc, ok := services.Lookup("plaquettes-arriere")
	require.True(t, ok)

	prices := map[string]string{"avant": "120,00 €", "arriere": "95,50 €"}
	site := browsertest.Site{
		Pages: map[string]string{svc.FormURL: plateForm},
		Rules: []browsertest.Rule{
			{Selector: "#continue", Do: func(p *browsertest.Page) { p.Load(variantForm) }},
			{Selector: "#calc", Do: func(p *browsertest.Page) {
				chosen := p.Find(`input[name="v"][checked]`).AttrOr("value", "")
				p.Load(`<html><body><p>Total</p><span class="price">` + prices[chosen] + `</span></body></html>`)
			}},
		},
	}
	launcher := browsertest.NewLauncher(site)
	tel := telemetry.NewRecorder()
	engine := quote.NewEngine(launcher, services,
		quote.WithCustomTelemetryAPI(tel),
		quote.WithPacer(quote.NoPacer{}),
		quote.WithTimeouts(quote.Timeouts{
			Navigate: time.Second,
			Element:  20 * time.Millisecond,
			NewPage:  20 * time.Millisecond,
			Poll:     5 * time.Millisecond,
		}),
	)
	r := NewResolver(services, newStore(t, services), engine, WithCustomTelemetryAPI(tel))
	ctx := context.Background()

	res := r.ResolvePrice(ctx, "plaquettes-arriere", "AB123CD", clio, nil)
	require.True(t, res.Success, res.Error)
	require.Equal(t, 95.50, res.Price)
	require.Equal(t, 1, launcher.Closed())

	dual := r.ResolveDualVariantPrice(ctx, "plaquettes-de-frein", "AB123CD", clio)
	require.True(t, dual.Success, dual.Error)
	require.Equal(t, 215.50, dual.Price)
	require.Equal(t, launcher.Launched(), launcher.Closed())
}
