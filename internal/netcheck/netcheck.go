// Package netcheck reports the public address the scraping host is seen
// from, which is what the remote site rate limits on.
package netcheck

import (
	"context"
	"fmt"
	"net/http/cookiejar"
	"time"

	"autoquote-backend/internal/browser"
	"autoquote-backend/internal/components/telemetry"
	"autoquote-backend/lib/restyutil"
	"autoquote-backend/lib/util/fsutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("autoquote/internal/netcheck")

const (
	report_checker_lookup = "checker.lookup"
)

type Config struct {
	IPURL string `json:"ip_url"`
	// InfoURL is the geolocation endpoint, {ip} is replaced with the address.
	InfoURL string `json:"info_url"`
}

func DefaultConfig() Config {
	return Config{
		IPURL:   "https://api.ipify.org?format=json",
		InfoURL: "https://ipapi.co/{ip}/json/",
	}
}

// Egress is where requests leave from. Everything but IP is best effort.
type Egress struct {
	IP          string `json:"ip"`
	Org         string `json:"org,omitempty"`
	City        string `json:"city,omitempty"`
	Region      string `json:"region,omitempty"`
	Country     string `json:"country_name,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
}

type ipResponse struct {
	IP string `json:"ip"`
}

type infoResponse struct {
	Egress
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

type implementationCfg struct {
	tel   telemetry.API
	dumps fsutil.Output
}

type ImplementationOption func(cfg *implementationCfg)

func WithCustomTelemetryAPI(tel telemetry.API) ImplementationOption {
	return func(cfg *implementationCfg) {
		cfg.tel = tel
	}
}

// WithDumps keeps a copy of every http exchange in out.
func WithDumps(out fsutil.Output) ImplementationOption {
	return func(cfg *implementationCfg) {
		cfg.dumps = out
	}
}

type Checker struct {
	cfg  Config
	http *resty.Client
	tel  telemetry.API
}

func NewChecker(cfg Config, options ...ImplementationOption) (*Checker, error) {
	implCfg := implementationCfg{tel: telemetry.SlogAPI{}}
	for _, opt := range options {
		opt(&implCfg)
	}
	defaults := DefaultConfig()
	if cfg.IPURL == "" {
		cfg.IPURL = defaults.IPURL
	}
	if cfg.InfoURL == "" {
		cfg.InfoURL = defaults.InfoURL
	}
	tel := telemetry.NewScopedAPI("netcheck", implCfg.tel)

	client := resty.New()
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeader("user-agent", browser.DefaultUserAgent)
	client.SetTimeout(10 * time.Second)

	// the free geolocation tier allows about one request per second
	limiter := rate.NewLimiter(1, 1)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(client, tel, tracer)
	restyutil.Dump(client, implCfg.dumps)

	return &Checker{
		cfg:  cfg,
		http: client,
		tel:  tel,
	}, nil
}

// PublicIP returns the address requests from this host come from.
func (c *Checker) PublicIP(ctx context.Context) (string, error) {
	var body ipResponse
	res, err := c.http.R().
		SetContext(ctx).
		SetResult(&body).
		SetHeader("Accept", "application/json").
		Get(c.cfg.IPURL)
	if err != nil {
		return "", fmt.Errorf("get public ip: %w", err)
	}
	if res.IsError() {
		return "", fmt.Errorf("get public ip: unexpected status %s", res.Status())
	}
	if body.IP == "" {
		return "", fmt.Errorf("get public ip: empty answer from %s", c.cfg.IPURL)
	}
	return body.IP, nil
}

// Lookup geolocates ip.
func (c *Checker) Lookup(ctx context.Context, ip string) (Egress, error) {
	var body infoResponse
	res, err := c.http.R().
		SetContext(ctx).
		SetPathParam("ip", ip).
		SetResult(&body).
		SetHeader("Accept", "application/json").
		Get(c.cfg.InfoURL)
	if err != nil {
		return Egress{}, fmt.Errorf("lookup %s: %w", ip, err)
	}
	if res.IsError() {
		return Egress{}, fmt.Errorf("lookup %s: unexpected status %s", ip, res.Status())
	}
	if body.Error {
		return Egress{}, fmt.Errorf("lookup %s: %s", ip, body.Reason)
	}
	egress := body.Egress
	egress.IP = ip
	return egress, nil
}

// Check finds the public address and geolocates it. Geolocation failures
// only leave the details empty.
func (c *Checker) Check(ctx context.Context) (Egress, error) {
	ctx, span := tracer.Start(ctx, "checker:check")
	defer span.End()

	ip, err := c.PublicIP(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "could not find public ip")
		return Egress{}, err
	}
	span.SetAttributes(attribute.String("custom.ip", ip))

	egress, err := c.Lookup(ctx, ip)
	if err != nil {
		c.tel.ReportWarning(report_checker_lookup, err)
		return Egress{IP: ip}, nil
	}
	span.SetAttributes(attribute.String("custom.country", egress.CountryCode))
	return egress, nil
}
