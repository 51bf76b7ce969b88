// Package diseaseapi queries the external API that reports disease counts per borough.
package diseaseapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/healthmap/internal/model"
	"github.com/sells-group/healthmap/internal/monitoring"
	"github.com/sells-group/healthmap/internal/registry"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "http://localhost:5000"

const (
	datosPath    = "/api/datos"
	maxBodyBytes = 1 << 20
)

// Client fetches a borough's disease record. A nil record with a nil error
// means the data source has no data for that borough.
type Client interface {
	// FetchByName queries by the borough's display name.
	FetchByName(ctx context.Context, name string) (*model.DiseaseRecord, error)

	// FetchByCode queries by the borough's numeric code.
	FetchByCode(ctx context.Context, code int) (*model.DiseaseRecord, error)
}

// Response is the JSON body returned by the disease API.
type Response struct {
	Enfermedades *model.DiseaseRecord `json:"enfermedades"`
	Mensaje      string               `json:"mensaje,omitempty"`
}

// Option configures the client.
type Option func(*client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.httpClient = hc
	}
}

// WithRateLimit caps requests per second. Zero or negative disables the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *client) {
		c.userAgent = ua
	}
}

type client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
}

// NewClient creates a Client for the API at baseURL, falling back to
// DefaultBaseURL when empty.
func NewClient(baseURL string, opts ...Option) Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Inf, 0),
		userAgent:  "healthmap/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *client) FetchByName(ctx context.Context, name string) (*model.DiseaseRecord, error) {
	return c.fetch(ctx, url.Values{"alcaldia": {name}})
}

func (c *client) FetchByCode(ctx context.Context, code int) (*model.DiseaseRecord, error) {
	return c.fetch(ctx, url.Values{"codigo": {strconv.Itoa(code)}})
}

// NameFetcher queries the API by display name, resolving a code through
// Registry first. It serves APIs that only honor ?alcaldia=.
type NameFetcher struct {
	Client   Client
	Registry *registry.Registry
}

// FetchByCode looks up code's name and fetches by that name.
func (f NameFetcher) FetchByCode(ctx context.Context, code int) (*model.DiseaseRecord, error) {
	b, ok := f.Registry.ByCode(code)
	if !ok {
		return nil, eris.Errorf("diseaseapi: no borough with code %d", code)
	}
	return f.Client.FetchByName(ctx, b.Name)
}

func (c *client) fetch(ctx context.Context, params url.Values) (rec *model.DiseaseRecord, err error) {
	ctx, span := monitoring.StartSpan(ctx, "diseaseapi.fetch", attribute.String("query", params.Encode()))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Bool("no_data", err == nil && rec == nil))
		span.End()
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "diseaseapi: rate limiter wait")
	}

	reqURL := c.baseURL + datosPath + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "diseaseapi: create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "diseaseapi: get %s", params.Encode())
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		return nil, eris.Errorf("diseaseapi: unexpected status %d for %s", resp.StatusCode, params.Encode())
	}

	var body Response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return nil, eris.Wrap(err, "diseaseapi: decode response")
	}
	if err := body.Enfermedades.Validate(); err != nil {
		return nil, eris.Wrap(err, "diseaseapi: invalid record")
	}

	if body.Enfermedades == nil {
		zap.L().Debug("diseaseapi: no data",
			zap.String("query", params.Encode()),
			zap.String("mensaje", body.Mensaje),
		)
	}
	return body.Enfermedades, nil
}
