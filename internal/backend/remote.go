package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Ghostmonday/formmonkeyplatform/internal/model"
	"github.com/Ghostmonday/formmonkeyplatform/internal/resilience"
)

// RemoteOptions configures a JSON-over-HTTP prediction backend.
type RemoteOptions struct {
	Name      string
	URL       string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
	// Requests per second against the remote service. The chain's governor
	// caps the whole engine; this limiter protects the one upstream host.
	RateLimit rate.Limit
	Burst     int
}

// RemoteBackend calls a self-hosted or third-party prediction service over
// HTTP. The wire format is the service's own: POST the document, get back
// a JSON array of predicted fields.
type RemoteBackend struct {
	opts    RemoteOptions
	client  *http.Client
	limiter *rate.Limiter
}

// NewRemoteBackend creates a remote backend with sane transport defaults.
func NewRemoteBackend(opts RemoteOptions) *RemoteBackend {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "formmonkey/1.0"
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = 10
	}
	if opts.Burst == 0 {
		opts.Burst = int(opts.RateLimit)
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &RemoteBackend{
		opts: opts,
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		limiter: rate.NewLimiter(opts.RateLimit, opts.Burst),
	}
}

func (b *RemoteBackend) Name() string { return b.opts.Name }

// remoteRequest is the wire request body.
type remoteRequest struct {
	DocumentID   string   `json:"document_id"`
	DocumentType string   `json:"document_type,omitempty"`
	Text         string   `json:"text"`
	Fields       []string `json:"fields,omitempty"`
}

// remoteField is one element of the wire response.
type remoteField struct {
	Name         string  `json:"name"`
	Type         string  `json:"type,omitempty"`
	Value        string  `json:"value"`
	Confidence   float64 `json:"confidence"`
	Alternatives []struct {
		Value      string  `json:"value"`
		Confidence float64 `json:"confidence"`
	} `json:"alternatives,omitempty"`
}

// Predict runs one quick in-backend retry around the wire call, so a
// single connection reset or 503 is absorbed before the fallback chain
// counts a failure against this backend's breaker.
func (b *RemoteBackend) Predict(ctx context.Context, req model.PredictionRequest) ([]model.PredictedField, error) {
	return resilience.DoVal(ctx, resilience.RetryConfig{
		MaxAttempts:    2,
		BaseDelay:      200 * time.Millisecond,
		MaxDelay:       time.Second,
		JitterFraction: 0.1,
		OnRetry:        resilience.RetryLogger(b.opts.Name, "predict"),
	}, func(ctx context.Context) ([]model.PredictedField, error) {
		return b.predictOnce(ctx, req)
	})
}

func (b *RemoteBackend) predictOnce(ctx context.Context, req model.PredictionRequest) ([]model.PredictedField, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "backend: rate limiter wait")
	}

	body, err := json.Marshal(remoteRequest{
		DocumentID:   req.DocumentID,
		DocumentType: req.DocumentType,
		Text:         req.Text,
		Fields:       req.Fields,
	})
	if err != nil {
		return nil, eris.Wrap(err, "backend: marshal remote request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.opts.URL, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "backend: create remote request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", b.opts.UserAgent)
	if b.opts.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.opts.APIKey)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "backend: remote predict"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		zap.L().Warn("remote backend returned transient status",
			zap.String("backend", b.opts.Name),
			zap.Int("status", resp.StatusCode),
		)
		return nil, resilience.NewTransientError(
			eris.Errorf("backend: %s returned status %d", b.opts.Name, resp.StatusCode),
			resp.StatusCode,
		)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("backend: %s returned status %d", b.opts.Name, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "backend: read remote response"), 0)
	}

	var raw []remoteField
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrap(err, "backend: parse remote response")
	}

	out := make([]model.PredictedField, 0, len(raw))
	for _, rf := range raw {
		pf := model.PredictedField{
			Name:       rf.Name,
			Type:       model.FieldType(rf.Type),
			Value:      rf.Value,
			Confidence: clamp01(rf.Confidence),
		}
		for _, alt := range rf.Alternatives {
			pf.Alternatives = append(pf.Alternatives, model.Alternative{
				Value:      alt.Value,
				Confidence: clamp01(alt.Confidence),
			})
		}
		out = append(out, pf)
	}
	return out, nil
}
