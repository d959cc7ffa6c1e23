package bas

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"activation-relay/internal/config"
	"activation-relay/internal/metrics"
)

const (
	DefaultEndpoint = "https://activation.sls.microsoft.com/BatchActivation/BatchActivation.asmx"
	SOAPAction      = "http://www.microsoft.com/BatchActivationService/BatchActivate"

	userAgent = "ActivationWs/1.0"

	// cap on response bodies; real responses are a few kilobytes
	maxResponseBytes = 4 << 20
)

// Client talks to the Batch Activation Service. It is safe for concurrent use;
// the signing key and endpoint never change after construction.
type Client struct {
	endpoint   string
	key        Key
	httpClient *http.Client
	timeout    time.Duration
	resilience *Resilience
	log        logrus.FieldLogger
}

type Option func(*Client)

// WithEndpoint points the client at another service URL.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

// WithHTTPClient replaces the HTTP client built from the proxy settings. The
// client is used as given; the call timeout is applied through the context.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithKey(key Key) Option {
	return func(c *Client) { c.key = key }
}

func NewClient(cfg config.ActivationConfig, log logrus.FieldLogger, opts ...Option) (*Client, error) {
	log = log.WithField("component", "bas_client")

	c := &Client{
		endpoint: DefaultEndpoint,
		key:      DefaultKey,
		log:      log,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		proxy, err := proxyFunc(cfg.Proxy, log)
		if err != nil {
			return nil, err
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.Proxy = proxy
		c.httpClient = &http.Client{Transport: transport, Timeout: cfg.Timeout()}
	}
	c.timeout = cfg.Timeout()

	c.resilience = NewResilience("batch_activation", cfg.Retry, cfg.Breaker, log)
	return c, nil
}

// Call sends one request and returns the confirmation ID (Activate) or the
// remaining activation count (QueryRemaining). Errors are *BusinessError,
// *ProtocolError or *TransportError. The configured timeout bounds the whole
// call, retries and backoff waits included.
func (c *Client) Call(ctx context.Context, requestType RequestType, installationID, extendedProductID string) (string, error) {
	log := c.log.WithFields(logrus.Fields{
		"call_id":             uuid.NewString(),
		"request_type":        requestType.String(),
		"extended_product_id": extendedProductID,
	})
	log.Info("calling the Batch Activation Service")

	envelope, err := BuildEnvelope(c.key, requestType, installationID, extendedProductID)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	var result string
	err = c.resilience.Do(ctx, func(ctx context.Context) error {
		body, err := c.post(ctx, envelope)
		if err != nil {
			return err
		}
		result, err = ParseResponse(body)
		return err
	})

	metrics.UpstreamDuration.WithLabelValues(requestType.String()).Observe(time.Since(start).Seconds())
	metrics.UpstreamCalls.WithLabelValues(requestType.String(), outcome(err)).Inc()

	if err != nil {
		switch outcome(err) {
		case "business_error":
			log.WithError(err).Warn("the Batch Activation Service rejected the request")
		default:
			log.WithError(err).Error("the Batch Activation Service call failed")
		}
		return "", err
	}

	log.Info("successfully processed activation request")
	return result, nil
}

func (c *Client) post(ctx context.Context, envelope []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(envelope))
	if err != nil {
		return nil, fmt.Errorf("build activation request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", SOAPAction)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	return body, nil
}

// BreakerState reports the circuit breaker state ("closed", "half-open" or "open").
func (c *Client) BreakerState() string {
	return c.resilience.State().String()
}
