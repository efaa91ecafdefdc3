package llm

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/autograder/internal/common"
)

// Config for the vendor client.
type Config struct {
	Timeout   time.Duration     // per call, default 60s
	Endpoints map[string]string // provider id -> endpoint override
	Now       func() time.Time  // signing clock, default time.Now
}

// CallObserver receives one observation per finished call.
type CallObserver interface {
	ObserveCall(provider, outcome string, elapsed time.Duration)
}

// Client is a per-backend session handle. Each backend slot owns its own Client
// so concurrent evaluations never share a connection pool.
type Client struct {
	cfg      Config
	logger   *slog.Logger
	observer CallObserver

	mu        sync.Mutex
	http      *http.Client
	transport *http.Transport
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, logger: logger}
}

// WithObserver attaches a metrics observer.
func (c *Client) WithObserver(o CallObserver) *Client {
	c.observer = o
	return c
}

func (c *Client) httpClient() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.http == nil {
		c.transport = http.DefaultTransport.(*http.Transport).Clone()
		c.http = &http.Client{Transport: c.transport, Timeout: c.cfg.Timeout}
	}
	return c.http
}

// Reset closes idle connections and drops the session; the next call builds a new one.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport != nil {
		c.transport.CloseIdleConnections()
	}
	c.http = nil
	c.transport = nil
	c.logger.Info("llm.client.reset")
}

// Send performs one vendor call and returns the model's text.
func (c *Client) Send(ctx context.Context, call Call) (string, error) {
	rid := uuid.New().String()
	ctx = common.WithRequestID(ctx, rid)
	start := time.Now()

	d, ok := Lookup(call.Provider)
	if !ok {
		return "", c.fail(call.Provider, start, &CallError{
			Kind: KindUnknownProvider, Provider: call.Provider,
			Message: "未知的供应商标识: " + call.Provider,
		})
	}

	key, err := PreprocessKey(d.Auth, call.APIKey)
	if err != nil {
		return "", c.fail(d.ID, start, &CallError{
			Kind: KindInvalidKey, Provider: d.ID,
			Message: strings.TrimPrefix(err.Error(), ErrInvalidKey.Error()+": "), Err: err,
		})
	}

	imageB64, err := ImageBase64(call.Image)
	if err != nil {
		return "", c.fail(d.ID, start, &CallError{Kind: KindBadRequest, Provider: d.ID, Message: err.Error(), Err: err})
	}
	if imageB64 != "" && d.Shape == ShapeTencent && !tencentVision(call.Model) {
		c.logger.Warn("llm.call.image_dropped", "req_id", rid, "provider", d.ID, "model", call.Model)
	}

	payload, err := BuildPayload(d, call.Model, imageB64, call.Prompt)
	if err != nil {
		return "", c.fail(d.ID, start, &CallError{Kind: KindBadRequest, Provider: d.ID, Message: err.Error(), Err: err})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", c.fail(d.ID, start, &CallError{Kind: KindBadRequest, Provider: d.ID, Message: "encode json", Err: err})
	}

	url := d.requestURL(c.cfg.Endpoints[d.ID], call.Model, key)
	headers := map[string]string{}
	switch d.Auth {
	case AuthBearer:
		headers["Authorization"] = "Bearer " + key
	case AuthSignatureV3:
		creds, err := SplitSignatureKey(key)
		if err != nil {
			return "", c.fail(d.ID, start, &CallError{Kind: KindInvalidKey, Provider: d.ID, Message: err.Error(), Err: err})
		}
		svc := *d.Service
		if override := c.cfg.Endpoints[d.ID]; override != "" {
			// keep the signed host in line with where the request actually goes
			if h := hostOf(override); h != "" {
				svc.Host = h
			}
		}
		headers = SignTC3(creds, body, c.cfg.Now(), svc)
	}

	c.logger.Info("llm.call.start",
		"req_id", rid,
		"provider", d.ID,
		"model", call.Model,
		"has_image", imageB64 != "",
		"prompt_len", len(call.Prompt.System)+len(call.Prompt.User),
	)

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	raw, status, err := PostJSON(callCtx, c.httpClient(), url, body, headers, c.logger)
	if err != nil {
		kind := KindConnection
		var ne net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
			kind = KindTimeout
		}
		return "", c.fail(d.ID, start, &CallError{Kind: kind, Provider: d.ID, Message: truncate(err.Error(), 200), Err: err})
	}

	if status != http.StatusOK {
		ce := &CallError{
			Kind:     kindForStatus(status),
			Status:   status,
			Provider: d.ID,
			Body:     truncate(string(raw), 200),
		}
		c.logger.Error("llm.call.http_error",
			"req_id", rid, "provider", d.ID, "status", status, "body", ce.Body,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", c.fail(d.ID, start, ce)
	}

	text, err := ExtractContent(d.Shape, raw)
	if err != nil {
		ce := &CallError{Provider: d.ID, Status: status, Body: truncate(string(raw), 200), Err: err}
		var ve *VendorError
		switch {
		case errors.As(err, &ve):
			ce.Kind = kindForVendorCode(ve.Code)
			ce.Message = ve.Code + ": " + ve.Message
		case errors.Is(err, ErrNoContent):
			ce.Kind = KindNoContent
		default:
			ce.Kind = KindDecode
		}
		return "", c.fail(d.ID, start, ce)
	}

	elapsed := time.Since(start)
	c.logger.Info("llm.call.ok",
		"req_id", rid,
		"provider", d.ID,
		"content_len", len(text),
		"elapsed_ms", elapsed.Milliseconds(),
	)
	if c.observer != nil {
		c.observer.ObserveCall(d.ID, "ok", elapsed)
	}
	return text, nil
}

// Ping sends a short text-only request to check provider, key and model together.
func (c *Client) Ping(ctx context.Context, provider, key, model string) error {
	_, err := c.Send(ctx, Call{
		Provider: provider,
		APIKey:   key,
		Model:    model,
		Prompt:   Prompt{User: "你好"},
	})
	return err
}

func (c *Client) fail(provider string, start time.Time, ce *CallError) error {
	c.logger.Warn("llm.call.failed",
		"provider", provider,
		"kind", ce.Kind,
		"status", ce.Status,
		"error", ce.Error(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	if c.observer != nil {
		c.observer.ObserveCall(provider, string(ce.Kind), time.Since(start))
	}
	return ce
}

func hostOf(endpoint string) string {
	s := endpoint
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?"); i >= 0 {
		s = s[:i]
	}
	return s
}
