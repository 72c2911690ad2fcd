// Package client talks to the sketchboard HTTP API on behalf of a headless
// or embedded canvas client.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"
	"github.com/go-resty/resty/v2"
)

var (
	ErrUnauthorized = errors.New("client unauthorized")
	ErrForbidden    = errors.New("client forbidden")
	ErrBadRequest   = errors.New("bad request")
	ErrServer       = errors.New("server error")
)

const (
	defaultBaseURL = "http://localhost:8080"
	defaultTimeout = 15 * time.Second
)

// Config configures the HTTP transport.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// HTTPTransport implements the batch, snapshot and view calls of a room
// client over resty.
type HTTPTransport struct {
	client  *resty.Client
	baseURL string

	mu    sync.RWMutex
	token string
}

// NewHTTPTransport constructs a transport.
func NewHTTPTransport(cfg Config) *HTTPTransport {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	cli := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	return &HTTPTransport{client: cli, baseURL: baseURL, token: strings.TrimSpace(cfg.Token)}
}

// SetToken replaces the session token used for later calls.
func (h *HTTPTransport) SetToken(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.token = strings.TrimSpace(token)
}

// Token returns the current session token.
func (h *HTTPTransport) Token() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.token
}

// RealtimeURL returns the websocket address of a room, with the session
// token in the query string.
func (h *HTTPTransport) RealtimeURL(roomID string) (string, error) {
	parsed, err := url.Parse(h.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/rooms/" + roomID + "/ws"
	parsed.RawPath = ""
	query := parsed.Query()
	query.Set("access_token", h.Token())
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// ApplyBatch sends one batch update.
func (h *HTTPTransport) ApplyBatch(ctx context.Context, request canvas.BatchRequest) (canvas.BatchResponse, error) {
	resp, err := h.authedRequest(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(request).
		Post(roomPath(request.RoomID, "shapes/batch"))
	if err != nil {
		return canvas.BatchResponse{}, fmt.Errorf("batch request: %w", err)
	}
	if err := mapHTTPError(resp); err != nil {
		return canvas.BatchResponse{}, err
	}
	var response canvas.BatchResponse
	if err := json.Unmarshal(resp.Body(), &response); err != nil {
		return canvas.BatchResponse{}, fmt.Errorf("decode batch response: %w", err)
	}
	return response, nil
}

// FetchSnapshot loads the authoritative shape map of a room.
func (h *HTTPTransport) FetchSnapshot(ctx context.Context, roomID string) (canvas.Snapshot, error) {
	resp, err := h.authedRequest(ctx).Get(roomPath(roomID, "snapshot"))
	if err != nil {
		return canvas.Snapshot{}, fmt.Errorf("snapshot request: %w", err)
	}
	if err := mapHTTPError(resp); err != nil {
		return canvas.Snapshot{}, err
	}
	var snapshot canvas.Snapshot
	if err := json.Unmarshal(resp.Body(), &snapshot); err != nil {
		return canvas.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if snapshot.Shapes == nil {
		snapshot.Shapes = make(map[string]canvas.Shape)
	}
	return snapshot, nil
}

// GetView loads the caller's stored view of a room.
func (h *HTTPTransport) GetView(ctx context.Context, roomID string) (canvas.View, error) {
	resp, err := h.authedRequest(ctx).Get(roomPath(roomID, "view"))
	if err != nil {
		return canvas.View{}, fmt.Errorf("view request: %w", err)
	}
	if err := mapHTTPError(resp); err != nil {
		return canvas.View{}, err
	}
	var view canvas.View
	if err := json.Unmarshal(resp.Body(), &view); err != nil {
		return canvas.View{}, fmt.Errorf("decode view: %w", err)
	}
	return view, nil
}

// SaveView stores the caller's view of a room.
func (h *HTTPTransport) SaveView(ctx context.Context, roomID string, view canvas.View) error {
	resp, err := h.authedRequest(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(view).
		Put(roomPath(roomID, "view"))
	if err != nil {
		return fmt.Errorf("save view request: %w", err)
	}
	return mapHTTPError(resp)
}

func (h *HTTPTransport) authedRequest(ctx context.Context) *resty.Request {
	request := h.client.R().SetContext(ctx)
	if token := h.Token(); token != "" {
		request.SetAuthToken(token)
	}
	return request
}

func roomPath(roomID, suffix string) string {
	return "/rooms/" + url.PathEscape(roomID) + "/" + suffix
}

func mapHTTPError(resp *resty.Response) error {
	if resp.StatusCode() >= http.StatusOK && resp.StatusCode() < http.StatusMultipleChoices {
		return nil
	}

	body := strings.TrimSpace(string(resp.Body()))

	switch {
	case resp.StatusCode() == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrBadRequest, body)
	case resp.StatusCode() == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, body)
	case resp.StatusCode() == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, body)
	case resp.StatusCode() >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s", ErrServer, body)
	default:
		if body == "" {
			body = http.StatusText(resp.StatusCode())
		}
		return fmt.Errorf("http %d: %s", resp.StatusCode(), body)
	}
}
