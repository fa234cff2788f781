package mint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// HTTP posts mint requests as JSON to an external minting service.
type HTTP struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTP(endpoint string, timeout time.Duration) *HTTP {
	return &HTTP{Endpoint: endpoint, Client: &http.Client{Timeout: timeout}}
}

func (h *HTTP) Mint(ctx context.Context, req Request) (Receipt, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: marshal request: %v", ErrMintFailed, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: create request: %v", ErrMintFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.Game.String())
	httpReq.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := h.Client.Do(httpReq)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: request failed: %v", ErrMintFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: read response: %v", ErrMintFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Receipt{}, fmt.Errorf("%w: status %d: %s", ErrMintFailed, resp.StatusCode, bytes.TrimSpace(body))
	}

	var r Receipt
	if err := json.Unmarshal(body, &r); err != nil {
		return Receipt{}, fmt.Errorf("%w: parse response: %v", ErrMintFailed, err)
	}
	if r.Mint.IsZero() {
		return Receipt{}, fmt.Errorf("%w: response has no mint", ErrMintFailed)
	}
	return r, nil
}
