package renderbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// httpControlClient issues dispatch and cancel requests against a
// worker's HTTP control channel. It is intentionally separate from the
// worker's WebSocket session: the socket is inbound telemetry only.
type httpControlClient struct {
	hc *http.Client
}

func newHTTPControlClient(timeout time.Duration) *httpControlClient {
	return &httpControlClient{hc: &http.Client{Timeout: timeout}}
}

// submit POSTs a dispatch request to the worker's /prompt endpoint and
// returns the prompt id it assigns.
func (c *httpControlClient) submit(ctx context.Context, reg WorkerRegistration, req DispatchRequest) (DispatchResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return DispatchResponse{}, fmt.Errorf("marshal dispatch request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reg.EndpointURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return DispatchResponse{}, fmt.Errorf("build dispatch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if reg.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+reg.AuthToken)
	}

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return DispatchResponse{}, fmt.Errorf("dispatch to worker %s: %w", reg.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return DispatchResponse{}, fmt.Errorf("worker %s rejected dispatch: status %d", reg.Name, resp.StatusCode)
	}

	var out DispatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return DispatchResponse{}, fmt.Errorf("decode dispatch response: %w", err)
	}
	return out, nil
}

// abort asks the worker to cancel an in-flight prompt. Best-effort: the
// caller has already committed the database transition by the time
// this runs, so a failure here is logged, not surfaced.
func (c *httpControlClient) abort(ctx context.Context, reg WorkerRegistration, promptID string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reg.EndpointURL+"/interrupt", bytes.NewReader([]byte(`{"prompt_id":"`+promptID+`"}`)))
	if err != nil {
		return fmt.Errorf("build cancel request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if reg.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+reg.AuthToken)
	}

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return fmt.Errorf("cancel on worker %s: %w", reg.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("worker %s rejected cancel: status %d", reg.Name, resp.StatusCode)
	}
	return nil
}
