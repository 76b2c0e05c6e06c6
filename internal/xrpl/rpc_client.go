package xrpl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"xrpl-nft-archiver/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// ErrAccountNotFound is returned when account_info reports actNotFound.
var ErrAccountNotFound = errors.New("account not found")

// HTTPClient implements RPCClient over the JSON-RPC HTTP API.
type HTTPClient struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a ledger JSON-RPC client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ RPCClient = (*HTTPClient)(nil)

// rpcRequest is a ledger JSON-RPC request: one method, one params object.
type rpcRequest struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
	ID     uint64        `json:"id,omitempty"`
}

// rpcResponse wraps every result, including errors, in "result".
type rpcResponse struct {
	Result json.RawMessage `json:"result"`
}

// RPCError is an error status reported inside a result.
type RPCError struct {
	Code    string `json:"error"`
	Number  int    `json:"error_code"`
	Message string `json:"error_message"`
	Status  string `json:"status"`
}

func (e *RPCError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("RPC error %s (%d): %s", e.Code, e.Number, e.Message)
	}
	return fmt.Sprintf("RPC error %s (%d)", e.Code, e.Number)
}

// call performs a JSON-RPC call with retries and exponential backoff.
// Transport failures, 429 and non-200 statuses are retried; errors reported
// by the server in the result are not.
func (c *HTTPClient) call(ctx context.Context, method string, params interface{}, result interface{}) error {
	reqBody := rpcRequest{
		Method: method,
		Params: []interface{}{params},
		ID:     c.requestID.Add(1),
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		var rpcErr RPCError
		if err := json.Unmarshal(rpcResp.Result, &rpcErr); err == nil && (rpcErr.Status == "error" || rpcErr.Code != "") {
			return &rpcErr
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}

		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// AccountInfo queries account_info against the validated ledger.
func (c *HTTPClient) AccountInfo(ctx context.Context, address string) (*AccountInfo, error) {
	params := map[string]interface{}{
		"account":      address,
		"ledger_index": "validated",
	}

	var result accountInfoResult
	if err := c.call(ctx, "account_info", params, &result); err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == "actNotFound" {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
		}
		return nil, err
	}

	return &AccountInfo{
		Account:   result.AccountData.Account,
		DomainHex: result.AccountData.Domain,
		Sequence:  result.AccountData.Sequence,
	}, nil
}

// Tx retrieves a transaction by hash.
func (c *HTTPClient) Tx(ctx context.Context, hash string) (*domain.LedgerEvent, error) {
	params := map[string]interface{}{
		"transaction": hash,
		"binary":      false,
	}

	var raw json.RawMessage
	if err := c.call(ctx, "tx", params, &raw); err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == "txnNotFound" {
			return nil, nil
		}
		return nil, err
	}

	return DecodeTransaction(raw)
}

// DecodeTransaction flattens a tx result or stream message into a LedgerEvent.
// Transaction fields come either from the top level or from a nested
// "tx_json"/"transaction" object; meta, hash and validation status are merged in.
func DecodeTransaction(raw json.RawMessage) (*domain.LedgerEvent, error) {
	var envelope txEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}

	body := raw
	switch {
	case len(envelope.TxJSON) > 0:
		body = envelope.TxJSON
	case len(envelope.Transaction) > 0:
		body = envelope.Transaction
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("decode transaction fields: %w", err)
	}
	delete(fields, "tx_json")
	delete(fields, "transaction")
	if len(envelope.Meta) > 0 {
		fields["meta"] = envelope.Meta
	}
	if envelope.Hash != "" {
		fields["hash"], _ = json.Marshal(envelope.Hash)
	}
	if envelope.LedgerIndex != 0 {
		fields["ledger_index"], _ = json.Marshal(envelope.LedgerIndex)
	}
	if envelope.Validated {
		fields["validated"] = json.RawMessage("true")
	}

	merged, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	return domain.DecodeLedgerEvent(merged)
}
