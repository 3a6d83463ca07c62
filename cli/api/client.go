// Package api is the HTTP client for a HealthCoach node. Client satisfies the
// ledger, scheme and oracle interfaces the coach facade is built on, so the CLI
// drives a remote node exactly as tests drive an in-process one.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"healthcoach/api/wire"
	"healthcoach/core/block"
	"healthcoach/core/decrypt"
	"healthcoach/core/fhe"
	"healthcoach/core/mempool"
	"healthcoach/core/oracle"
	"healthcoach/core/records"
	"healthcoach/types/ids"
)

const DefaultTimeout = 30 * time.Second

// receiptPoll is how long each long-poll for a receipt may hang on the node.
const receiptPoll = 25 * time.Second

// APIError is a non-2xx response from the node.
type APIError struct {
	StatusCode int
	Reason     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("node returned %d (%s): %s", e.StatusCode, e.Reason, e.Message)
	}
	return fmt.Sprintf("node returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps reason codes to the sentinels the in-process node returns.
func (e *APIError) Unwrap() error {
	switch e.Reason {
	case wire.ReasonBadSignature:
		return mempool.ErrBadSignature
	case wire.ReasonUnknownMethod:
		return mempool.ErrUnknownMethod
	case wire.ReasonDuplicate:
		return mempool.ErrDuplicate
	case wire.ReasonIncluded:
		return mempool.ErrAlreadyIncluded
	case wire.ReasonStaleNonce:
		return mempool.ErrStaleNonce
	case wire.ReasonPoolFull:
		return mempool.ErrPoolFull
	case wire.ReasonOracleRejected:
		return oracle.ErrRejected
	}
	return nil
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient talks to the node at baseURL. token, when non-empty, is sent as a
// bearer token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var e wire.ErrorResponse
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			apiErr.Reason, apiErr.Message = e.Reason, e.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) Network(ctx context.Context) (wire.NetworkInfo, error) {
	var info wire.NetworkInfo
	err := c.do(ctx, http.MethodGet, wire.APIPrefix+"/network", nil, &info)
	return info, err
}

func (c *Client) SendTransaction(ctx context.Context, tx mempool.Transaction) (ids.ID, error) {
	var resp wire.TxResponse
	if err := c.do(ctx, http.MethodPost, wire.APIPrefix+"/tx", tx, &resp); err != nil {
		return ids.Empty, err
	}
	return resp.TxID, nil
}

// Receipt returns the receipt for id without waiting.
func (c *Client) Receipt(ctx context.Context, id ids.ID) (block.Receipt, error) {
	var r block.Receipt
	err := c.do(ctx, http.MethodGet, wire.APIPrefix+"/tx/"+id.String()+"/receipt", nil, &r)
	return r, err
}

// WaitForReceipt long-polls the node until the transaction is included or ctx
// is done.
func (c *Client) WaitForReceipt(ctx context.Context, id ids.ID) (block.Receipt, error) {
	q := url.Values{"wait": {"true"}, "timeout": {receiptPoll.String()}}
	path := wire.APIPrefix + "/tx/" + id.String() + "/receipt?" + q.Encode()
	for {
		var r block.Receipt
		err := c.do(ctx, http.MethodGet, path, nil, &r)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusGatewayTimeout {
			if ctx.Err() != nil {
				return block.Receipt{}, ctx.Err()
			}
			continue
		}
		if err != nil && ctx.Err() != nil {
			return block.Receipt{}, ctx.Err()
		}
		return r, err
	}
}

func (c *Client) HasHealthRecord(ctx context.Context, identity common.Address) (bool, error) {
	var resp wire.ExistsResponse
	err := c.do(ctx, http.MethodGet, wire.APIPrefix+"/records/"+identity.Hex()+"/exists", nil, &resp)
	return resp.Exists, err
}

func (c *Client) GetEncryptedHealthData(ctx context.Context, identity common.Address) (records.HealthRecord, error) {
	var rec records.HealthRecord
	err := c.do(ctx, http.MethodGet, wire.APIPrefix+"/records/"+identity.Hex(), nil, &rec)
	return rec, err
}

// Encrypt asks the node's scheme service to encrypt req.Values.
func (c *Client) Encrypt(ctx context.Context, req fhe.EncryptRequest) (fhe.InputBatch, error) {
	var resp wire.EncryptResponse
	err := c.do(ctx, http.MethodPost, wire.APIPrefix+"/fhe/encrypt", wire.EncryptRequest{
		Values:          req.Values,
		UserAddress:     req.User,
		ContractAddress: req.Contract,
	}, &resp)
	if err != nil {
		return fhe.InputBatch{}, err
	}
	return fhe.InputBatch{Handles: resp.Handles, Proof: resp.InputProof}, nil
}

func (c *Client) UserDecrypt(ctx context.Context, req decrypt.Request) (decrypt.Response, error) {
	var resp decrypt.Response
	if err := c.do(ctx, http.MethodPost, wire.APIPrefix+"/oracle/user-decrypt", req, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}
