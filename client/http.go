package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"YieldRounds/internal/api"
)

// APIError is a request the node rejected.
type APIError struct {
	Status  int    // Status is the HTTP status code
	Kind    string // Kind is the error class reported by the node
	Message string // Message is the node's error text
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("status %d (%s): %s", e.Status, e.Kind, e.Message)
}

// doJSON sends body as JSON on behalf of caller and decodes the JSON response into result.
// A zero caller sends no identity header; nil body and result are skipped.
func (c *Client) doJSON(method, path string, caller common.Address, body, result any) error {
	var reader io.Reader
	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body:\n%w", err)
		}
		reader = bytes.NewReader(jsonBytes)
	}

	resp, err := c.send(method, path, caller, reader)
	if err != nil {
		return err
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if result == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("%s %s: decode response:\n%w", method, path, err)
	}

	return nil
}

// send performs the request and turns non-2xx responses into an *APIError.
func (c *Client) send(method, path string, caller common.Address, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request:\n%w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if caller != (common.Address{}) {
		req.Header.Set(api.CallerHeader, caller.Hex())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s:\n%w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

		apiErr := &APIError{Status: resp.StatusCode}

		var er api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&er) == nil {
			apiErr.Kind, apiErr.Message = er.Kind, er.Error
		}

		return nil, apiErr
	}

	return resp, nil
}
