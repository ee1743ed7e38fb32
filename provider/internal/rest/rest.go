// Package rest holds the JSON-over-HTTP plumbing shared by the raw REST
// provider adapters.
package rest

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

	"github.com/nevindra/pgagent"
)

// maxErrorBody bounds how much of an error response ends up in a message.
const maxErrorBody = 512

// PostJSON marshals body, POSTs it to endpoint and decodes a 2xx response into
// out. Every failure is returned as *pgagent.ErrProviderCall.
func PostJSON(ctx context.Context, client *http.Client, provider, endpoint string, header http.Header, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return Errorf(provider, "marshal body: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Errorf(provider, "create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return CallError(provider, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Errorf(provider, "read response body: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &pgagent.ErrProviderCall{
			Provider: provider,
			Status:   resp.StatusCode,
			Message:  ErrorMessage(respBody),
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return Errorf(provider, "parse response JSON: %v", err)
	}
	return nil
}

// Errorf builds a status-less ErrProviderCall.
func Errorf(provider, format string, args ...any) error {
	return &pgagent.ErrProviderCall{Provider: provider, Message: fmt.Sprintf(format, args...)}
}

// ErrorMessage extracts a human-readable message from an error response.
// It understands {"error":{"message":...}}, {"error":"..."} and
// {"detail":"..."}, and falls back to the truncated raw body.
func ErrorMessage(body []byte) string {
	var envelope struct {
		Error  json.RawMessage `json:"error"`
		Detail string          `json:"detail"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		if len(envelope.Error) > 0 {
			var obj struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(envelope.Error, &obj) == nil && obj.Message != "" {
				return obj.Message
			}
			var s string
			if json.Unmarshal(envelope.Error, &s) == nil && s != "" {
				return s
			}
		}
		if envelope.Detail != "" {
			return envelope.Detail
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody] + "..."
	}
	if msg == "" {
		msg = "empty error body"
	}
	return msg
}

// ToFloat32 converts a decoded JSON vector.
func ToFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

// StatusError converts an SDK API error into ErrProviderCall, preferring the
// message from the raw JSON error body.
func StatusError(provider string, status int, rawJSON string, err error) error {
	msg := ""
	if rawJSON != "" {
		msg = ErrorMessage([]byte(rawJSON))
	}
	if msg == "" || msg == "empty error body" {
		msg = err.Error()
	}
	return &pgagent.ErrProviderCall{Provider: provider, Status: status, Message: msg, Err: err}
}

// CallError converts a transport or context failure into ErrProviderCall.
// The request URL is dropped from *url.Error so endpoints and query
// parameters never reach callers or logs.
func CallError(provider string, err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		err = uerr.Err
	}
	return &pgagent.ErrProviderCall{Provider: provider, Message: "request failed: " + err.Error(), Err: err}
}
