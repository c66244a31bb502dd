package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/54b3r/brandrag/internal/apperr"
)

// maxErrorBody bounds how much of a failed response is kept for the error.
const maxErrorBody = 2 << 10

// jsonTransport posts JSON to an embeddings endpoint and classifies the
// outcome for the adapter's retry policy:
//
//   - network errors, 408, 429 and 5xx are CodeProviderFailure (retried)
//   - any other 4xx is CodeProviderRejected (not retried)
//   - a 2xx body that does not decode is CodeProviderMalformed (not retried)
type jsonTransport struct {
	name   string
	client *http.Client
	// header is applied to every request (auth, api version).
	header http.Header
}

// errorMessage extracts a provider error message from a failed response.
type errorMessage func(body []byte) string

func (t *jsonTransport) post(ctx context.Context, url string, in, out any, msg errorMessage) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s embedder: marshal request: %w", t.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s embedder: create request: %w", t.name, err)
	}
	req.Header = t.header.Clone()
	if req.Header == nil {
		req.Header = http.Header{}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeProviderFailure, t.name+" embedder: request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		detail := ""
		if msg != nil {
			detail = msg(body)
		}
		if detail == "" {
			detail = strings.TrimSpace(string(body))
		}
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return apperr.Errorf(statusCode(resp.StatusCode), "%s embedder: HTTP %d: %s", t.name, resp.StatusCode, detail)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(err, apperr.CodeProviderMalformed, t.name+" embedder: decode response")
	}
	return nil
}

func statusCode(status int) apperr.Code {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return apperr.CodeProviderFailure
	default:
		return apperr.CodeProviderRejected
	}
}
