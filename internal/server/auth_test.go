package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	keys := parseAPIKeys("old-key, new-key")
	tests := []struct {
		name      string
		keys      [][]byte
		header    string
		value     string
		want      int
		challenge bool
	}{
		{name: "disabled", keys: nil, want: http.StatusOK},
		{name: "missing", keys: keys, want: http.StatusUnauthorized, challenge: true},
		{name: "wrong bearer", keys: keys, header: "Authorization", value: "Bearer nope", want: http.StatusUnauthorized, challenge: true},
		{name: "current key", keys: keys, header: "Authorization", value: "Bearer new-key", want: http.StatusOK},
		{name: "rotated-out key still valid", keys: keys, header: "Authorization", value: "Bearer old-key", want: http.StatusOK},
		{name: "lowercase scheme", keys: keys, header: "Authorization", value: "bearer new-key", want: http.StatusOK},
		{name: "basic auth rejected", keys: keys, header: "Authorization", value: "Basic dXNlcjpwYXNz", want: http.StatusUnauthorized, challenge: true},
		{name: "api key header", keys: keys, header: apiKeyHeader, value: "new-key", want: http.StatusOK},
		{name: "api key header wrong", keys: keys, header: apiKeyHeader, value: "new-key-2", want: http.StatusUnauthorized, challenge: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/api/context", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			w := httptest.NewRecorder()
			authMiddleware(tc.keys, okHandler).ServeHTTP(w, req)

			if w.Code != tc.want {
				t.Fatalf("status: got %d, want %d", w.Code, tc.want)
			}
			if got := w.Header().Get("WWW-Authenticate") != ""; got != tc.challenge {
				t.Errorf("WWW-Authenticate present: got %t, want %t", got, tc.challenge)
			}
		})
	}
}

func TestParseAPIKeys(t *testing.T) {
	t.Parallel()

	cases := map[string]int{
		"":              0,
		" , ,":          0,
		"one":           1,
		"one,two":       2,
		" one , two ,,": 2,
	}
	for raw, want := range cases {
		if got := len(parseAPIKeys(raw)); got != want {
			t.Errorf("parseAPIKeys(%q): got %d keys, want %d", raw, got, want)
		}
	}
}

func TestRequestToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		auth, apiKey string
		want         string
	}{
		{"Bearer mytoken", "", "mytoken"},
		{"BEARER mytoken", "", "mytoken"},
		{"Bearer  spaced ", "", "spaced"},
		{"Basic dXNlcjpwYXNz", "", ""},
		{"Bearer", "", ""},
		{"", "from-header", "from-header"},
		{"Bearer wins", "from-header", "wins"},
		{"", "", ""},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.auth != "" {
			req.Header.Set("Authorization", tc.auth)
		}
		if tc.apiKey != "" {
			req.Header.Set(apiKeyHeader, tc.apiKey)
		}
		if got := requestToken(req); got != tc.want {
			t.Errorf("auth=%q key=%q: got %q, want %q", tc.auth, tc.apiKey, got, tc.want)
		}
	}
}
