package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nevindra/pgagent"
)

func TestPostJSONSendsHeaders(t *testing.T) {
	var gotKey, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		gotType = r.Header.Get("Content-Type")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out struct{ OK bool }
	err := PostJSON(context.Background(), srv.Client(), "test", srv.URL, http.Header{"X-Api-Key": {"k"}}, map[string]string{}, &out)
	if err != nil {
		t.Fatal(err)
	}
	if !out.OK || gotKey != "k" || gotType != "application/json" {
		t.Errorf("out = %+v, key = %q, content-type = %q", out, gotKey, gotType)
	}
}

func TestPostJSONTransportErrorOmitsURL(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL + "/v1/call?key=SECRET"
	srv.Close()

	err := PostJSON(context.Background(), http.DefaultClient, "test", endpoint, nil, map[string]string{}, nil)
	var pc *pgagent.ErrProviderCall
	if !errors.As(err, &pc) {
		t.Fatalf("err = %v, want ErrProviderCall", err)
	}
	if strings.Contains(err.Error(), "SECRET") || strings.Contains(err.Error(), srv.URL) {
		t.Errorf("error leaks URL: %v", err)
	}
	if pc.Err == nil || strings.Contains(pc.Err.Error(), "SECRET") {
		t.Errorf("wrapped err = %v", pc.Err)
	}
}

func TestPostJSONStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	err := PostJSON(context.Background(), srv.Client(), "test", srv.URL, nil, map[string]string{}, nil)
	var pc *pgagent.ErrProviderCall
	if !errors.As(err, &pc) || pc.Status != http.StatusUnauthorized {
		t.Fatalf("err = %v", err)
	}
}
