package pool

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestHTTPDialer verifies dialing probes the endpoint before handing
// out a connection.
func TestHTTPDialer(t *testing.T) {
	t.Run("healthy endpoint dials", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" {
				w.WriteHeader(http.StatusOK)
				return
			}
			http.NotFound(w, r)
		}))
		defer srv.Close()

		d := NewHTTPDialer(srv.Client(), "/healthz")
		conn, err := d.Dial(context.Background(), srv.URL)
		if err != nil {
			t.Fatalf("Dial failed: %v", err)
		}
		defer conn.Close()

		if err := conn.Ping(context.Background()); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("unhealthy endpoint refused", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		d := NewHTTPDialer(srv.Client(), "/healthz")
		if _, err := d.Dial(context.Background(), srv.URL); err == nil {
			t.Error("expected dial to fail against unhealthy endpoint")
		}
	})

	t.Run("health path normalized", func(t *testing.T) {
		d := NewHTTPDialer(nil, "status")
		if d.healthPath != "/status" {
			t.Errorf("expected /status, got %s", d.healthPath)
		}
		if NewHTTPDialer(nil, "").healthPath != "/healthz" {
			t.Error("empty health path should default to /healthz")
		}
	})
}

// TestHTTPConn_Post verifies the request/response cycle and non-2xx
// handling.
func TestHTTPConn_Post(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz":
			w.WriteHeader(http.StatusOK)
		case "/echo":
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected JSON content type, got %s", ct)
			}
			body, _ := io.ReadAll(r.Body)
			w.Write(body)
		case "/boom":
			http.Error(w, "worker overloaded", http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	d := NewHTTPDialer(srv.Client(), "/healthz")
	conn, err := d.Dial(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	hc := conn.(*HTTPConn)

	t.Run("round trip", func(t *testing.T) {
		payload, _ := json.Marshal(map[string]string{"hello": "worker"})
		resp, err := hc.Post(context.Background(), "/echo", payload)
		if err != nil {
			t.Fatalf("Post failed: %v", err)
		}
		var got map[string]string
		if err := json.Unmarshal(resp, &got); err != nil || got["hello"] != "worker" {
			t.Errorf("echo mismatch: %s (%v)", resp, err)
		}
	})

	t.Run("non-2xx is an error carrying status and body", func(t *testing.T) {
		_, err := hc.Post(context.Background(), "/boom", nil)
		if err == nil {
			t.Fatal("expected error for 503")
		}
		if !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "worker overloaded") {
			t.Errorf("error should carry status and body: %v", err)
		}
	})
}
