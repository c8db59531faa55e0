package httppush

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stacktake/stacktake/pkg/engine"
)

func testBatch() *engine.Batch {
	return &engine.Batch{
		JobID: "job-1",
		Seq:   7,
		Artifacts: []engine.Artifact{
			{Provider: "aws", ResourceType: "bucket", ResourceID: "b-1"},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestNewRequiresEndpoint(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}

func TestSendPostsBatch(t *testing.T) {
	var gotBatch engine.Batch
	var gotJobHeader, gotSeqHeader, gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotJobHeader = r.Header.Get("X-Stacktake-Job-ID")
		gotSeqHeader = r.Header.Get("X-Stacktake-Batch-Seq")
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBatch); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tr, err := New(Config{
		Endpoint: srv.URL,
		Headers:  map[string]string{"Authorization": "Bearer token"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := tr.Send(context.Background(), testBatch()); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if gotJobHeader != "job-1" || gotSeqHeader != "7" {
		t.Errorf("unexpected identity headers: job=%q seq=%q", gotJobHeader, gotSeqHeader)
	}
	if gotAuth != "Bearer token" {
		t.Errorf("custom header not forwarded, got %q", gotAuth)
	}
	if gotBatch.JobID != "job-1" || len(gotBatch.Artifacts) != 1 {
		t.Errorf("unexpected batch payload: %+v", gotBatch)
	}
}

func TestSendClassifiesStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
		want   string
	}{
		{"rate limited", http.StatusTooManyRequests, engine.IsThrottled, "throttled"},
		{"server error", http.StatusInternalServerError, engine.IsTransient, "transient"},
		{"bad gateway", http.StatusBadGateway, engine.IsTransient, "transient"},
		{"bad request", http.StatusBadRequest, engine.IsPermanent, "permanent"},
		{"unauthorized", http.StatusUnauthorized, engine.IsPermanent, "permanent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			tr, err := New(Config{Endpoint: srv.URL})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			sendErr := tr.Send(context.Background(), testBatch())
			if sendErr == nil {
				t.Fatalf("expected error for status %d", tt.status)
			}
			if !tt.check(sendErr) {
				t.Errorf("expected %s classification for status %d, got %v", tt.want, tt.status, sendErr)
			}
		})
	}
}

func TestSendNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	tr, err := New(Config{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sendErr := tr.Send(context.Background(), testBatch())
	if sendErr == nil {
		t.Fatal("expected error for refused connection")
	}
	if !engine.IsTransient(sendErr) {
		t.Errorf("expected transient classification, got %v", sendErr)
	}
}
