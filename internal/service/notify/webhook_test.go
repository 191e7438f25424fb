package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	xhttp "ZWatch/pkg/http"
)

func TestWebhookSendDelivered(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhook(xhttp.NewClient(), srv.URL, nil)
	if !n.Send(context.Background(), "long -> short") {
		t.Fatalf("Send returned false for a 200 response")
	}
	if got["text"] != "long -> short" {
		t.Fatalf("posted text = %q, want %q", got["text"], "long -> short")
	}
}

func TestWebhookSendServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewWebhook(xhttp.NewClient(), srv.URL, nil)
	if n.Send(context.Background(), "status") {
		t.Fatalf("Send returned true for a 500 response")
	}
}

func TestWebhookSendDisabled(t *testing.T) {
	n := NewWebhook(xhttp.NewClient(), "", nil)
	if !n.Send(context.Background(), "status") {
		t.Fatalf("Send returned false with no webhook configured; disabled delivery should succeed")
	}
}
