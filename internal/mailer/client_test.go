package mailer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"bindery/internal/notify"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient("", "key"); err == nil {
		t.Fatalf("expected error for missing base URL")
	}
	if _, err := NewClient("https://mail.example.com", ""); err == nil {
		t.Fatalf("expected error for missing api key")
	}
}

func TestSend(t *testing.T) {
	var gotPath, gotAuth string
	var gotMsg notify.Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotMsg); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "mail-key")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	msg := notify.Message{From: "books@example.com", To: "reader@example.com", Subject: "hi", Body: "there"}
	if err := c.Send(context.Background(), msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotPath != "/messages" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer mail-key" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotMsg != msg {
		t.Fatalf("payload = %+v", gotMsg)
	}
}

func TestUpsert(t *testing.T) {
	var gotPath string
	var gotSub notify.Subscription
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotSub); err != nil {
			t.Errorf("decode body: %v", err)
		}
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "mail-key")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	sub := notify.Subscription{Email: "reader@example.com", List: "readers", Metadata: map[string]string{"product": "practical-indexing"}}
	if err := c.Upsert(context.Background(), sub); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if gotPath != "/lists/readers/members" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotSub.Email != sub.Email || gotSub.Metadata["product"] != "practical-indexing" {
		t.Fatalf("payload = %+v", gotSub)
	}
}

func TestSendSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "mail-key")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := c.Send(context.Background(), notify.Message{To: "reader@example.com"}); err == nil {
		t.Fatalf("expected error for 429 response")
	}
}
