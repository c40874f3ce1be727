package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/liamvmurphy/pokestock-sub001/config"
	"github.com/liamvmurphy/pokestock-sub001/models"
)

func testConfig(url string) config.ClassifierConfig {
	return config.ClassifierConfig{
		URL:     url,
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
		Timeout: 2 * time.Second,
	}
}

func chatReply(content string) string {
	reply := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
	data, _ := json.Marshal(reply)
	return string(data)
}

func TestClassifySuccess(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" {
			t.Errorf("unexpected model %q", req.Model)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatReply(`{"item_name":"151 Elite Trainer Box","set_name":"151","product_type":"etb","condition":"sealed","language":"english","confidence":0.92,"authenticity":"likely_genuine"}`)))
	}))
	defer server.Close()

	c := New(testConfig(server.URL), server.Client())
	got, err := c.Classify(context.Background(), models.RawListing{
		Title:     "Pokemon 151 ETB sealed",
		PriceText: "$165",
	})
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if got.ItemName != "151 Elite Trainer Box" {
		t.Fatalf("unexpected item name %q", got.ItemName)
	}
	if got.ProductType != "etb" || got.Condition != "sealed" {
		t.Fatalf("unexpected attributes %+v", got)
	}
	if got.Confidence != 0.92 {
		t.Fatalf("unexpected confidence %v", got.Confidence)
	}
}

func TestClassifyHandlesMarkdownFencedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatReply("```json\n{\"item_name\":\"Charizard PSA 9\",\"confidence\":0.8}\n```")))
	}))
	defer server.Close()

	c := New(testConfig(server.URL), server.Client())
	got, err := c.Classify(context.Background(), models.RawListing{Title: "charizard"})
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	if got.ItemName != "Charizard PSA 9" {
		t.Fatalf("unexpected item name %q", got.ItemName)
	}
}

func TestClassifyServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := New(testConfig(server.URL), server.Client())
	_, err := c.Classify(context.Background(), models.RawListing{Title: "anything"})
	if !errors.Is(err, ErrClassification) {
		t.Fatalf("expected ErrClassification, got %v", err)
	}
}

func TestClassifyTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	cfg := testConfig(server.URL)
	cfg.Timeout = 50 * time.Millisecond

	c := New(cfg, server.Client())
	start := time.Now()
	_, err := c.Classify(context.Background(), models.RawListing{Title: "anything"})
	if !errors.Is(err, ErrClassification) {
		t.Fatalf("expected ErrClassification on timeout, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("timeout not bounded")
	}
}

func TestClassifyRejectsMissingItemName(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatReply(`{"set_name":"151","confidence":0.9}`)))
	}))
	defer server.Close()

	c := New(testConfig(server.URL), server.Client())
	_, err := c.Classify(context.Background(), models.RawListing{Title: "anything"})
	if !errors.Is(err, ErrClassification) {
		t.Fatalf("expected ErrClassification for missing item_name, got %v", err)
	}
}

func TestClassifyClampsConfidence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatReply(`{"item_name":"x","confidence":3.5}`)))
	}))
	defer server.Close()

	c := New(testConfig(server.URL), server.Client())
	got, err := c.Classify(context.Background(), models.RawListing{Title: "x"})
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	if got.Confidence != 1 {
		t.Fatalf("confidence should clamp to 1, got %v", got.Confidence)
	}
}
