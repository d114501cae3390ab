package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPutDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/put/x" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["value"] != "v1" {
			t.Fatalf("got value %q, want v1", body["value"])
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(PutResponse{Success: true, UsedVC: map[string]uint64{"A": 1}})
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	resp, err := c.Put(context.Background(), "x", "v1")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !resp.Success || resp.UsedVC["A"] != 1 {
		t.Fatalf("got %+v", resp)
	}
}

func TestGetReturnsAPIErrorOn503(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": "not enough replicas responded"})
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	_, err := c.Get(context.Background(), "x")
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("got error %T, want *APIError", err)
	}
	if apiErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("got status %d, want 503", apiErr.Status)
	}
}

func TestRepairOnceDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(RepairResult{OK: true, Target: "B", Merged: 2, Pushed: 2})
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	result, err := c.RepairOnce(context.Background(), "x")
	if err != nil {
		t.Fatalf("RepairOnce: %v", err)
	}
	if !result.OK || result.Target != "B" || result.Merged != 2 {
		t.Fatalf("got %+v", result)
	}
}

func TestSetDelayAndClearDelay(t *testing.T) {
	var gotDelay int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/control/delay":
			var body map[string]int
			json.NewDecoder(r.Body).Decode(&body)
			gotDelay = body["delay_ms"]
		case "/control/clear_delay":
			gotDelay = 0
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	if err := c.SetDelay(context.Background(), 250); err != nil {
		t.Fatalf("SetDelay: %v", err)
	}
	if gotDelay != 250 {
		t.Fatalf("got delay %d, want 250", gotDelay)
	}
	if err := c.ClearDelay(context.Background()); err != nil {
		t.Fatalf("ClearDelay: %v", err)
	}
	if gotDelay != 0 {
		t.Fatalf("expected delay cleared")
	}
}

func TestPingDecodesNodeID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(PingResponse{Status: "ok", Node: "A"})
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	resp, err := c.Ping(context.Background())
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if resp.Node != "A" {
		t.Fatalf("got node %q, want A", resp.Node)
	}
}
