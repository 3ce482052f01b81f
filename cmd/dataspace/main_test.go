package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestRunPersistsBatch(t *testing.T) {
	t.Setenv("DATASPACE_STORAGE_DRIVER", "memory")
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	in := strings.NewReader(`[
		{"type":"order","state":"added","doc":{"total":5}},
		{"type":"order","state":"deleted","doc":{"id":"42"}}
	]`)
	var out bytes.Buffer
	if err := run(context.Background(), logger, "default", in, &out); err != nil {
		t.Fatalf("run: %v", err)
	}

	var results []result
	if err := json.Unmarshal(out.Bytes(), &results); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].State != "not_changed" {
		t.Fatalf("added result state = %q", results[0].State)
	}
	if results[0].Doc["id"] == "" || results[0].Doc["id"] == nil {
		t.Fatal("added entity should carry its generated id back")
	}
	if results[1].State != "deleted" || results[1].Doc != nil {
		t.Fatalf("deleted result = %+v", results[1])
	}
	if results[1].OriginalID != "42" {
		t.Fatalf("deleted original id = %q", results[1].OriginalID)
	}
}

func TestRunRejectsInvalidState(t *testing.T) {
	t.Setenv("DATASPACE_STORAGE_DRIVER", "memory")
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	in := strings.NewReader(`[{"type":"order","state":"exploded","doc":{}}]`)
	if err := run(context.Background(), logger, "default", in, &bytes.Buffer{}); err == nil {
		t.Fatal("expected invalid state error")
	}
}

func TestRunRejectsMalformedInput(t *testing.T) {
	t.Setenv("DATASPACE_STORAGE_DRIVER", "memory")
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	if err := run(context.Background(), logger, "default", strings.NewReader("{"), &bytes.Buffer{}); err == nil {
		t.Fatal("expected decode error")
	}
}
