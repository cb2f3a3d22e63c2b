package services_test

import (
	"context"
	"testing"

	"vidrelay/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithCycleID(ctx, "cycle-1")
	ctx = services.WithSourcePath(ctx, "/videos/a.mp4")
	ctx = services.WithOperation(ctx, "upload")

	if id, ok := services.CycleIDFromContext(ctx); !ok || id != "cycle-1" {
		t.Fatalf("unexpected cycle id: %v %v", id, ok)
	}
	if path, ok := services.SourcePathFromContext(ctx); !ok || path != "/videos/a.mp4" {
		t.Fatalf("unexpected source path: %v %v", path, ok)
	}
	if op, ok := services.OperationFromContext(ctx); !ok || op != "upload" {
		t.Fatalf("unexpected operation: %v %v", op, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithCycleID(ctx, "")
	ctx = services.WithSourcePath(ctx, "")
	if _, ok := services.CycleIDFromContext(ctx); ok {
		t.Fatal("expected no cycle id")
	}
	if _, ok := services.SourcePathFromContext(ctx); ok {
		t.Fatal("expected no source path")
	}
}
