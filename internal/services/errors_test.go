package services_test

import (
	"errors"
	"strings"
	"testing"

	"vidrelay/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrTransient, "upload", "post chunk", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"upload", "post chunk", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient", services.Wrap(services.ErrTransient, "download", "get", "", errors.New("reset")), true},
		{"protocol", services.Wrap(services.ErrProtocol, "upload", "decode", "", nil), true},
		{"permanent", services.Wrap(services.ErrPermanent, "download", "get", "404", nil), false},
		{"filesystem", services.Wrap(services.ErrFilesystem, "download", "open", "", nil), false},
		{"plain", errors.New("unclassified"), true},
	}
	for _, tc := range cases {
		if got := services.Retryable(tc.err); got != tc.want {
			t.Fatalf("%s: Retryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCategoryLabels(t *testing.T) {
	if got := services.Category(services.Wrap(services.ErrPermanent, "", "", "", nil)); got != "permanent" {
		t.Fatalf("unexpected category %q", got)
	}
	if got := services.Category(errors.New("x")); got != "transient" {
		t.Fatalf("unexpected category %q", got)
	}
	if got := services.Category(nil); got != "" {
		t.Fatalf("expected empty category for nil, got %q", got)
	}
}
