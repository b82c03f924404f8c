package rgerr

import (
	stderrors "errors"
	"testing"
)

func TestWrapRoundTrip(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(base, CategoryIOWrite, "io_write_failed", "check directory permissions", true)
	if err == nil {
		t.Fatal("expected wrapped error")
	}
	if CategoryOf(err) != CategoryIOWrite {
		t.Fatalf("unexpected category: %s", CategoryOf(err))
	}
	if CodeOf(err) != "io_write_failed" {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if HintOf(err) != "check directory permissions" {
		t.Fatalf("unexpected hint: %s", HintOf(err))
	}
	if !RetryableOf(err) {
		t.Fatal("expected retryable true")
	}
	if !stderrors.Is(err, base) {
		t.Fatal("expected wrapped error to preserve cause")
	}
}

func TestUnknownErrorDefaults(t *testing.T) {
	err := stderrors.New("plain")
	if CategoryOf(err) != "" {
		t.Fatalf("unexpected category: %s", CategoryOf(err))
	}
	if CodeOf(err) != "" {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if HintOf(err) != "" {
		t.Fatalf("unexpected hint: %s", HintOf(err))
	}
	if RetryableOf(err) {
		t.Fatal("unexpected retryable true")
	}
}

func TestWrapNilCauseReturnsNil(t *testing.T) {
	if got := Wrap(nil, CategoryInternal, "internal_failure", "retry later", false); got != nil {
		t.Fatalf("expected nil wrapped error, got=%v", got)
	}
}

func TestClassifiedErrorNilCauseDefaults(t *testing.T) {
	err := &classifiedError{
		category:  CategoryInvoker,
		code:      "provider_error",
		hint:      "check invoker command",
		retryable: true,
	}
	if err.Error() != "unknown error" {
		t.Fatalf("unexpected nil-cause error text: %s", err.Error())
	}
	if err.Unwrap() != nil {
		t.Fatalf("expected unwrap nil for nil cause")
	}
	if err.Category() != CategoryInvoker {
		t.Fatalf("unexpected category: %s", err.Category())
	}
	if err.Code() != "provider_error" {
		t.Fatalf("unexpected code: %s", err.Code())
	}
	if err.Hint() != "check invoker command" {
		t.Fatalf("unexpected hint: %s", err.Hint())
	}
	if !err.Retryable() {
		t.Fatalf("expected retryable=true")
	}
}

func TestCategorySetIsStableAndUnique(t *testing.T) {
	categories := []Category{
		CategoryUsage,
		CategoryParse,
		CategoryIORead,
		CategoryIOWrite,
		CategoryInvoker,
		CategoryConfig,
		CategoryInternal,
	}
	seen := map[Category]struct{}{}
	for _, category := range categories {
		if category == "" {
			t.Fatalf("category must not be empty")
		}
		if _, exists := seen[category]; exists {
			t.Fatalf("duplicate category: %s", category)
		}
		seen[category] = struct{}{}
	}
	if len(seen) != 7 {
		t.Fatalf("expected 7 categories, got %d", len(seen))
	}
}

func TestExitCodeMapping(t *testing.T) {
	cases := []struct {
		category Category
		want     int
	}{
		{CategoryUsage, 2},
		{CategoryParse, 2},
		{CategoryIORead, 3},
		{CategoryIOWrite, 3},
		{CategoryInvoker, 1},
		{CategoryConfig, 1},
		{CategoryInternal, 1},
	}
	for _, tc := range cases {
		err := Wrap(stderrors.New("x"), tc.category, "code", "hint", false)
		if got := ExitCode(err); got != tc.want {
			t.Fatalf("category %s: exit code = %d, want %d", tc.category, got, tc.want)
		}
	}
	if ExitCode(nil) != 0 {
		t.Fatal("nil error should exit 0")
	}
}
