package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRegister_PanicsOnBadInput(t *testing.T) {
	t.Parallel()

	nop := func(context.Context, Config) (Repository, error) { return nil, nil }

	tests := []struct {
		name string
		kind string
		f    Factory
	}{
		{name: "empty_kind", kind: "", f: nop},
		{name: "nil_factory", kind: "test-nil", f: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic")
				}
			}()
			Register(tc.kind, tc.f)
		})
	}

	Register("test-dup", nop)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate kind")
		}
	}()
	Register("test-dup", nop)
}

func TestOpen(t *testing.T) {
	t.Parallel()

	var got Config
	Register("test-open", func(_ context.Context, cfg Config) (Repository, error) {
		got = cfg
		return nil, errors.New("boom")
	})

	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty kind")
	}
	if _, err := Open(context.Background(), Config{Kind: "nope"}); err == nil || !strings.Contains(err.Error(), "unsupported storage kind") {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := Open(context.Background(), Config{Kind: "test-open", DSN: "x", MaxConns: 3})
	if err == nil || err.Error() != "boom" {
		t.Fatalf("factory error not propagated: %v", err)
	}
	if got.DSN != "x" || got.MaxConns != 3 {
		t.Fatalf("factory got cfg=%+v", got)
	}
}

func TestFilter_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		f       Filter
		wantErr bool
	}{
		{name: "empty", f: Filter{}},
		{name: "range", f: Filter{DateFrom: "2024-01-01", DateTo: "2024-01-31"}},
		{name: "same_day", f: Filter{DateFrom: "2024-01-01", DateTo: "2024-01-01"}},
		{name: "bad_format", f: Filter{DateFrom: "01.01.2024"}, wantErr: true},
		{name: "inverted", f: Filter{DateFrom: "2024-02-01", DateTo: "2024-01-01"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.f.Validate(); (err != nil) != tc.wantErr {
				t.Fatalf("Validate()=%v wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestFilter_ListsSkipsEmptyAndMapsPositionToLocation(t *testing.T) {
	t.Parallel()

	lists := Filter{
		Categories: []string{"backend"},
		Positions:  []string{"kraków"},
	}.Lists()

	if len(lists) != 2 {
		t.Fatalf("lists=%+v", lists)
	}
	if lists[0].Column != "category" || lists[1].Column != "location" || lists[1].Values[0] != "kraków" {
		t.Fatalf("lists=%+v", lists)
	}
}

func TestConflictError(t *testing.T) {
	t.Parallel()

	cause := errors.New("unique violation")
	var err error = &ConflictError{Key: KeyLink, Err: cause}

	var ce *ConflictError
	if !errors.As(err, &ce) || ce.Key != KeyLink {
		t.Fatalf("errors.As failed: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause not unwrapped")
	}
	if !strings.Contains(err.Error(), "link key conflict") {
		t.Fatalf("message=%q", err.Error())
	}
	if !DimYearMonth.Valid() || Dimension("salary").Valid() {
		t.Fatalf("dimension validation is wrong")
	}
}
