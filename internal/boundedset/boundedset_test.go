package boundedset

import (
	"errors"
	"testing"

	"github.com/ncn-labs/tip-router/internal/ncnerrors"
)

func TestAppendUntilFull(t *testing.T) {
	b := New[int](2)
	if err := b.Append(1); err != nil {
		t.Fatalf("Append 1: %v", err)
	}
	if err := b.Append(2); err != nil {
		t.Fatalf("Append 2: %v", err)
	}
	if err := b.Append(3); !errors.Is(err, ncnerrors.ErrCapacityExceeded) {
		t.Fatalf("got %v, want ErrCapacityExceeded", err)
	}
	if b.Len() != 2 || b.Cap() != 2 || !b.Full() {
		t.Fatalf("unexpected state: len=%d cap=%d full=%v", b.Len(), b.Cap(), b.Full())
	}
}

func TestFindAndAt(t *testing.T) {
	b := New[string](4)
	_ = b.Append("a")
	_ = b.Append("b")
	_ = b.Append("c")

	if idx := b.Find(func(s string) bool { return s == "b" }); idx != 1 {
		t.Fatalf("Find(b) = %d, want 1", idx)
	}
	if idx := b.Find(func(s string) bool { return s == "z" }); idx != -1 {
		t.Fatalf("Find(z) = %d, want -1", idx)
	}
	if v, ok := b.At(0); !ok || v != "a" {
		t.Fatalf("At(0) = %q, %v", v, ok)
	}
	if _, ok := b.At(10); ok {
		t.Fatalf("At(10) should be out of range")
	}
}

func TestReplaceOutOfRange(t *testing.T) {
	b := New[int](1)
	_ = b.Append(1)
	if err := b.Replace(5, 9); !errors.Is(err, ncnerrors.ErrRangeOutOfBounds) {
		t.Fatalf("got %v, want ErrRangeOutOfBounds", err)
	}
	if err := b.Replace(0, 9); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	v, _ := b.At(0)
	if v != 9 {
		t.Fatalf("At(0) = %d, want 9", v)
	}
}
