package blob

import (
	"context"
	"testing"
)

func TestMemory_PutGet(t *testing.T) {
	t.Parallel()

	s := NewMemory()
	ctx := context.Background()
	data := []byte("MZ\x90\x00")

	if err := s.Put(ctx, "abc", data); err != nil {
		t.Fatalf("Put: %v", err)
	}
	data[0] = 'X'

	got, ok, err := s.Get(ctx, "abc")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if string(got) != "MZ\x90\x00" {
		t.Errorf("Get = %q, stored slice was aliased", got)
	}

	got[1] = 'X'
	again, _, _ := s.Get(ctx, "abc")
	if again[1] != 'Z' {
		t.Error("Get returned shared slice")
	}
}

func TestMemory_Missing(t *testing.T) {
	t.Parallel()

	if _, ok, err := NewMemory().Get(context.Background(), "nope"); ok || err != nil {
		t.Errorf("Get = %v, %v, want not found", ok, err)
	}
}
