package redisclient

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestNew_Pings(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := New(context.Background(), Config{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer rdb.Close()
}

func TestNew_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := New(context.Background(), Config{Addr: addr}); err == nil {
		t.Fatalf("expected ping failure for closed server")
	}
}
