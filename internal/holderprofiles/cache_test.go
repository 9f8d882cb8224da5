package holderprofiles

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/solwallet/orchestrator/internal/broker"
	"github.com/solwallet/orchestrator/internal/common"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := broker.New(mr.Addr(), 0, common.NewSilentLogger())
	t.Cleanup(func() { client.Close() })
	return New(client)
}

func TestCacheWalletRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	_, ok, err := c.GetWallet(ctx, "wallet-abc")
	if err != nil || ok {
		t.Fatalf("expected cache miss before any write, ok=%v err=%v", ok, err)
	}

	if err := c.CacheWallet(ctx, "wallet-abc", map[string]any{"balance": 42}, time.Hour); err != nil {
		t.Fatal(err)
	}

	result, ok, err := c.GetWallet(ctx, "wallet-abc")
	if err != nil || !ok {
		t.Fatalf("expected cache hit after write, ok=%v err=%v", ok, err)
	}
	if result.Data["balance"].(float64) != 42 {
		t.Fatalf("unexpected cached value: %+v", result.Data)
	}
}

func TestInvalidateForWalletClearsIndexedEntries(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	if err := c.CacheWallet(ctx, "wallet-abc", map[string]any{"x": 1}, time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := c.CacheToken(ctx, "mint-1", 10, map[string]any{"x": 1}, time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := c.IndexTokenUnderWallet(ctx, "wallet-abc", "mint-1", 10); err != nil {
		t.Fatal(err)
	}

	if err := c.InvalidateForWallet(ctx, "wallet-abc"); err != nil {
		t.Fatal(err)
	}

	if _, ok, _ := c.GetWallet(ctx, "wallet-abc"); ok {
		t.Fatal("expected wallet entry to be invalidated")
	}
	if _, ok, _ := c.GetToken(ctx, "mint-1", 10); ok {
		t.Fatal("expected indexed token entry to be invalidated alongside its wallet")
	}
}
