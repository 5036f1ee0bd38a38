package yieldindex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"CoVault/internal/chain"
)

func newTestClient(t *testing.T, pools []Pool) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pools" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"data": pools})
	}))
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL})
}

func TestTopPoolsFiltersByProfileChainIdentifier(t *testing.T) {
	reg, err := chain.NewRegistry("")
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	profile, err := reg.Resolve(1)
	if err != nil {
		t.Fatalf("resolve mainnet: %v", err)
	}
	if profile.YieldIndex == "" {
		t.Fatal("mainnet profile must carry a yield index identifier")
	}

	client := newTestClient(t, []Pool{
		{ID: "a", Chain: "Ethereum", Project: "aave-v3", Symbol: "USDC", APY: 3.1},
		{ID: "b", Chain: "Arbitrum", Project: "aave-v3", Symbol: "USDC", APY: 9.9},
		{ID: "c", Chain: "ethereum", Project: "lido", Symbol: "STETH", APY: 4.2},
	})

	pools, err := client.TopPools(context.Background(), profile.YieldIndex, 10)
	if err != nil {
		t.Fatalf("top pools: %v", err)
	}
	if len(pools) != 2 {
		t.Fatalf("expected the two mainnet pools, got %d", len(pools))
	}
	// 年化收益率降序。
	if pools[0].ID != "c" || pools[1].ID != "a" {
		t.Fatalf("pools not sorted by apy: %+v", pools)
	}
}

func TestTopPoolsAppliesLimit(t *testing.T) {
	client := newTestClient(t, []Pool{
		{ID: "a", Chain: "Base", APY: 1},
		{ID: "b", Chain: "Base", APY: 2},
		{ID: "c", Chain: "Base", APY: 3},
	})

	pools, err := client.TopPools(context.Background(), "Base", 2)
	if err != nil {
		t.Fatalf("top pools: %v", err)
	}
	if len(pools) != 2 || pools[0].ID != "c" {
		t.Fatalf("limit not applied to the highest apy pools: %+v", pools)
	}
}

func TestTopPoolsRejectsEmptyChain(t *testing.T) {
	client := newTestClient(t, nil)
	if _, err := client.TopPools(context.Background(), "  ", 5); err == nil {
		t.Fatal("expected an error for a blank chain identifier")
	}
}
