package chain

import (
	"os"
	"path/filepath"
	"testing"

	xerrors "CoVault/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

func TestResolveBuiltinNetworks(t *testing.T) {
	reg, err := NewRegistry("")
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	for _, chainID := range []uint64{1, 8453, 42161, 11155111} {
		profile, err := reg.Resolve(chainID)
		if err != nil {
			t.Fatalf("resolve builtin %d: %v", chainID, err)
		}
		if profile.ChainID != chainID {
			t.Fatalf("profile chain id mismatch: %d", profile.ChainID)
		}
		if profile.RPCURL == "" || profile.TxServiceURL == "" {
			t.Fatalf("builtin %d missing endpoints: %+v", chainID, profile)
		}
	}
}

func TestResolveUnsupportedNetwork(t *testing.T) {
	reg, err := NewRegistry("")
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	if _, err := reg.Resolve(424242); !xerrors.Is(err, CodeUnsupportedNetwork) {
		t.Fatalf("expected UNSUPPORTED_NETWORK, got %v", err)
	}
}

func TestOverrideMergesKnownNetwork(t *testing.T) {
	path := writeNetworks(t, `
networks:
  - chain_id: 1
    rpc_url: "http://localhost:8545"
`)

	reg, err := NewRegistry(path)
	if err != nil {
		t.Fatalf("new registry with override: %v", err)
	}

	profile, err := reg.Resolve(1)
	if err != nil {
		t.Fatalf("resolve overridden mainnet: %v", err)
	}
	if profile.RPCURL != "http://localhost:8545" {
		t.Fatalf("rpc override not applied: %s", profile.RPCURL)
	}
	// 仅替换显式给出的字段，其余保持内置值。
	if profile.Name != "mainnet" || profile.NativeSymbol != "ETH" {
		t.Fatalf("untouched fields must survive the merge: %+v", profile)
	}
	if len(profile.DefaultAssets) == 0 {
		t.Fatal("builtin asset table must survive the merge")
	}
}

func TestOverrideAddsUnknownNetwork(t *testing.T) {
	path := writeNetworks(t, `
networks:
  - chain_id: 31337
    name: "anvil"
    native_symbol: "ETH"
    rpc_url: "http://localhost:8545"
    default_assets:
      - symbol: weth
        address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
        decimals: 18
    swap:
      router: "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"
      factory: "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f"
      wrapped_native: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
`)

	reg, err := NewRegistry(path)
	if err != nil {
		t.Fatalf("new registry with new network: %v", err)
	}

	profile, err := reg.Resolve(31337)
	if err != nil {
		t.Fatalf("resolve added network: %v", err)
	}
	if profile.Name != "anvil" {
		t.Fatalf("unexpected name: %s", profile.Name)
	}
	if len(profile.DefaultAssets) != 1 || profile.DefaultAssets[0].Symbol != "WETH" {
		t.Fatalf("asset symbols must be upper cased: %+v", profile.DefaultAssets)
	}
	if profile.Swap == nil || profile.Swap.WrappedNative != common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2") {
		t.Fatalf("swap config not parsed: %+v", profile.Swap)
	}
	// 新网络继承默认的金库合约地址表。
	if profile.Vault.Singleton == (common.Address{}) {
		t.Fatal("added network must inherit default vault contracts")
	}
}

func TestOverrideRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing chain id", "networks:\n  - name: broken\n"},
		{"bad address", "networks:\n  - chain_id: 7\n    default_assets:\n      - symbol: X\n        address: \"zzz\"\n        decimals: 18\n"},
	}
	for _, tc := range cases {
		path := writeNetworks(t, tc.yaml)
		if _, err := NewRegistry(path); err == nil {
			t.Errorf("%s: expected registry construction to fail", tc.name)
		}
	}
}

func TestProfilesSortedByChainID(t *testing.T) {
	reg, err := NewRegistry("")
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	profiles := reg.Profiles()
	if len(profiles) < 4 {
		t.Fatalf("expected at least four builtin networks, got %d", len(profiles))
	}
	for i := 1; i < len(profiles); i++ {
		if profiles[i-1].ChainID >= profiles[i].ChainID {
			t.Fatalf("profiles not sorted at index %d", i)
		}
	}
}

func writeNetworks(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "networks.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write networks file: %v", err)
	}
	return path
}
