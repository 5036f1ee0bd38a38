package chain

import (
	"fmt"
	"os"
	"sort"
	"strings"

	xerrors "CoVault/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Definitions models the structure of an operator supplied networks.yaml.
// Addresses are plain hex strings in the file and validated on load.
type Definitions struct {
	Networks []NetworkDefinition `yaml:"networks"`
}

// NetworkDefinition 是 YAML 覆盖文件中单个网络的原始形态。
type NetworkDefinition struct {
	ChainID       uint64            `yaml:"chain_id"`
	Name          string            `yaml:"name"`
	NativeSymbol  string            `yaml:"native_symbol"`
	RPCURL        string            `yaml:"rpc_url"`
	TxServiceURL  string            `yaml:"tx_service_url"`
	YieldIndex    string            `yaml:"yield_index"`
	DefaultAssets []AssetDefinition `yaml:"default_assets"`
	Swap          *struct {
		Router        string `yaml:"router"`
		Factory       string `yaml:"factory"`
		WrappedNative string `yaml:"wrapped_native"`
	} `yaml:"swap"`
	Lending *struct {
		Pool string `yaml:"pool"`
	} `yaml:"lending"`
}

// AssetDefinition 是 YAML 覆盖文件中的代币条目。
type AssetDefinition struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
}

// LoadDefinitions parses the YAML file containing network overrides.
func LoadDefinitions(path string) (Definitions, error) {
	if strings.TrimSpace(path) == "" {
		return Definitions{}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("读取网络配置失败: %w", err)
	}

	var defs Definitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return Definitions{}, fmt.Errorf("解析网络配置失败: %w", err)
	}
	return defs, nil
}

// Registry 保存进程生命周期内不变的网络档案表。
type Registry struct {
	profiles map[uint64]NetworkProfile
}

// NewRegistry 构建注册表：内置网络表叠加可选的 YAML 覆盖。
// 覆盖按 chain_id 合并：已知网络仅替换显式给出的字段，未知网络整体加入。
func NewRegistry(overridePath string) (*Registry, error) {
	defs, err := LoadDefinitions(overridePath)
	if err != nil {
		return nil, err
	}

	profiles := builtinProfiles()
	for _, def := range defs.Networks {
		if def.ChainID == 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "网络覆盖缺少 chain_id")
		}
		base, known := profiles[def.ChainID]
		if !known {
			base = NetworkProfile{ChainID: def.ChainID, Vault: defaultVaultContracts}
		}
		merged, err := applyDefinition(base, def)
		if err != nil {
			return nil, err
		}
		profiles[def.ChainID] = merged
	}

	return &Registry{profiles: profiles}, nil
}

func applyDefinition(base NetworkProfile, def NetworkDefinition) (NetworkProfile, error) {
	merged := base
	if def.Name != "" {
		merged.Name = def.Name
	}
	if def.NativeSymbol != "" {
		merged.NativeSymbol = def.NativeSymbol
	}
	if def.RPCURL != "" {
		merged.RPCURL = def.RPCURL
	}
	if def.TxServiceURL != "" {
		merged.TxServiceURL = def.TxServiceURL
	}
	if def.YieldIndex != "" {
		merged.YieldIndex = def.YieldIndex
	}
	if len(def.DefaultAssets) > 0 {
		assets := make([]Asset, 0, len(def.DefaultAssets))
		for _, entry := range def.DefaultAssets {
			addr, err := parseAddress(entry.Address)
			if err != nil {
				return NetworkProfile{}, fmt.Errorf("网络 %d 代币 %s: %w", def.ChainID, entry.Symbol, err)
			}
			assets = append(assets, Asset{Symbol: strings.ToUpper(entry.Symbol), Address: addr, Decimals: entry.Decimals})
		}
		merged.DefaultAssets = assets
	}
	if def.Swap != nil {
		router, err := parseAddress(def.Swap.Router)
		if err != nil {
			return NetworkProfile{}, fmt.Errorf("网络 %d swap router: %w", def.ChainID, err)
		}
		factory, err := parseAddress(def.Swap.Factory)
		if err != nil {
			return NetworkProfile{}, fmt.Errorf("网络 %d swap factory: %w", def.ChainID, err)
		}
		wrapped, err := parseAddress(def.Swap.WrappedNative)
		if err != nil {
			return NetworkProfile{}, fmt.Errorf("网络 %d wrapped native: %w", def.ChainID, err)
		}
		merged.Swap = &SwapConfig{Router: router, Factory: factory, WrappedNative: wrapped}
	}
	if def.Lending != nil {
		pool, err := parseAddress(def.Lending.Pool)
		if err != nil {
			return NetworkProfile{}, fmt.Errorf("网络 %d lending pool: %w", def.ChainID, err)
		}
		merged.Lending = &LendingConfig{Pool: pool}
	}
	return merged, nil
}

func parseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("非法地址 %q", raw))
	}
	return common.HexToAddress(raw), nil
}

// Resolve 返回指定网络的档案。
func (r *Registry) Resolve(chainID uint64) (NetworkProfile, error) {
	if r == nil {
		return NetworkProfile{}, xerrors.New(xerrors.CodeInitializationFailure, "网络注册表未初始化")
	}
	profile, ok := r.profiles[chainID]
	if !ok {
		return NetworkProfile{}, xerrors.New(CodeUnsupportedNetwork, fmt.Sprintf("网络 %d 不受支持", chainID))
	}
	return profile, nil
}

// Profiles 按 chain_id 升序返回所有已知网络。
func (r *Registry) Profiles() []NetworkProfile {
	if r == nil {
		return nil
	}
	out := make([]NetworkProfile, 0, len(r.profiles))
	for _, profile := range r.profiles {
		out = append(out, profile)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}
