package chain

import (
	xerrors "CoVault/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

// Asset 描述网络上一个默认可用的代币。
type Asset struct {
	Symbol   string         `json:"symbol"`
	Address  common.Address `json:"address"`
	Decimals uint8          `json:"decimals"`
}

// SwapConfig 描述启用 swap 集成所需的链上合约地址。
type SwapConfig struct {
	Router        common.Address `json:"router"`
	Factory       common.Address `json:"factory"`
	WrappedNative common.Address `json:"wrapped_native"`
}

// LendingConfig 描述启用 lending 集成所需的链上合约地址。
type LendingConfig struct {
	Pool common.Address `json:"pool"`
}

// VaultContracts 列出金库账户体系在该网络的基础合约地址。
// 这些地址通过确定性部署在各网络上保持一致，仅在私链上需要覆盖。
type VaultContracts struct {
	Singleton       common.Address `json:"singleton"`
	ProxyFactory    common.Address `json:"proxy_factory"`
	MultiSend       common.Address `json:"multi_send"`
	FallbackHandler common.Address `json:"fallback_handler"`
}

// NetworkProfile 是一个网络的全部静态配置。启动时加载后不再变更。
type NetworkProfile struct {
	ChainID       uint64         `json:"chain_id"`
	Name          string         `json:"name"`
	NativeSymbol  string         `json:"native_symbol"`
	RPCURL        string         `json:"rpc_url"`
	TxServiceURL  string         `json:"tx_service_url"`
	// YieldIndex 是收益聚合服务对该网络的命名，与 ChainID 无关。
	YieldIndex    string         `json:"yield_index,omitempty"`
	DefaultAssets []Asset        `json:"default_assets"`
	Swap          *SwapConfig    `json:"swap,omitempty"`
	Lending       *LendingConfig `json:"lending,omitempty"`
	Vault         VaultContracts `json:"vault"`
}

// SwapEnabled 判断该网络是否可以构建 swap 动作。
func (p NetworkProfile) SwapEnabled() bool {
	return p.Swap != nil
}

// LendingEnabled 判断该网络是否可以构建 lending 动作。
func (p NetworkProfile) LendingEnabled() bool {
	return p.Lending != nil
}

// ErrUnsupportedNetwork 表示请求的网络不在注册表中。
var ErrUnsupportedNetwork = xerrors.New(CodeUnsupportedNetwork, "unsupported network")

const (
	CodeUnsupportedNetwork xerrors.Code = "UNSUPPORTED_NETWORK"
)

func init() {
	xerrors.Register(CodeUnsupportedNetwork, xerrors.Attributes{
		Message:   "unsupported network",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}
