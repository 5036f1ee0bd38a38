// Package asset 把用户给出的符号或地址解析为规范的资产描述。
package asset

import (
	"context"
	"math/big"
	"strings"

	"CoVault/internal/chain"
	xerrors "CoVault/internal/errors"
	"CoVault/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

const CodeUnresolvableAsset xerrors.Code = "UNRESOLVABLE_ASSET"

func init() {
	xerrors.Register(CodeUnresolvableAsset, xerrors.Attributes{
		Message:   "asset cannot be resolved",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// decimalsSelector 是 ERC-20 decimals() 的函数选择器。
var decimalsSelector = []byte{0x31, 0x3c, 0xe5, 0x67}

// Resolver 合并网络默认资产与操作员自定义资产，并支持对
// 未登记地址做一次链上 decimals 读取。
type Resolver struct {
	profile *chain.NetworkProfile
	custom  []chain.Asset
	client  web3.Client
}

// NewResolver 构造资产解析器。custom 为操作员追加的资产表，可以为空。
func NewResolver(profile *chain.NetworkProfile, custom []chain.Asset, client web3.Client) *Resolver {
	return &Resolver{profile: profile, custom: custom, client: client}
}

// merged 返回默认资产与自定义资产的合并视图，地址冲突时默认表优先。
func (r *Resolver) merged() []chain.Asset {
	out := append([]chain.Asset(nil), r.profile.DefaultAssets...)
	known := make(map[common.Address]struct{}, len(out))
	for _, a := range out {
		known[a.Address] = struct{}{}
	}
	for _, a := range r.custom {
		if _, collides := known[a.Address]; collides {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Resolve 按顺序解析: 原生资产别名、合并资产表、链上即席读取。
// 输入既不是已知符号也不是合法地址时返回 UNRESOLVABLE_ASSET。
func (r *Resolver) Resolve(ctx context.Context, symbolOrAddress string) (chain.Asset, error) {
	input := strings.TrimSpace(symbolOrAddress)
	if input == "" {
		return chain.Asset{}, xerrors.New(CodeUnresolvableAsset, "资产标识不能为空")
	}

	// 原生资产按其封装形态定价，固定 18 位精度。
	if strings.EqualFold(input, r.profile.NativeSymbol) {
		if wrapped, ok := r.wrappedNative(); ok {
			return wrapped, nil
		}
	}

	for _, a := range r.merged() {
		if strings.EqualFold(input, a.Symbol) {
			return a, nil
		}
		if common.IsHexAddress(input) && common.HexToAddress(input) == a.Address {
			return a, nil
		}
	}

	if common.IsHexAddress(input) {
		return r.resolveOnChain(ctx, common.HexToAddress(input))
	}
	return chain.Asset{}, xerrors.New(CodeUnresolvableAsset, "未知资产: "+input)
}

// wrappedNative 返回原生资产的封装形态。
func (r *Resolver) wrappedNative() (chain.Asset, bool) {
	wrappedSymbol := "W" + strings.ToUpper(r.profile.NativeSymbol)
	if r.profile.Swap != nil {
		asset := chain.Asset{
			Symbol:   wrappedSymbol,
			Address:  r.profile.Swap.WrappedNative,
			Decimals: 18,
		}
		// 资产表里有登记时沿用登记的符号。
		for _, a := range r.merged() {
			if a.Address == asset.Address {
				asset.Symbol = a.Symbol
				break
			}
		}
		return asset, true
	}
	for _, a := range r.merged() {
		if strings.EqualFold(a.Symbol, wrappedSymbol) {
			return a, true
		}
	}
	return chain.Asset{}, false
}

// resolveOnChain 对未登记的地址直接读取 decimals，让任意 ERC-20
// 无需预先注册即可使用。读取失败说明地址上不是标准代币合约。
func (r *Resolver) resolveOnChain(ctx context.Context, address common.Address) (chain.Asset, error) {
	if r.client == nil {
		return chain.Asset{}, xerrors.New(CodeUnresolvableAsset,
			"地址未登记且没有可用的链上客户端: "+address.Hex())
	}
	out, err := r.client.CallContract(ctx, gethcore.CallMsg{To: &address, Data: decimalsSelector})
	if err != nil {
		return chain.Asset{}, xerrors.Wrap(xerrors.CodeNetworkFailure, err,
			"读取代币精度失败: "+address.Hex())
	}
	if len(out) == 0 {
		return chain.Asset{}, xerrors.New(CodeUnresolvableAsset,
			"地址上没有可识别的代币合约: "+address.Hex())
	}
	decimals := new(big.Int).SetBytes(out)
	if !decimals.IsUint64() || decimals.Uint64() > 255 {
		return chain.Asset{}, xerrors.New(CodeUnresolvableAsset,
			"代币精度超出合理范围: "+address.Hex())
	}
	return chain.Asset{
		Symbol:   "ERC20",
		Address:  address,
		Decimals: uint8(decimals.Uint64()),
	}, nil
}
