// Package lending 封装借贷协议的存入与取回调用编码。
package lending

import (
	"math/big"
	"strings"

	"CoVault/internal/chain"
	xerrors "CoVault/internal/errors"
	"CoVault/internal/integrations/erc20"
	"CoVault/internal/vault"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const poolABIJSON = `[
	{"name":"supply","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"asset","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"onBehalfOf","type":"address"},
		{"name":"referralCode","type":"uint16"}],
	 "outputs":[]},
	{"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"asset","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"to","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

var poolABI abi.ABI

func init() {
	var err error
	poolABI, err = abi.JSON(strings.NewReader(poolABIJSON))
	if err != nil {
		panic("lending: bad embedded abi: " + err.Error())
	}
}

// Builder 面向单个网络的借贷市场编码调用。
type Builder struct {
	cfg chain.LendingConfig
}

// NewBuilder 构造借贷调用编码器。
func NewBuilder(cfg chain.LendingConfig) *Builder {
	return &Builder{cfg: cfg}
}

// BuildSupplyCalls 编码 "授权 + 存入" 的两笔调用，存入凭证记在金库名下。
func (b *Builder) BuildSupplyCalls(vaultAddr, asset common.Address, amount *big.Int) ([]vault.Call, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "存入数量必须大于 0")
	}
	approve, err := erc20.ApproveCall(asset, b.cfg.Pool, amount)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "编码授权调用失败")
	}
	data, err := poolABI.Pack("supply", asset, amount, vaultAddr, uint16(0))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "编码存入调用失败")
	}
	return []vault.Call{
		approve,
		{To: b.cfg.Pool, Value: big.NewInt(0), Data: data},
	}, nil
}

// BuildWithdrawCall 编码取回调用。取回无需预先授权，是单笔调用。
func (b *Builder) BuildWithdrawCall(vaultAddr, asset common.Address, amount *big.Int) (vault.Call, error) {
	if amount == nil || amount.Sign() <= 0 {
		return vault.Call{}, xerrors.New(xerrors.CodeInvalidArgument, "取回数量必须大于 0")
	}
	data, err := poolABI.Pack("withdraw", asset, amount, vaultAddr)
	if err != nil {
		return vault.Call{}, xerrors.Wrap(xerrors.CodeUnknown, err, "编码取回调用失败")
	}
	return vault.Call{To: b.cfg.Pool, Value: big.NewInt(0), Data: data}, nil
}
