// Package swap 封装 UniswapV2 风格兑换的报价与调用编码。
// 报价是纯读操作; 只有编排层会把编码结果提交上链。
package swap

import (
	"context"
	"math/big"
	"strings"
	"time"

	"CoVault/internal/chain"
	xerrors "CoVault/internal/errors"
	"CoVault/internal/integrations/erc20"
	"CoVault/internal/vault"
	"CoVault/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const (
	// DefaultSlippageBps 是默认滑点容忍度，0.5%。
	DefaultSlippageBps = 50
	// 兑换调用的链上有效期。
	deadlineWindow = 20 * time.Minute

	bpsDenominator = 10_000
)

const CodeNoPool xerrors.Code = "NO_POOL"

func init() {
	xerrors.Register(CodeNoPool, xerrors.Attributes{
		Message:   "no liquidity pool for asset pair",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

const routerABIJSON = `[
	{"name":"getAmountsOut","type":"function","stateMutability":"view","inputs":[
		{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],
	 "outputs":[{"name":"amounts","type":"uint256[]"}]},
	{"name":"swapExactTokensForTokens","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"amountIn","type":"uint256"},
		{"name":"amountOutMin","type":"uint256"},
		{"name":"path","type":"address[]"},
		{"name":"to","type":"address"},
		{"name":"deadline","type":"uint256"}],
	 "outputs":[{"name":"amounts","type":"uint256[]"}]}
]`

const factoryABIJSON = `[
	{"name":"getPair","type":"function","stateMutability":"view","inputs":[
		{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"}],
	 "outputs":[{"name":"pair","type":"address"}]}
]`

const wethABIJSON = `[
	{"name":"deposit","type":"function","stateMutability":"payable","inputs":[],"outputs":[]},
	{"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"wad","type":"uint256"}],"outputs":[]}
]`

var (
	routerABI  = mustParse(routerABIJSON)
	factoryABI = mustParse(factoryABIJSON)
	wethABI    = mustParse(wethABIJSON)
)

func mustParse(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("swap: bad embedded abi: " + err.Error())
	}
	return parsed
}

// Quote 是一次兑换报价的结果。
type Quote struct {
	Path        []common.Address
	ExpectedOut *big.Int
	MinOut      *big.Int
	SlippageBps int64
}

// Builder 面向单个网络的兑换配置编码调用。
type Builder struct {
	client web3.Client
	cfg    chain.SwapConfig
	now    func() time.Time
}

// NewBuilder 构造兑换调用编码器。
func NewBuilder(client web3.Client, cfg chain.SwapConfig) *Builder {
	return &Builder{client: client, cfg: cfg, now: time.Now}
}

// MinOutput 按滑点容忍度从期望产出推导最低可接受产出，向下取整。
func MinOutput(expected *big.Int, slippageBps int64) *big.Int {
	factor := big.NewInt(bpsDenominator - slippageBps)
	product := new(big.Int).Mul(expected, factor)
	return product.Div(product, big.NewInt(bpsDenominator))
}

// Quote 查询链上报价并套用滑点。交易对不存在时返回 NO_POOL。
func (b *Builder) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, slippageBps int64) (*Quote, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "兑换数量必须大于 0")
	}
	if slippageBps <= 0 {
		slippageBps = DefaultSlippageBps
	}
	if slippageBps >= bpsDenominator {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "滑点容忍度必须小于 100%")
	}

	pair, err := b.pairAddress(ctx, tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	if pair == (common.Address{}) {
		return nil, xerrors.New(CodeNoPool,
			"交易对没有流动性池: "+tokenIn.Hex()+" / "+tokenOut.Hex())
	}

	path := []common.Address{tokenIn, tokenOut}
	input, err := routerABI.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "编码报价调用失败")
	}
	router := b.cfg.Router
	out, err := b.client.CallContract(ctx, gethcore.CallMsg{To: &router, Data: input})
	if err != nil {
		return nil, err
	}
	values, err := routerABI.Unpack("getAmountsOut", out)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "解码报价返回失败")
	}
	amounts, ok := values[0].([]*big.Int)
	if !ok || len(amounts) == 0 {
		return nil, xerrors.New(xerrors.CodeUnknown, "报价返回为空")
	}

	expected := amounts[len(amounts)-1]
	return &Quote{
		Path:        path,
		ExpectedOut: expected,
		MinOut:      MinOutput(expected, slippageBps),
		SlippageBps: slippageBps,
	}, nil
}

func (b *Builder) pairAddress(ctx context.Context, tokenA, tokenB common.Address) (common.Address, error) {
	input, err := factoryABI.Pack("getPair", tokenA, tokenB)
	if err != nil {
		return common.Address{}, xerrors.Wrap(xerrors.CodeUnknown, err, "编码交易对查询失败")
	}
	factory := b.cfg.Factory
	out, err := b.client.CallContract(ctx, gethcore.CallMsg{To: &factory, Data: input})
	if err != nil {
		return common.Address{}, err
	}
	values, err := factoryABI.Unpack("getPair", out)
	if err != nil {
		return common.Address{}, xerrors.Wrap(xerrors.CodeUnknown, err, "解码交易对返回失败")
	}
	pair, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, xerrors.New(xerrors.CodeUnknown, "getPair 返回类型异常")
	}
	return pair, nil
}

// BuildSwapCalls 编码 "授权 + 兑换" 的两笔调用。
// 授权与兑换必须进入同一笔金库动作，避免授权被单独观察到。
func (b *Builder) BuildSwapCalls(vaultAddr common.Address, quote *Quote, amountIn *big.Int) ([]vault.Call, error) {
	if quote == nil || len(quote.Path) < 2 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "报价不完整")
	}
	approve, err := erc20.ApproveCall(quote.Path[0], b.cfg.Router, amountIn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "编码授权调用失败")
	}

	deadline := big.NewInt(b.now().Add(deadlineWindow).Unix())
	data, err := routerABI.Pack("swapExactTokensForTokens",
		amountIn, quote.MinOut, quote.Path, vaultAddr, deadline)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "编码兑换调用失败")
	}

	return []vault.Call{
		approve,
		{To: b.cfg.Router, Value: big.NewInt(0), Data: data},
	}, nil
}

// BuildWrapCall 编码原生资产的封装调用，金额通过 Value 携带。
func (b *Builder) BuildWrapCall(amount *big.Int) (vault.Call, error) {
	if amount == nil || amount.Sign() <= 0 {
		return vault.Call{}, xerrors.New(xerrors.CodeInvalidArgument, "封装数量必须大于 0")
	}
	data, err := wethABI.Pack("deposit")
	if err != nil {
		return vault.Call{}, xerrors.Wrap(xerrors.CodeUnknown, err, "编码封装调用失败")
	}
	return vault.Call{To: b.cfg.WrappedNative, Value: new(big.Int).Set(amount), Data: data}, nil
}

// BuildUnwrapCall 编码封装资产的解封调用。
func (b *Builder) BuildUnwrapCall(amount *big.Int) (vault.Call, error) {
	if amount == nil || amount.Sign() <= 0 {
		return vault.Call{}, xerrors.New(xerrors.CodeInvalidArgument, "解封数量必须大于 0")
	}
	data, err := wethABI.Pack("withdraw", amount)
	if err != nil {
		return vault.Call{}, xerrors.Wrap(xerrors.CodeUnknown, err, "编码解封调用失败")
	}
	return vault.Call{To: b.cfg.WrappedNative, Value: big.NewInt(0), Data: data}, nil
}
