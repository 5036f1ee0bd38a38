// Package orchestrator 实现金库动作的提案、确认与执行生命周期。
// 它把高层意图(转账、兑换、存入、取回)编排为单个金库动作:
// 组装动作 -> 计算规范哈希 -> 智能体签名 -> 提交协调服务 -> 落盘提案,
// 这五步的顺序不可调换，签名必须恰好覆盖最终组装出的动作哈希。
package orchestrator

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"CoVault/internal/asset"
	"CoVault/internal/chain"
	xerrors "CoVault/internal/errors"
	"CoVault/internal/identity"
	"CoVault/internal/integrations/erc20"
	"CoVault/internal/integrations/lending"
	"CoVault/internal/integrations/swap"
	"CoVault/internal/notify"
	"CoVault/internal/observability/alerting"
	"CoVault/internal/observability/metrics"
	"CoVault/internal/proposal"
	"CoVault/internal/store"
	"CoVault/internal/txservice"
	"CoVault/internal/vault"
	"CoVault/internal/web3"
	"CoVault/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

const (
	CodeIntegrationUnavailable xerrors.Code = "INTEGRATION_UNAVAILABLE"
	CodeAlreadyExecuted        xerrors.Code = "ALREADY_EXECUTED"
)

func init() {
	xerrors.Register(CodeIntegrationUnavailable, xerrors.Attributes{
		Message:   "integration not available on this network",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeAlreadyExecuted, xerrors.Attributes{
		Message:   "proposal already executed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// Orchestrator 面向单个网络上的单个活跃金库工作。
// 设计假设每个进程同一时刻至多一个在途编排操作，本地提案账本
// 只是协调服务的缓存，确认计数永远以远端为准。
type Orchestrator struct {
	profile *chain.NetworkProfile
	store   store.Store
	client  web3.Client
	agent   *identity.Identity
	account vault.Account
	service txservice.Service
	swaps   *swap.Builder
	lending *lending.Builder
	events  notify.Publisher
	alerts  alerting.Dispatcher
	log     *slog.Logger
}

// Options 汇集编排器的全部依赖。
type Options struct {
	Profile *chain.NetworkProfile
	Store   store.Store
	Client  web3.Client
	Agent   *identity.Identity
	Account vault.Account
	Service txservice.Service
	Swap    *swap.Builder
	Lending *lending.Builder
	Events  notify.Publisher
	Alerts  alerting.Dispatcher
}

// New 构造编排器。Account 为 nil 表示活跃金库尚未部署，
// 此时所有提案操作都会以前置条件错误拒绝。
func New(opts Options) (*Orchestrator, error) {
	if opts.Profile == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "网络档案不能为空")
	}
	if opts.Store == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "持久化存储不能为空")
	}
	if opts.Agent == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "智能体身份不能为空")
	}
	if opts.Service == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "协调服务客户端不能为空")
	}
	events := opts.Events
	if events == nil {
		events = notify.NewLogPublisher()
	}
	alerts := opts.Alerts
	if alerts == nil {
		alerts = alerting.NewFanout(&alerting.LogNotifier{})
	}
	return &Orchestrator{
		profile: opts.Profile,
		store:   opts.Store,
		client:  opts.Client,
		agent:   opts.Agent,
		account: opts.Account,
		service: opts.Service,
		swaps:   opts.Swap,
		lending: opts.Lending,
		events:  events,
		alerts:  alerts,
		log:     logger.Named("orchestrator"),
	}, nil
}

func (o *Orchestrator) requireAccount() (vault.Account, error) {
	if o.account == nil {
		return nil, xerrors.New(vault.CodeVaultNotDeployed,
			"当前网络还没有已部署的活跃金库")
	}
	return o.account, nil
}

// resolver 以读取时点的自定义资产表构造解析器，保证操作员
// 新登记的资产立即可用。
func (o *Orchestrator) resolver(ctx context.Context) (*asset.Resolver, error) {
	var custom []chain.Asset
	state, err := o.store.LoadState(ctx)
	if err == nil {
		custom = state.CustomAssets[o.profile.ChainID]
	} else if xerrors.CodeOf(err) != xerrors.CodeNotFound {
		return nil, err
	}
	return asset.NewResolver(o.profile, custom, o.client), nil
}

// ResolveAsset 解析符号或地址为规范资产描述。
func (o *Orchestrator) ResolveAsset(ctx context.Context, symbolOrAddress string) (chain.Asset, error) {
	r, err := o.resolver(ctx)
	if err != nil {
		return chain.Asset{}, err
	}
	return r.Resolve(ctx, symbolOrAddress)
}

// AddCustomAsset 把操作员提供的资产追加进当前网络的自定义资产表。
func (o *Orchestrator) AddCustomAsset(ctx context.Context, entry chain.Asset) error {
	if entry.Symbol == "" || entry.Address == (common.Address{}) {
		return xerrors.New(xerrors.CodeInvalidArgument, "自定义资产必须包含符号和地址")
	}
	state, err := o.store.LoadState(ctx)
	if err != nil {
		if xerrors.CodeOf(err) != xerrors.CodeNotFound {
			return err
		}
		state = store.NewState()
	}
	if state.CustomAssets == nil {
		state.CustomAssets = make(map[uint64][]chain.Asset)
	}
	for _, existing := range state.CustomAssets[o.profile.ChainID] {
		if existing.Address == entry.Address {
			return nil
		}
	}
	state.CustomAssets[o.profile.ChainID] = append(state.CustomAssets[o.profile.ChainID], entry)
	return o.store.SaveState(ctx, state)
}

// propose 是所有意图共用的提案管道。
func (o *Orchestrator) propose(ctx context.Context, calls []vault.Call, kind, description string, detail *proposal.SwapDetail) (*proposal.Proposal, error) {
	account, err := o.requireAccount()
	if err != nil {
		return nil, err
	}

	// 1. 组装动作。
	action, err := account.BuildAction(calls)
	if err != nil {
		return nil, err
	}

	// 2. 以金库当前序号计算规范哈希。哈希必须在动作完全组装之后计算。
	nonce, err := account.Nonce(ctx)
	if err != nil {
		return nil, err
	}
	hash, err := account.HashAction(ctx, action, nonce)
	if err != nil {
		return nil, err
	}

	// 3. 智能体签名，签名必须恰好覆盖上一步的哈希。
	signature, err := o.agent.SignHash(hash)
	if err != nil {
		return nil, err
	}

	// 4. 提交协调服务。远端拒绝时本地不落任何状态。
	err = o.service.Propose(ctx, txservice.ProposeRequest{
		Safe:      account.Address(),
		To:        action.To,
		Value:     action.Value,
		Data:      action.Data,
		Operation: uint8(action.Operation),
		Nonce:     nonce,
		Hash:      hash,
		Sender:    o.agent.Address(),
		Signature: signature,
	})
	if err != nil {
		return nil, err
	}

	// 5. 落盘 PROPOSED 状态的提案。
	p := &proposal.Proposal{
		Hash:        hash,
		ChainID:     o.profile.ChainID,
		Vault:       account.Address(),
		Status:      proposal.StatusProposed,
		Description: description,
		To:          action.To,
		Value:       proposal.NewBigInt(action.Value),
		Data:        append([]byte(nil), action.Data...),
		Operation:   uint8(action.Operation),
		Nonce:       proposal.NewBigInt(nonce),
		CreatedAt:   time.Now().UTC(),
		Swap:        detail,
	}
	if err := o.store.PutProposal(ctx, p); err != nil {
		return nil, err
	}

	metrics.ObserveProposal(kind)
	_ = o.events.Publish(ctx, notify.NewEvent(notify.KindProposalCreated, o.profile.ChainID,
		hash.Hex(), description))
	o.log.Info("proposal submitted",
		"hash", hash.Hex(),
		"to", action.To.Hex(),
		"operation", uint8(action.Operation),
		"description", description,
	)
	logger.Audit().Info("proposal submitted",
		"hash", hash.Hex(),
		"chain_id", o.profile.ChainID,
		"vault", account.Address().Hex(),
	)
	return p, nil
}

// ProposeTransfer 提案一笔原生资产转账。
func (o *Orchestrator) ProposeTransfer(ctx context.Context, to common.Address, amount *big.Int, description string) (*proposal.Proposal, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "转账金额必须大于 0")
	}
	call := vault.Call{To: to, Value: new(big.Int).Set(amount)}
	if description == "" {
		description = "transfer " + amount.String() + " wei to " + to.Hex()
	}
	return o.propose(ctx, []vault.Call{call}, "transfer", description, nil)
}

// ProposeAssetTransfer 提案一笔代币转账。资产可以是符号或地址。
func (o *Orchestrator) ProposeAssetTransfer(ctx context.Context, symbolOrAddress string, to common.Address, amount *big.Int, description string) (*proposal.Proposal, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "转账数量必须大于 0")
	}
	resolved, err := o.ResolveAsset(ctx, symbolOrAddress)
	if err != nil {
		return nil, err
	}
	call, err := erc20.TransferCall(resolved.Address, to, amount)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "编码代币转账失败")
	}
	if description == "" {
		description = "transfer " + amount.String() + " " + resolved.Symbol + " to " + to.Hex()
	}
	return o.propose(ctx, []vault.Call{call}, "asset_transfer", description, nil)
}

// QuoteSwap 获取兑换报价，纯读操作，不创建提案。
func (o *Orchestrator) QuoteSwap(ctx context.Context, fromAsset, toAsset string, amountIn *big.Int, slippageBps int64) (*swap.Quote, error) {
	if o.swaps == nil {
		return nil, xerrors.New(CodeIntegrationUnavailable,
			"当前网络未启用兑换集成: "+o.profile.Name)
	}
	from, err := o.ResolveAsset(ctx, fromAsset)
	if err != nil {
		return nil, err
	}
	to, err := o.ResolveAsset(ctx, toAsset)
	if err != nil {
		return nil, err
	}
	return o.swaps.Quote(ctx, from.Address, to.Address, amountIn, slippageBps)
}

// ProposeSwap 提案一笔代币兑换，编码为 "授权 + 兑换" 的原子批量动作。
func (o *Orchestrator) ProposeSwap(ctx context.Context, fromAsset, toAsset string, amountIn *big.Int, slippageBps int64) (*proposal.Proposal, error) {
	if o.swaps == nil {
		return nil, xerrors.New(CodeIntegrationUnavailable,
			"当前网络未启用兑换集成: "+o.profile.Name)
	}
	account, err := o.requireAccount()
	if err != nil {
		return nil, err
	}
	from, err := o.ResolveAsset(ctx, fromAsset)
	if err != nil {
		return nil, err
	}
	to, err := o.ResolveAsset(ctx, toAsset)
	if err != nil {
		return nil, err
	}
	quote, err := o.swaps.Quote(ctx, from.Address, to.Address, amountIn, slippageBps)
	if err != nil {
		return nil, err
	}

	calls, err := o.swaps.BuildSwapCalls(account.Address(), quote, amountIn)
	if err != nil {
		return nil, err
	}
	detail := &proposal.SwapDetail{
		FromSymbol:  from.Symbol,
		ToSymbol:    to.Symbol,
		AmountIn:    proposal.NewBigInt(amountIn),
		ExpectedOut: proposal.NewBigInt(quote.ExpectedOut),
		MinOut:      proposal.NewBigInt(quote.MinOut),
	}
	description := "swap " + amountIn.String() + " " + from.Symbol + " for " + to.Symbol
	return o.propose(ctx, calls, "swap", description, detail)
}

// ProposeWrap 提案把原生资产封装为其包装代币。
func (o *Orchestrator) ProposeWrap(ctx context.Context, amount *big.Int) (*proposal.Proposal, error) {
	if o.swaps == nil {
		return nil, xerrors.New(CodeIntegrationUnavailable,
			"当前网络未启用兑换集成: "+o.profile.Name)
	}
	call, err := o.swaps.BuildWrapCall(amount)
	if err != nil {
		return nil, err
	}
	return o.propose(ctx, []vault.Call{call}, "wrap",
		"wrap "+amount.String()+" wei of native asset", nil)
}

// ProposeUnwrap 提案把包装代币解封回原生资产。
func (o *Orchestrator) ProposeUnwrap(ctx context.Context, amount *big.Int) (*proposal.Proposal, error) {
	if o.swaps == nil {
		return nil, xerrors.New(CodeIntegrationUnavailable,
			"当前网络未启用兑换集成: "+o.profile.Name)
	}
	call, err := o.swaps.BuildUnwrapCall(amount)
	if err != nil {
		return nil, err
	}
	return o.propose(ctx, []vault.Call{call}, "unwrap",
		"unwrap "+amount.String()+" of wrapped native asset", nil)
}

// ProposeLendingSupply 提案向借贷市场存入资产,
// 编码为 "授权 + 存入" 的原子批量动作。
func (o *Orchestrator) ProposeLendingSupply(ctx context.Context, symbolOrAddress string, amount *big.Int) (*proposal.Proposal, error) {
	if o.lending == nil {
		return nil, xerrors.New(CodeIntegrationUnavailable,
			"当前网络未启用借贷集成: "+o.profile.Name)
	}
	account, err := o.requireAccount()
	if err != nil {
		return nil, err
	}
	resolved, err := o.ResolveAsset(ctx, symbolOrAddress)
	if err != nil {
		return nil, err
	}
	calls, err := o.lending.BuildSupplyCalls(account.Address(), resolved.Address, amount)
	if err != nil {
		return nil, err
	}
	description := "supply " + amount.String() + " " + resolved.Symbol + " to lending market"
	return o.propose(ctx, calls, "lending_supply", description, nil)
}

// ProposeLendingWithdraw 提案从借贷市场取回资产。
func (o *Orchestrator) ProposeLendingWithdraw(ctx context.Context, symbolOrAddress string, amount *big.Int) (*proposal.Proposal, error) {
	if o.lending == nil {
		return nil, xerrors.New(CodeIntegrationUnavailable,
			"当前网络未启用借贷集成: "+o.profile.Name)
	}
	account, err := o.requireAccount()
	if err != nil {
		return nil, err
	}
	resolved, err := o.ResolveAsset(ctx, symbolOrAddress)
	if err != nil {
		return nil, err
	}
	call, err := o.lending.BuildWithdrawCall(account.Address(), resolved.Address, amount)
	if err != nil {
		return nil, err
	}
	description := "withdraw " + amount.String() + " " + resolved.Symbol + " from lending market"
	return o.propose(ctx, []vault.Call{call}, "lending_withdraw", description, nil)
}
