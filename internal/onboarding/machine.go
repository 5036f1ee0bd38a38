// Package onboarding 驱动一次性的金库创建流程:
// 生成智能体签名身份、确认注资、收集人类所有者地址、部署金库合约。
package onboarding

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"CoVault/internal/chain"
	xerrors "CoVault/internal/errors"
	"CoVault/internal/identity"
	"CoVault/internal/notify"
	"CoVault/internal/store"
	"CoVault/internal/vault"
	"CoVault/internal/web3"
	"CoVault/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

const (
	CodeNotReady      xerrors.Code = "NOT_READY"
	CodeNoOwners      xerrors.Code = "NO_OWNERS"
	CodeSelfOwnership xerrors.Code = "SELF_OWNERSHIP_REJECTED"
)

func init() {
	xerrors.Register(CodeNotReady, xerrors.Attributes{
		Message:   "onboarding is not in the required stage",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeNoOwners, xerrors.Attributes{
		Message:   "no human owners collected",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeSelfOwnership, xerrors.Attributes{
		Message:   "agent address cannot be a human owner",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

// 部署一个金库大致消耗的 gas，用于给用户估算注资额度。
const deployGasEstimate = 350_000

// FundingReport 是一次注资检查的结果。余额不足是正常结论，不是错误。
type FundingReport struct {
	Balance    *big.Int
	Minimum    *big.Int
	Sufficient bool
	Stage      Stage
}

// Overview 是部署前的确认信息，纯投影，不产生副作用。
type Overview struct {
	Owners          []common.Address // 智能体地址排在首位
	Threshold       uint64
	FundingEstimate *big.Int
}

// DeployResult 记录部署产物。
type DeployResult struct {
	Address common.Address
	TxHash  common.Hash
}

// Machine 是入驻流程的状态机。所有阶段变化都先落盘再生效，
// 任何一步失败都停留在最后一次成功提交的阶段，可以安全重试。
type Machine struct {
	profile *chain.NetworkProfile
	store   store.Store
	keys    *identity.Manager
	client  web3.Client
	factory vault.Factory
	events  notify.Publisher
	log     *slog.Logger

	agent *identity.Identity
}

// NewMachine 构造入驻状态机。
func NewMachine(profile *chain.NetworkProfile, st store.Store, keys *identity.Manager, client web3.Client, events notify.Publisher) *Machine {
	if events == nil {
		events = notify.NewLogPublisher()
	}
	return &Machine{
		profile: profile,
		store:   st,
		keys:    keys,
		client:  client,
		events:  events,
		log:     logger.Named("onboarding"),
	}
}

// SetFactory 覆盖默认的部署工厂，测试用。
func (m *Machine) SetFactory(factory vault.Factory) {
	m.factory = factory
}

// deployFactory 返回部署工厂。默认实现依赖已加载的智能体身份付 gas，
// 所以只能在 Start 之后构造。
func (m *Machine) deployFactory() vault.Factory {
	if m.factory != nil {
		return m.factory
	}
	return vault.NewProxyFactory(m.client, m.agent, m.profile.Vault)
}

// Agent 返回已加载的智能体身份，Start 之前为 nil。
func (m *Machine) Agent() *identity.Identity {
	return m.agent
}

func (m *Machine) loadState(ctx context.Context) (*store.State, error) {
	state, err := m.store.LoadState(ctx)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeNotFound {
			return store.NewState(), nil
		}
		return nil, err
	}
	return state, nil
}

func (m *Machine) saveStage(ctx context.Context, state *store.State, next Stage) error {
	// 阶段只能前进。唯一许可的回退是注资不足时从 AWAIT_OWNER 回到
	// AWAIT_FUNDING 的重试环。
	if current := Stage(state.Stage); current.Valid() && next.Before(current) {
		if next != StageAwaitFunding || current != StageAwaitOwner {
			return xerrors.New(CodeNotReady,
				fmt.Sprintf("入驻阶段不可回退: %s -> %s", current, next))
		}
	}
	previous := state.Stage
	state.Stage = string(next)
	if err := m.store.SaveState(ctx, state); err != nil {
		state.Stage = previous
		return err
	}
	if previous != string(next) {
		_ = m.events.Publish(ctx, notify.NewEvent(notify.KindStageChanged, m.profile.ChainID, "",
			fmt.Sprintf("%s -> %s", previous, next)))
	}
	return nil
}

// Start 加载或生成智能体签名身份并返回其地址。
// 幂等: 身份已存在时只加载，不改变阶段，绝不生成第二份身份。
func (m *Machine) Start(ctx context.Context) (common.Address, error) {
	state, err := m.loadState(ctx)
	if err != nil {
		return common.Address{}, err
	}

	agent, created, err := m.keys.LoadOrCreate()
	if err != nil {
		return common.Address{}, err
	}
	m.agent = agent
	address := agent.Address()

	if state.AgentAddress == nil || *state.AgentAddress != address {
		state.AgentAddress = &address
	}
	if created {
		if err := m.saveStage(ctx, state, StageAgentKeyCreated); err != nil {
			return common.Address{}, err
		}
		m.log.Info("agent identity created", "address", address.Hex())
	} else {
		// 身份已存在时阶段保持原样，只补写地址。
		if err := m.store.SaveState(ctx, state); err != nil {
			return common.Address{}, err
		}
		m.log.Info("agent identity loaded", "address", address.Hex(), "stage", state.Stage)
	}
	return address, nil
}

// CheckAgentFunds 查询智能体余额并据此推进或停留在注资阶段。
// 余额不足回到 AWAIT_FUNDING 等待重试; 已越过所有者收集阶段时不回退。
func (m *Machine) CheckAgentFunds(ctx context.Context, minimum *big.Int) (*FundingReport, error) {
	if m.agent == nil {
		return nil, xerrors.New(CodeNotReady, "请先调用 Start 加载智能体身份")
	}
	if minimum == nil {
		minimum = big.NewInt(0)
	}

	state, err := m.loadState(ctx)
	if err != nil {
		return nil, err
	}

	balance, err := m.client.BalanceAt(ctx, m.agent.Address())
	if err != nil {
		return nil, err
	}
	sufficient := balance.Cmp(minimum) >= 0

	current := Stage(state.Stage)
	target := StageAwaitFunding
	if sufficient {
		target = StageAwaitOwner
	}
	if current.Valid() && !current.Before(StageReadyToDeploy) {
		// 流程已经走到部署及之后，注资检查只汇报不改状态。
		target = current
	}
	if target != current {
		if err := m.saveStage(ctx, state, target); err != nil {
			return nil, err
		}
	}

	return &FundingReport{
		Balance:    balance,
		Minimum:    minimum,
		Sufficient: sufficient,
		Stage:      target,
	}, nil
}

// AddOwnerAddress 登记一个人类所有者地址。
// 重复地址静默忽略; 智能体自己的地址被拒绝。
func (m *Machine) AddOwnerAddress(ctx context.Context, raw string) error {
	input := strings.TrimSpace(raw)
	if !common.IsHexAddress(input) {
		return xerrors.New(xerrors.CodeInvalidArgument, "所有者地址格式非法: "+input)
	}
	owner := common.HexToAddress(input)

	if m.agent != nil && owner == m.agent.Address() {
		return xerrors.New(CodeSelfOwnership, "智能体地址不能出现在人类所有者列表中")
	}

	state, err := m.loadState(ctx)
	if err != nil {
		return err
	}
	// 金库一经部署，所有者集合就固化在链上合约里，离线列表不再接受修改。
	if current := Stage(state.Stage); current.Valid() && !current.Before(StageDeployed) {
		return xerrors.New(CodeNotReady, "金库已部署, 所有者列表不可再修改")
	}
	if state.AgentAddress != nil && owner == *state.AgentAddress {
		return xerrors.New(CodeSelfOwnership, "智能体地址不能出现在人类所有者列表中")
	}
	for _, existing := range state.Owners {
		if existing == owner {
			return nil
		}
	}

	state.Owners = append(state.Owners, owner)
	if err := m.saveStage(ctx, state, StageReadyToDeploy); err != nil {
		return err
	}
	m.log.Info("owner registered", "owner", owner.Hex(), "owners", len(state.Owners))
	return nil
}

// DeployOverview 返回部署前的确认信息。
// threshold 为 0 时采用默认规则: 全体所有者都必须签名。
func (m *Machine) DeployOverview(ctx context.Context, threshold uint64) (*Overview, error) {
	if m.agent == nil {
		return nil, xerrors.New(CodeNotReady, "请先调用 Start 加载智能体身份")
	}
	state, err := m.loadState(ctx)
	if err != nil {
		return nil, err
	}

	owners := append([]common.Address{m.agent.Address()}, state.Owners...)
	effective := threshold
	if effective == 0 {
		effective = uint64(len(owners))
	}

	estimate := big.NewInt(deployGasEstimate)
	if gasPrice, err := m.client.SuggestGasPrice(ctx); err == nil {
		estimate = estimate.Mul(estimate, gasPrice)
	}

	return &Overview{
		Owners:          owners,
		Threshold:       effective,
		FundingEstimate: estimate,
	}, nil
}

// Deploy 部署金库合约。这是入驻流程中唯一不可逆的上链步骤，
// 链上交易失败时状态停留在 READY_TO_DEPLOY，由调用方决定是否重试。
func (m *Machine) Deploy(ctx context.Context, threshold uint64) (*DeployResult, error) {
	if m.agent == nil {
		return nil, xerrors.New(CodeNotReady, "请先调用 Start 加载智能体身份")
	}
	state, err := m.loadState(ctx)
	if err != nil {
		return nil, err
	}
	if Stage(state.Stage) != StageReadyToDeploy {
		return nil, xerrors.New(CodeNotReady,
			"部署要求处于 READY_TO_DEPLOY 阶段, 当前: "+state.Stage)
	}
	if len(state.Owners) == 0 {
		return nil, xerrors.New(CodeNoOwners, "")
	}

	overview, err := m.DeployOverview(ctx, threshold)
	if err != nil {
		return nil, err
	}
	setup := vault.Setup{Owners: overview.Owners, Threshold: overview.Threshold}
	if err := setup.Validate(); err != nil {
		return nil, err
	}

	factory := m.deployFactory()
	predicted, err := factory.PredictAddress(ctx, setup)
	if err != nil {
		return nil, err
	}

	txHash, err := factory.Deploy(ctx, setup)
	if err != nil {
		return nil, err
	}
	receipt, err := m.client.WaitForReceipt(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return nil, xerrors.New(xerrors.CodeNetworkFailure,
			"部署交易在链上回滚: "+txHash.Hex())
	}

	record := store.VaultRecord{
		Address:   predicted,
		ChainID:   m.profile.ChainID,
		Network:   m.profile.Name,
		Owners:    overview.Owners,
		Threshold: overview.Threshold,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.AppendVault(ctx, record); err != nil {
		return nil, err
	}

	if state.ActiveVaults == nil {
		state.ActiveVaults = make(map[uint64]common.Address)
	}
	state.ActiveVaults[m.profile.ChainID] = predicted
	if err := m.saveStage(ctx, state, StageDeployed); err != nil {
		return nil, err
	}
	if err := m.saveStage(ctx, state, StageReady); err != nil {
		return nil, err
	}

	_ = m.events.Publish(ctx, notify.NewEvent(notify.KindVaultDeployed, m.profile.ChainID, "",
		predicted.Hex()))
	m.log.Info("vault deployed",
		"vault", predicted.Hex(),
		"owners", len(overview.Owners),
		"threshold", overview.Threshold,
		"tx_hash", txHash.Hex(),
	)
	logger.Audit().Info("vault deployed",
		"vault", predicted.Hex(),
		"chain_id", m.profile.ChainID,
		"tx_hash", txHash.Hex(),
	)

	return &DeployResult{Address: predicted, TxHash: txHash}, nil
}
