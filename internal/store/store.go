// Package store 负责编排核心的持久化: 入驻进度与自定义资产表、
// 金库注册表以及提案账本。每次变更都是一次完整的原子写入。
package store

import (
	"context"
	"time"

	"CoVault/internal/chain"
	xerrors "CoVault/internal/errors"
	"CoVault/internal/proposal"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrProposalNotFound 表示账本中不存在该哈希。
	ErrProposalNotFound = xerrors.New(xerrors.CodeNotFound, "提案不存在")
	// ErrStateNotFound 表示尚未写入任何入驻状态。
	ErrStateNotFound = xerrors.New(xerrors.CodeNotFound, "入驻状态不存在")
)

// State 是单个安装实例的入驻进度与操作员配置。
type State struct {
	Stage        string                      `json:"stage"`
	AgentAddress *common.Address             `json:"agent_address,omitempty"`
	Owners       []common.Address            `json:"owners"`
	ActiveVaults map[uint64]common.Address   `json:"active_vaults"`
	CustomAssets map[uint64][]chain.Asset    `json:"custom_assets"`
	UpdatedAt    time.Time                   `json:"updated_at"`
}

// Clone 返回状态的深拷贝。
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	clone := &State{
		Stage:     s.Stage,
		Owners:    append([]common.Address(nil), s.Owners...),
		UpdatedAt: s.UpdatedAt,
	}
	if s.AgentAddress != nil {
		addr := *s.AgentAddress
		clone.AgentAddress = &addr
	}
	if s.ActiveVaults != nil {
		clone.ActiveVaults = make(map[uint64]common.Address, len(s.ActiveVaults))
		for k, v := range s.ActiveVaults {
			clone.ActiveVaults[k] = v
		}
	}
	if s.CustomAssets != nil {
		clone.CustomAssets = make(map[uint64][]chain.Asset, len(s.CustomAssets))
		for k, v := range s.CustomAssets {
			clone.CustomAssets[k] = append([]chain.Asset(nil), v...)
		}
	}
	return clone
}

// NewState 返回处于初始阶段的空状态。
func NewState() *State {
	return &State{
		Stage:        "INIT",
		ActiveVaults: make(map[uint64]common.Address),
		CustomAssets: make(map[uint64][]chain.Asset),
	}
}

// VaultRecord 是金库注册表中的一条只增记录。
// 唯一键是 (Address, ChainID)，重复插入被静默忽略。
type VaultRecord struct {
	Address   common.Address   `json:"address"`
	ChainID   uint64           `json:"chain_id"`
	Network   string           `json:"network"`
	Owners    []common.Address `json:"owners"` // 智能体地址排在首位
	Threshold uint64           `json:"threshold"`
	CreatedAt time.Time        `json:"created_at"`
}

// Store 抽象了编排核心的持久化接口。
type Store interface {
	// LoadState 读取入驻状态，从未写入时返回 ErrStateNotFound。
	LoadState(ctx context.Context) (*State, error)
	// SaveState 覆盖写入完整的入驻状态。
	SaveState(ctx context.Context, state *State) error

	// AppendVault 追加一条金库记录，(address, chain) 重复时静默忽略。
	AppendVault(ctx context.Context, record VaultRecord) error
	// ListVaults 返回全部金库记录，按创建时间升序。
	ListVaults(ctx context.Context) ([]VaultRecord, error)

	// PutProposal 插入或整体覆盖一条提案，以动作哈希为键。
	PutProposal(ctx context.Context, p *proposal.Proposal) error
	// GetProposal 按哈希读取提案，不存在时返回 ErrProposalNotFound。
	GetProposal(ctx context.Context, hash common.Hash) (*proposal.Proposal, error)
	// ListProposals 返回指定网络的全部提案，chainID 为 0 时返回所有网络。
	ListProposals(ctx context.Context, chainID uint64) ([]*proposal.Proposal, error)

	Close() error
}

func cloneProposal(p *proposal.Proposal) *proposal.Proposal {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Data = append([]byte(nil), p.Data...)
	if p.ExecutedTx != nil {
		tx := *p.ExecutedTx
		clone.ExecutedTx = &tx
	}
	if p.Swap != nil {
		swap := *p.Swap
		clone.Swap = &swap
	}
	return &clone
}
