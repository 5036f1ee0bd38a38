package store

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "CoVault/internal/errors"
	"CoVault/internal/proposal"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryStore 以内存方式保存编排状态，主要用于测试。
type MemoryStore struct {
	mu        sync.RWMutex
	state     *State
	vaults    []VaultRecord
	proposals map[common.Hash]*proposal.Proposal
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{proposals: make(map[common.Hash]*proposal.Proposal)}
}

// LoadState 实现 Store 接口。
func (m *MemoryStore) LoadState(_ context.Context) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return nil, ErrStateNotFound
	}
	return m.state.Clone(), nil
}

// SaveState 实现 Store 接口。
func (m *MemoryStore) SaveState(_ context.Context, state *State) error {
	if state == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "state 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := state.Clone()
	clone.UpdatedAt = time.Now().UTC()
	m.state = clone
	return nil
}

// AppendVault 实现 Store 接口。
func (m *MemoryStore) AppendVault(_ context.Context, record VaultRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.vaults {
		if existing.Address == record.Address && existing.ChainID == record.ChainID {
			return nil
		}
	}
	record.Owners = append([]common.Address(nil), record.Owners...)
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	m.vaults = append(m.vaults, record)
	return nil
}

// ListVaults 实现 Store 接口。
func (m *MemoryStore) ListVaults(_ context.Context) ([]VaultRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]VaultRecord, len(m.vaults))
	copy(out, m.vaults)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// PutProposal 实现 Store 接口。
func (m *MemoryStore) PutProposal(_ context.Context, p *proposal.Proposal) error {
	if p == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "proposal 不能为空")
	}
	if p.Hash == (common.Hash{}) {
		return xerrors.New(xerrors.CodeInvalidArgument, "提案哈希不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proposals[p.Hash] = cloneProposal(p)
	return nil
}

// GetProposal 实现 Store 接口。
func (m *MemoryStore) GetProposal(_ context.Context, hash common.Hash) (*proposal.Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.proposals[hash]
	if !ok {
		return nil, ErrProposalNotFound
	}
	return cloneProposal(p), nil
}

// ListProposals 实现 Store 接口。
func (m *MemoryStore) ListProposals(_ context.Context, chainID uint64) ([]*proposal.Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*proposal.Proposal, 0, len(m.proposals))
	for _, p := range m.proposals {
		if chainID != 0 && p.ChainID != chainID {
			continue
		}
		out = append(out, cloneProposal(p))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error {
	return nil
}
