package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	xerrors "CoVault/internal/errors"
	"CoVault/internal/proposal"

	"github.com/ethereum/go-ethereum/common"
)

const (
	stateFileName    = "covault-state.json"
	registryFileName = "covault-registry.json"
)

// registryDocument 是金库注册表与提案账本的落盘形态。
type registryDocument struct {
	Vaults    []VaultRecord                       `json:"vaults"`
	Proposals map[common.Hash]*proposal.Proposal  `json:"proposals"`
}

// FileStore 把状态保存为数据目录下的两个 JSON 文档。
// 每次变更都整体覆盖对应文档。它不做跨进程写入仲裁: 两个进程
// 同时写会以后写者为准，共享安装目录时必须在外部串行化访问。
type FileStore struct {
	mu       sync.Mutex
	dir      string
	state    *State
	registry registryDocument
}

// NewFileStore 打开数据目录并加载已有文档。目录不存在时创建。
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
	}
	s := &FileStore{dir: dir}
	if err := s.loadAll(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) statePath() string {
	return filepath.Join(s.dir, stateFileName)
}

func (s *FileStore) registryPath() string {
	return filepath.Join(s.dir, registryFileName)
}

func (s *FileStore) loadAll() error {
	raw, err := os.ReadFile(s.statePath())
	switch {
	case err == nil:
		var state State
		if err := json.Unmarshal(raw, &state); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析状态文档失败")
		}
		s.state = &state
	case os.IsNotExist(err):
		// 从未写入过状态。
	default:
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取状态文档失败")
	}

	raw, err = os.ReadFile(s.registryPath())
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &s.registry); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析注册表文档失败")
		}
	case os.IsNotExist(err):
	default:
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取注册表文档失败")
	}
	if s.registry.Proposals == nil {
		s.registry.Proposals = make(map[common.Hash]*proposal.Proposal)
	}
	return nil
}

func writeDocument(path string, doc interface{}) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码文档失败")
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入文档失败")
	}
	return nil
}

// LoadState 实现 Store 接口。
func (s *FileStore) LoadState(_ context.Context) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, ErrStateNotFound
	}
	return s.state.Clone(), nil
}

// SaveState 实现 Store 接口。
func (s *FileStore) SaveState(_ context.Context, state *State) error {
	if state == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "state 不能为空")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := state.Clone()
	clone.UpdatedAt = time.Now().UTC()
	if err := writeDocument(s.statePath(), clone); err != nil {
		return err
	}
	s.state = clone
	return nil
}

// AppendVault 实现 Store 接口。
func (s *FileStore) AppendVault(_ context.Context, record VaultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.registry.Vaults {
		if existing.Address == record.Address && existing.ChainID == record.ChainID {
			return nil
		}
	}
	record.Owners = append([]common.Address(nil), record.Owners...)
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	next := s.registry
	next.Vaults = append(append([]VaultRecord(nil), s.registry.Vaults...), record)
	if err := writeDocument(s.registryPath(), next); err != nil {
		return err
	}
	s.registry = next
	return nil
}

// ListVaults 实现 Store 接口。
func (s *FileStore) ListVaults(_ context.Context) ([]VaultRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]VaultRecord, len(s.registry.Vaults))
	copy(out, s.registry.Vaults)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// PutProposal 实现 Store 接口。
func (s *FileStore) PutProposal(_ context.Context, p *proposal.Proposal) error {
	if p == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "proposal 不能为空")
	}
	if p.Hash == (common.Hash{}) {
		return xerrors.New(xerrors.CodeInvalidArgument, "提案哈希不能为空")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	previous, existed := s.registry.Proposals[p.Hash]
	s.registry.Proposals[p.Hash] = cloneProposal(p)
	if err := writeDocument(s.registryPath(), s.registry); err != nil {
		if existed {
			s.registry.Proposals[p.Hash] = previous
		} else {
			delete(s.registry.Proposals, p.Hash)
		}
		return err
	}
	return nil
}

// GetProposal 实现 Store 接口。
func (s *FileStore) GetProposal(_ context.Context, hash common.Hash) (*proposal.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.registry.Proposals[hash]
	if !ok {
		return nil, ErrProposalNotFound
	}
	return cloneProposal(p), nil
}

// ListProposals 实现 Store 接口。
func (s *FileStore) ListProposals(_ context.Context, chainID uint64) ([]*proposal.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*proposal.Proposal, 0, len(s.registry.Proposals))
	for _, p := range s.registry.Proposals {
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
func (s *FileStore) Close() error {
	return nil
}
