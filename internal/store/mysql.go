package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	xerrors "CoVault/internal/errors"
	"CoVault/internal/proposal"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-sql-driver/mysql"
)

// MySQLStore 使用 MySQL 持久化编排状态，供多实例共享一套安装时使用。
// 记录本体仍以 JSON 文档存储，保证 256 位整数无损往返；
// 仅把查询需要的键拆成独立列。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 建立连接池并应用尚未执行的 SQL 迁移。
func NewMySQLStore(ctx context.Context, dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.runMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// LoadState 实现 Store 接口。
func (s *MySQLStore) LoadState(ctx context.Context) (*State, error) {
	const stmt = `SELECT document FROM vault_state WHERE id = 1`
	var raw string
	if err := s.db.QueryRowContext(ctx, stmt).Scan(&raw); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrStateNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取入驻状态失败")
	}
	var state State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析入驻状态失败")
	}
	return &state, nil
}

// SaveState 实现 Store 接口。
func (s *MySQLStore) SaveState(ctx context.Context, state *State) error {
	if state == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "state 不能为空")
	}
	clone := state.Clone()
	clone.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(clone)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码入驻状态失败")
	}

	const stmt = `INSERT INTO vault_state (id, document, updated_at) VALUES (1, ?, ?)
        ON DUPLICATE KEY UPDATE document = VALUES(document), updated_at = VALUES(updated_at)`
	if _, err := s.db.ExecContext(ctx, stmt, string(raw), clone.UpdatedAt.Unix()); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入入驻状态失败")
	}
	return nil
}

// AppendVault 实现 Store 接口。
func (s *MySQLStore) AppendVault(ctx context.Context, record VaultRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码金库记录失败")
	}

	const stmt = `INSERT INTO vault_registry (address, chain_id, document, created_at) VALUES (?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, stmt,
		strings.ToLower(record.Address.Hex()),
		record.ChainID,
		string(raw),
		record.CreatedAt.Unix(),
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			// 注册表只增不改，重复插入静默忽略。
			return nil
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入金库记录失败")
	}
	return nil
}

// ListVaults 实现 Store 接口。
func (s *MySQLStore) ListVaults(ctx context.Context) ([]VaultRecord, error) {
	const stmt = `SELECT document FROM vault_registry ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询金库记录失败")
	}
	defer rows.Close()

	var out []VaultRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取金库记录失败")
		}
		var record VaultRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析金库记录失败")
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历金库记录失败")
	}
	return out, nil
}

// PutProposal 实现 Store 接口。
func (s *MySQLStore) PutProposal(ctx context.Context, p *proposal.Proposal) error {
	if p == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "proposal 不能为空")
	}
	if p.Hash == (common.Hash{}) {
		return xerrors.New(xerrors.CodeInvalidArgument, "提案哈希不能为空")
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码提案失败")
	}

	now := time.Now().Unix()
	const stmt = `INSERT INTO vault_proposals (hash, chain_id, status, document, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE status = VALUES(status), document = VALUES(document), updated_at = VALUES(updated_at)`
	_, err = s.db.ExecContext(ctx, stmt,
		p.Hash.Hex(),
		p.ChainID,
		string(p.Status),
		string(raw),
		p.CreatedAt.Unix(),
		now,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入提案失败")
	}
	return nil
}

// GetProposal 实现 Store 接口。
func (s *MySQLStore) GetProposal(ctx context.Context, hash common.Hash) (*proposal.Proposal, error) {
	const stmt = `SELECT document FROM vault_proposals WHERE hash = ?`
	var raw string
	if err := s.db.QueryRowContext(ctx, stmt, hash.Hex()).Scan(&raw); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrProposalNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取提案失败")
	}
	var p proposal.Proposal
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析提案失败")
	}
	return &p, nil
}

// ListProposals 实现 Store 接口。
func (s *MySQLStore) ListProposals(ctx context.Context, chainID uint64) ([]*proposal.Proposal, error) {
	stmt := `SELECT document FROM vault_proposals ORDER BY created_at ASC`
	args := []interface{}{}
	if chainID != 0 {
		stmt = `SELECT document FROM vault_proposals WHERE chain_id = ? ORDER BY created_at ASC`
		args = append(args, chainID)
	}
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询提案失败")
	}
	defer rows.Close()

	var out []*proposal.Proposal
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取提案失败")
		}
		var p proposal.Proposal
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析提案失败")
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历提案失败")
	}
	return out, nil
}

// Close 实现 Store 接口。
func (s *MySQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
