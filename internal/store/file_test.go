package store

import (
	"context"
	"math/big"
	"testing"
	"time"

	"CoVault/internal/proposal"

	xerrors "CoVault/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

func TestFileStoreStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	if _, err := s.LoadState(ctx); !xerrors.Is(err, xerrors.CodeNotFound) {
		t.Fatalf("expected not-found before first save, got %v", err)
	}

	agent := common.HexToAddress("0x1111111111111111111111111111111111111111")
	state := NewState()
	state.Stage = "AWAIT_OWNER"
	state.AgentAddress = &agent
	state.Owners = []common.Address{common.HexToAddress("0x2222222222222222222222222222222222222222")}
	if err := s.SaveState(ctx, state); err != nil {
		t.Fatalf("save state: %v", err)
	}

	// 重新打开，验证落盘文档可恢复。
	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	loaded, err := reopened.LoadState(ctx)
	if err != nil {
		t.Fatalf("load state after reopen: %v", err)
	}
	if loaded.Stage != "AWAIT_OWNER" {
		t.Fatalf("stage lost: %s", loaded.Stage)
	}
	if loaded.AgentAddress == nil || *loaded.AgentAddress != agent {
		t.Fatalf("agent address lost: %v", loaded.AgentAddress)
	}
	if len(loaded.Owners) != 1 {
		t.Fatalf("owners lost: %v", loaded.Owners)
	}
}

func TestFileStoreProposalPreserves256BitValues(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	// 超出 float64 精度的数值，JSON 浮点编码会丢失末位。
	value, _ := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457", 10)
	hash := common.HexToHash("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	p := &proposal.Proposal{
		Hash:      hash,
		ChainID:   1,
		Status:    proposal.StatusProposed,
		Value:     proposal.NewBigInt(value),
		Nonce:     proposal.NewBigInt(big.NewInt(3)),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.PutProposal(ctx, p); err != nil {
		t.Fatalf("put proposal: %v", err)
	}

	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	got, err := reopened.GetProposal(ctx, hash)
	if err != nil {
		t.Fatalf("get proposal: %v", err)
	}
	if got.Value.Int().Cmp(value) != 0 {
		t.Fatalf("value lost precision: %s != %s", got.Value, value)
	}
	if got.Status != proposal.StatusProposed {
		t.Fatalf("status lost: %s", got.Status)
	}

	if _, err := reopened.GetProposal(ctx, common.HexToHash("0x01")); err != ErrProposalNotFound {
		t.Fatalf("expected ErrProposalNotFound, got %v", err)
	}
}

func TestFileStoreAppendVaultIgnoresDuplicates(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	record := VaultRecord{
		Address:   common.HexToAddress("0x3333333333333333333333333333333333333333"),
		ChainID:   1,
		Network:   "mainnet",
		Threshold: 2,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.AppendVault(ctx, record); err != nil {
		t.Fatalf("append vault: %v", err)
	}
	if err := s.AppendVault(ctx, record); err != nil {
		t.Fatalf("duplicate append must be silent: %v", err)
	}

	// 同地址不同链是另一条记录。
	other := record
	other.ChainID = 137
	if err := s.AppendVault(ctx, other); err != nil {
		t.Fatalf("append vault on other chain: %v", err)
	}

	vaults, err := s.ListVaults(ctx)
	if err != nil {
		t.Fatalf("list vaults: %v", err)
	}
	if len(vaults) != 2 {
		t.Fatalf("expected 2 vault records, got %d", len(vaults))
	}
}
