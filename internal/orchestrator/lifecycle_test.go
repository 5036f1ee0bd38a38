package orchestrator

import (
	"context"
	"math/big"
	"testing"

	"CoVault/internal/chain"
	xerrors "CoVault/internal/errors"
	"CoVault/internal/identity"
	"CoVault/internal/proposal"
	"CoVault/internal/store"
	"CoVault/internal/txservice"
	"CoVault/internal/vault"

	"github.com/ethereum/go-ethereum/common"
)

type stubAccount struct {
	address   common.Address
	threshold uint64
	nonce     *big.Int

	executed     int
	executedSigs int
	execErr      error
}

func (a *stubAccount) Address() common.Address                 { return a.address }
func (a *stubAccount) IsDeployed(context.Context) (bool, error) { return true, nil }

func (a *stubAccount) Nonce(context.Context) (*big.Int, error) {
	return new(big.Int).Set(a.nonce), nil
}

func (a *stubAccount) Threshold(context.Context) (uint64, error) { return a.threshold, nil }

func (a *stubAccount) Owners(context.Context) ([]common.Address, error) { return nil, nil }

func (a *stubAccount) BuildAction(calls []vault.Call) (vault.Action, error) {
	call := calls[0]
	value := call.Value
	if value == nil {
		value = big.NewInt(0)
	}
	return vault.Action{To: call.To, Value: value, Data: call.Data}, nil
}

func (a *stubAccount) HashAction(_ context.Context, action vault.Action, nonce *big.Int) (common.Hash, error) {
	// 测试替身用一个可预测的摘要代替 EIP-712 计算。
	buf := append(action.To.Bytes(), common.BigToHash(nonce).Bytes()...)
	return common.BytesToHash(buf[len(buf)-32:]), nil
}

func (a *stubAccount) ExecuteAction(_ context.Context, action vault.Action, sigs []vault.OwnerSignature) (common.Hash, error) {
	if a.execErr != nil {
		return common.Hash{}, a.execErr
	}
	a.executed++
	a.executedSigs = len(sigs)
	return common.HexToHash("0xfeed"), nil
}

type stubService struct {
	tx         *txservice.Transaction
	proposeErr error
	proposed   []txservice.ProposeRequest
	confirmed  [][]byte
}

func (s *stubService) Propose(_ context.Context, req txservice.ProposeRequest) error {
	if s.proposeErr != nil {
		return s.proposeErr
	}
	s.proposed = append(s.proposed, req)
	return nil
}

func (s *stubService) GetTransaction(_ context.Context, hash common.Hash) (*txservice.Transaction, error) {
	if s.tx == nil || s.tx.SafeTxHash != hash {
		return nil, xerrors.New(xerrors.CodeNotFound, "transaction not found")
	}
	return s.tx, nil
}

func (s *stubService) GetPendingTransactions(context.Context, common.Address) ([]*txservice.Transaction, error) {
	if s.tx != nil && !s.tx.IsExecuted {
		return []*txservice.Transaction{s.tx}, nil
	}
	return nil, nil
}

func (s *stubService) Confirm(_ context.Context, _ common.Hash, signature []byte) error {
	s.confirmed = append(s.confirmed, signature)
	return nil
}

func newTestOrchestrator(t *testing.T, account vault.Account, service txservice.Service) (*Orchestrator, store.Store, *identity.Identity) {
	t.Helper()
	agent, err := identity.NewManager(t.TempDir(), "test-passphrase").Create()
	if err != nil {
		t.Fatalf("create agent identity: %v", err)
	}
	st := store.NewMemoryStore()
	orch, err := New(Options{
		Profile: &chain.NetworkProfile{ChainID: 1, Name: "mainnet", NativeSymbol: "ETH"},
		Store:   st,
		Agent:   agent,
		Account: account,
		Service: service,
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return orch, st, agent
}

func TestProposeTransferFollowsPipeline(t *testing.T) {
	ctx := context.Background()
	account := &stubAccount{
		address:   common.HexToAddress("0x5555555555555555555555555555555555555555"),
		threshold: 2,
		nonce:     big.NewInt(7),
	}
	service := &stubService{}
	orch, st, agent := newTestOrchestrator(t, account, service)

	to := common.HexToAddress("0x6666666666666666666666666666666666666666")
	p, err := orch.ProposeTransfer(ctx, to, big.NewInt(1000), "")
	if err != nil {
		t.Fatalf("propose transfer: %v", err)
	}
	if p.Status != proposal.StatusProposed {
		t.Fatalf("new proposal must be PROPOSED, got %s", p.Status)
	}

	if len(service.proposed) != 1 {
		t.Fatalf("expected one propose call, got %d", len(service.proposed))
	}
	req := service.proposed[0]
	if req.Hash != p.Hash {
		t.Fatal("service received a different hash than the stored proposal")
	}
	if req.Sender != agent.Address() {
		t.Fatalf("sender must be the agent, got %s", req.Sender.Hex())
	}
	if len(req.Signature) != 65 {
		t.Fatalf("expected a 65 byte signature, got %d", len(req.Signature))
	}
	if req.Nonce.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("nonce must come from the vault, got %s", req.Nonce)
	}

	stored, err := st.GetProposal(ctx, p.Hash)
	if err != nil {
		t.Fatalf("stored proposal missing: %v", err)
	}
	if stored.Value.Int().Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("stored value mismatch: %s", stored.Value)
	}
}

func TestProposeLeavesNoRecordWhenServiceRejects(t *testing.T) {
	ctx := context.Background()
	account := &stubAccount{threshold: 2, nonce: big.NewInt(0)}
	service := &stubService{proposeErr: xerrors.New(xerrors.CodeCoordinationFailure, "rejected")}
	orch, st, _ := newTestOrchestrator(t, account, service)

	_, err := orch.ProposeTransfer(ctx, common.HexToAddress("0x01"), big.NewInt(1), "")
	if err == nil {
		t.Fatal("expected propose to fail")
	}
	proposals, err := st.ListProposals(ctx, 0)
	if err != nil {
		t.Fatalf("list proposals: %v", err)
	}
	if len(proposals) != 0 {
		t.Fatalf("rejected proposal must not be stored, found %d", len(proposals))
	}
}

func TestProposeRequiresDeployedVault(t *testing.T) {
	ctx := context.Background()
	orch, _, _ := newTestOrchestrator(t, nil, &stubService{})

	_, err := orch.ProposeTransfer(ctx, common.HexToAddress("0x01"), big.NewInt(1), "")
	if !xerrors.Is(err, vault.CodeVaultNotDeployed) {
		t.Fatalf("expected VAULT_NOT_DEPLOYED, got %v", err)
	}
}

func TestConfirmationLifecycleTwoOfThree(t *testing.T) {
	ctx := context.Background()
	hash := common.HexToHash("0xabc1")
	account := &stubAccount{
		address:   common.HexToAddress("0x5555555555555555555555555555555555555555"),
		threshold: 2,
		nonce:     big.NewInt(0),
	}
	ownerA := common.HexToAddress("0xA000000000000000000000000000000000000000")
	ownerB := common.HexToAddress("0xB000000000000000000000000000000000000000")
	service := &stubService{
		tx: &txservice.Transaction{
			SafeTxHash:            hash,
			To:                    common.HexToAddress("0x01"),
			Value:                 big.NewInt(1),
			Nonce:                 big.NewInt(0),
			ConfirmationsRequired: 2,
			Confirmations: []txservice.Confirmation{
				{Owner: ownerA, Signature: make([]byte, 65)},
			},
		},
	}
	orch, st, _ := newTestOrchestrator(t, account, service)

	seed := &proposal.Proposal{Hash: hash, ChainID: 1, Status: proposal.StatusProposed, Value: proposal.NewBigInt(big.NewInt(1)), Nonce: proposal.NewBigInt(big.NewInt(0))}
	if err := st.PutProposal(ctx, seed); err != nil {
		t.Fatalf("seed proposal: %v", err)
	}

	// 一个确认，阈值 2: 状态不动，不可执行。
	report, err := orch.CheckProposalStatus(ctx, hash)
	if err != nil {
		t.Fatalf("check status: %v", err)
	}
	if report.Status != proposal.StatusProposed || report.ReadyToExecute {
		t.Fatalf("one of two confirmations must not be executable: %+v", report)
	}

	result, err := orch.ExecuteIfReady(ctx, hash)
	if err != nil {
		t.Fatalf("premature execute attempt must not error: %v", err)
	}
	if result.Executed || result.Reason == "" {
		t.Fatalf("expected a reasoned refusal, got %+v", result)
	}
	if account.executed != 0 {
		t.Fatal("vault must not have been touched below threshold")
	}

	// 第二个确认到位。
	service.tx.Confirmations = append(service.tx.Confirmations,
		txservice.Confirmation{Owner: ownerB, Signature: make([]byte, 65)})

	report, err = orch.CheckProposalStatus(ctx, hash)
	if err != nil {
		t.Fatalf("check status at threshold: %v", err)
	}
	if report.Status != proposal.StatusOwnerConfirmed || !report.ReadyToExecute {
		t.Fatalf("expected OWNER_CONFIRMED and executable, got %+v", report)
	}

	result, err = orch.ExecuteIfReady(ctx, hash)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Executed || result.TxHash == nil {
		t.Fatalf("expected execution, got %+v", result)
	}
	if account.executed != 1 || account.executedSigs != 2 {
		t.Fatalf("vault executed %d times with %d sigs", account.executed, account.executedSigs)
	}

	stored, err := st.GetProposal(ctx, hash)
	if err != nil {
		t.Fatalf("load executed proposal: %v", err)
	}
	if stored.Status != proposal.StatusExecuted {
		t.Fatalf("expected EXECUTED, got %s", stored.Status)
	}

	// 再次执行是幂等的空操作。
	result, err = orch.ExecuteIfReady(ctx, hash)
	if err != nil {
		t.Fatalf("repeat execute: %v", err)
	}
	if !result.AlreadyExecuted || account.executed != 1 {
		t.Fatalf("repeat execute must be a noop, got %+v", result)
	}
}

func TestCheckProposalStatusNeverSkipsProposed(t *testing.T) {
	ctx := context.Background()
	hash := common.HexToHash("0xabc2")
	executedTx := common.HexToHash("0xeeee")
	account := &stubAccount{threshold: 2, nonce: big.NewInt(0)}
	service := &stubService{
		tx: &txservice.Transaction{
			SafeTxHash:            hash,
			Value:                 big.NewInt(0),
			Nonce:                 big.NewInt(0),
			ConfirmationsRequired: 1,
			IsExecuted:            true,
			TransactionHash:       &executedTx,
		},
	}
	orch, st, _ := newTestOrchestrator(t, account, service)

	// 本地还停在 DRAFT，远端已经执行: 状态必须逐级走完，不能跳级。
	seed := &proposal.Proposal{Hash: hash, ChainID: 1, Status: proposal.StatusDraft, Value: proposal.NewBigInt(nil), Nonce: proposal.NewBigInt(nil)}
	if err := st.PutProposal(ctx, seed); err != nil {
		t.Fatalf("seed proposal: %v", err)
	}

	report, err := orch.CheckProposalStatus(ctx, hash)
	if err != nil {
		t.Fatalf("check status: %v", err)
	}
	if report.Status != proposal.StatusExecuted {
		t.Fatalf("expected EXECUTED, got %s", report.Status)
	}
	if report.ExecutedTx == nil || *report.ExecutedTx != executedTx {
		t.Fatalf("executed tx not propagated: %v", report.ExecutedTx)
	}
}

func TestRequiredThresholdFallsBackToChain(t *testing.T) {
	ctx := context.Background()
	hash := common.HexToHash("0xabc3")
	account := &stubAccount{threshold: 3, nonce: big.NewInt(0)}
	service := &stubService{
		tx: &txservice.Transaction{
			SafeTxHash: hash,
			Value:      big.NewInt(0),
			Nonce:      big.NewInt(0),
			// 远端未声明阈值，必须回落到链上的真实值。
			ConfirmationsRequired: 0,
			Confirmations: []txservice.Confirmation{
				{Owner: common.HexToAddress("0x01"), Signature: make([]byte, 65)},
				{Owner: common.HexToAddress("0x02"), Signature: make([]byte, 65)},
			},
		},
	}
	orch, st, _ := newTestOrchestrator(t, account, service)

	seed := &proposal.Proposal{Hash: hash, ChainID: 1, Status: proposal.StatusProposed, Value: proposal.NewBigInt(nil), Nonce: proposal.NewBigInt(nil)}
	if err := st.PutProposal(ctx, seed); err != nil {
		t.Fatalf("seed proposal: %v", err)
	}

	report, err := orch.CheckProposalStatus(ctx, hash)
	if err != nil {
		t.Fatalf("check status: %v", err)
	}
	if report.Required != 3 {
		t.Fatalf("expected on-chain threshold 3, got %d", report.Required)
	}
	if report.ReadyToExecute {
		t.Fatal("two of three confirmations must not be executable")
	}
}

func TestAgentSignTransactionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	hash := common.HexToHash("0xabc4")
	account := &stubAccount{
		address:   common.HexToAddress("0x5555555555555555555555555555555555555555"),
		threshold: 2,
		nonce:     big.NewInt(0),
	}
	service := &stubService{
		tx: &txservice.Transaction{
			SafeTxHash:            hash,
			To:                    common.HexToAddress("0x01"),
			Value:                 big.NewInt(5),
			Nonce:                 big.NewInt(1),
			ConfirmationsRequired: 2,
		},
	}
	orch, st, agent := newTestOrchestrator(t, account, service)

	result, err := orch.AgentSignTransaction(ctx, hash)
	if err != nil {
		t.Fatalf("agent sign: %v", err)
	}
	if result.AlreadySigned {
		t.Fatal("first signature must not be reported as duplicate")
	}
	if len(service.confirmed) != 1 {
		t.Fatalf("expected one confirm call, got %d", len(service.confirmed))
	}

	// 人类先行提案: 本地应补一条 PROPOSED 缓存。
	cached, err := st.GetProposal(ctx, hash)
	if err != nil {
		t.Fatalf("cached proposal missing: %v", err)
	}
	if cached.Status != proposal.StatusProposed {
		t.Fatalf("cached proposal must be PROPOSED, got %s", cached.Status)
	}

	// 远端记下智能体的确认后，再签是空操作。
	service.tx.Confirmations = append(service.tx.Confirmations,
		txservice.Confirmation{Owner: agent.Address(), Signature: make([]byte, 65)})

	result, err = orch.AgentSignTransaction(ctx, hash)
	if err != nil {
		t.Fatalf("repeat agent sign: %v", err)
	}
	if !result.AlreadySigned {
		t.Fatal("repeat sign must be reported as already signed")
	}
	if len(service.confirmed) != 1 {
		t.Fatalf("repeat sign must not call confirm again, got %d", len(service.confirmed))
	}

	// 已执行的交易拒绝补签。
	service.tx.IsExecuted = true
	if _, err := orch.AgentSignTransaction(ctx, hash); !xerrors.Is(err, CodeAlreadyExecuted) {
		t.Fatalf("expected ALREADY_EXECUTED, got %v", err)
	}
}
