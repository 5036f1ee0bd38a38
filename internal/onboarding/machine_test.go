package onboarding

import (
	"context"
	"math/big"
	"testing"

	"CoVault/internal/chain"
	xerrors "CoVault/internal/errors"
	"CoVault/internal/identity"
	"CoVault/internal/store"
	"CoVault/internal/vault"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

type stubClient struct {
	balance       *big.Int
	receiptStatus uint64
}

func (c *stubClient) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (c *stubClient) BalanceAt(context.Context, common.Address) (*big.Int, error) {
	if c.balance == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(c.balance), nil
}

func (c *stubClient) CodeAt(context.Context, common.Address) ([]byte, error) { return nil, nil }

func (c *stubClient) CallContract(context.Context, gethcore.CallMsg) ([]byte, error) {
	return nil, nil
}

func (c *stubClient) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 0, nil }

func (c *stubClient) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (c *stubClient) EstimateGas(context.Context, gethcore.CallMsg) (uint64, error) {
	return 21000, nil
}

func (c *stubClient) SendTransaction(context.Context, *coretypes.Transaction) error { return nil }

func (c *stubClient) WaitForReceipt(context.Context, common.Hash) (*coretypes.Receipt, error) {
	status := c.receiptStatus
	if status == 0 {
		status = coretypes.ReceiptStatusSuccessful
	}
	return &coretypes.Receipt{Status: status}, nil
}

func (c *stubClient) Close() {}

type stubFactory struct {
	predicted common.Address
	deploys   int
}

func (f *stubFactory) PredictAddress(_ context.Context, setup vault.Setup) (common.Address, error) {
	return f.predicted, nil
}

func (f *stubFactory) Deploy(_ context.Context, setup vault.Setup) (common.Hash, error) {
	f.deploys++
	return common.HexToHash("0xdeadbeef"), nil
}

func testProfile() *chain.NetworkProfile {
	return &chain.NetworkProfile{ChainID: 1, Name: "mainnet", NativeSymbol: "ETH"}
}

func newTestMachine(t *testing.T, client *stubClient) (*Machine, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	keys := identity.NewManager(t.TempDir(), "test-passphrase")
	m := NewMachine(testProfile(), st, keys, client, nil)
	return m, st
}

func TestStartIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m, st := newTestMachine(t, &stubClient{})

	first, err := m.Start(ctx)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	state, err := st.LoadState(ctx)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if state.Stage != string(StageAgentKeyCreated) {
		t.Fatalf("expected AGENT_KEY_CREATED after first start, got %s", state.Stage)
	}

	second, err := m.Start(ctx)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if first != second {
		t.Fatalf("start generated a second identity: %s != %s", first.Hex(), second.Hex())
	}
	state, _ = st.LoadState(ctx)
	if state.Stage != string(StageAgentKeyCreated) {
		t.Fatalf("second start changed stage to %s", state.Stage)
	}
}

func TestCheckAgentFundsAdvancesStage(t *testing.T) {
	ctx := context.Background()
	client := &stubClient{balance: big.NewInt(5)}
	m, _ := newTestMachine(t, client)

	if _, err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	report, err := m.CheckAgentFunds(ctx, big.NewInt(10))
	if err != nil {
		t.Fatalf("insufficient balance must not error: %v", err)
	}
	if report.Sufficient {
		t.Fatal("5 wei should be short of a 10 wei minimum")
	}
	if report.Stage != StageAwaitFunding {
		t.Fatalf("expected AWAIT_FUNDING, got %s", report.Stage)
	}

	client.balance = big.NewInt(20)
	report, err = m.CheckAgentFunds(ctx, big.NewInt(10))
	if err != nil {
		t.Fatalf("check funds: %v", err)
	}
	if !report.Sufficient || report.Stage != StageAwaitOwner {
		t.Fatalf("expected AWAIT_OWNER once funded, got %s", report.Stage)
	}
}

func TestAddOwnerAddressRejectsAgentAndDuplicates(t *testing.T) {
	ctx := context.Background()
	m, st := newTestMachine(t, &stubClient{})

	agent, err := m.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := m.AddOwnerAddress(ctx, agent.Hex()); !xerrors.Is(err, CodeSelfOwnership) {
		t.Fatalf("expected SELF_OWNERSHIP_REJECTED, got %v", err)
	}
	if err := m.AddOwnerAddress(ctx, "not-an-address"); !xerrors.Is(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}

	owner := "0x2222222222222222222222222222222222222222"
	if err := m.AddOwnerAddress(ctx, owner); err != nil {
		t.Fatalf("add owner: %v", err)
	}
	if err := m.AddOwnerAddress(ctx, owner); err != nil {
		t.Fatalf("duplicate owner must be a silent noop: %v", err)
	}

	state, _ := st.LoadState(ctx)
	if len(state.Owners) != 1 {
		t.Fatalf("expected exactly one owner, got %d", len(state.Owners))
	}
	if state.Stage != string(StageReadyToDeploy) {
		t.Fatalf("expected READY_TO_DEPLOY, got %s", state.Stage)
	}
}

func TestDeployRequiresReadyStage(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMachine(t, &stubClient{})

	if _, err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := m.Deploy(ctx, 0); !xerrors.Is(err, CodeNotReady) {
		t.Fatalf("expected NOT_READY before owners are collected, got %v", err)
	}
}

func TestDeployRegistersVaultAndFinishes(t *testing.T) {
	ctx := context.Background()
	m, st := newTestMachine(t, &stubClient{balance: big.NewInt(1)})
	factory := &stubFactory{predicted: common.HexToAddress("0x4444444444444444444444444444444444444444")}
	m.SetFactory(factory)

	agent, err := m.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.AddOwnerAddress(ctx, "0x2222222222222222222222222222222222222222"); err != nil {
		t.Fatalf("add owner: %v", err)
	}

	result, err := m.Deploy(ctx, 2)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if result.Address != factory.predicted {
		t.Fatalf("vault address mismatch: %s", result.Address.Hex())
	}
	if factory.deploys != 1 {
		t.Fatalf("expected exactly one deploy, got %d", factory.deploys)
	}

	state, _ := st.LoadState(ctx)
	if state.Stage != string(StageReady) {
		t.Fatalf("expected READY after deploy, got %s", state.Stage)
	}
	if state.ActiveVaults[1] != factory.predicted {
		t.Fatalf("active vault not recorded: %v", state.ActiveVaults)
	}

	vaults, err := st.ListVaults(ctx)
	if err != nil {
		t.Fatalf("list vaults: %v", err)
	}
	if len(vaults) != 1 || vaults[0].Threshold != 2 {
		t.Fatalf("unexpected vault registry: %+v", vaults)
	}
	if len(vaults[0].Owners) != 2 || vaults[0].Owners[0] != agent {
		t.Fatalf("agent must be the first owner in the record: %+v", vaults[0].Owners)
	}
}

func TestAddOwnerAddressRejectedAfterDeploy(t *testing.T) {
	ctx := context.Background()
	m, st := newTestMachine(t, &stubClient{balance: big.NewInt(1)})
	factory := &stubFactory{predicted: common.HexToAddress("0x4444444444444444444444444444444444444444")}
	m.SetFactory(factory)

	if _, err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.AddOwnerAddress(ctx, "0x2222222222222222222222222222222222222222"); err != nil {
		t.Fatalf("add owner: %v", err)
	}
	if _, err := m.Deploy(ctx, 2); err != nil {
		t.Fatalf("deploy: %v", err)
	}

	state, _ := st.LoadState(ctx)
	if state.Stage != string(StageReady) {
		t.Fatalf("expected READY after deploy, got %s", state.Stage)
	}

	err := m.AddOwnerAddress(ctx, "0x3333333333333333333333333333333333333333")
	if !xerrors.Is(err, CodeNotReady) {
		t.Fatalf("expected NOT_READY for a post-deploy owner addition, got %v", err)
	}

	state, _ = st.LoadState(ctx)
	if state.Stage != string(StageReady) {
		t.Fatalf("rejected addition must not touch the stage, got %s", state.Stage)
	}
	if len(state.Owners) != 1 {
		t.Fatalf("owner list changed after deploy: %v", state.Owners)
	}

	if _, err := m.Deploy(ctx, 2); !xerrors.Is(err, CodeNotReady) {
		t.Fatalf("expected NOT_READY on a second deploy, got %v", err)
	}
	if factory.deploys != 1 {
		t.Fatalf("vault must deploy exactly once, got %d", factory.deploys)
	}
	state, _ = st.LoadState(ctx)
	if state.ActiveVaults[1] != factory.predicted {
		t.Fatalf("original vault record lost: %v", state.ActiveVaults)
	}
}
