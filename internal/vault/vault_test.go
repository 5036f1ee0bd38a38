package vault

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"CoVault/internal/identity"
	"CoVault/pkg/logger"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

func TestSetupValidate(t *testing.T) {
	a := common.HexToAddress("0x1111111111111111111111111111111111111111")
	b := common.HexToAddress("0x2222222222222222222222222222222222222222")

	cases := []struct {
		name    string
		setup   Setup
		wantErr bool
	}{
		{"valid", Setup{Owners: []common.Address{a, b}, Threshold: 2}, false},
		{"no owners", Setup{Threshold: 1}, true},
		{"zero threshold", Setup{Owners: []common.Address{a}, Threshold: 0}, true},
		{"threshold above owners", Setup{Owners: []common.Address{a}, Threshold: 2}, true},
		{"zero address owner", Setup{Owners: []common.Address{{}}, Threshold: 1}, true},
		{"duplicate owner", Setup{Owners: []common.Address{a, a}, Threshold: 1}, true},
	}
	for _, tc := range cases {
		err := tc.setup.Validate()
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: Validate() err = %v, wantErr %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestBuildActionSingleCallPassesThrough(t *testing.T) {
	to := common.HexToAddress("0x3333333333333333333333333333333333333333")
	multiSend := common.HexToAddress("0x9999999999999999999999999999999999999999")

	action, err := buildAction([]Call{{To: to, Value: big.NewInt(7), Data: []byte{0xab}}}, multiSend)
	if err != nil {
		t.Fatalf("build single call: %v", err)
	}
	if action.To != to {
		t.Fatalf("expected passthrough target, got %s", action.To.Hex())
	}
	if action.Operation != OperationCall {
		t.Fatalf("single call must use Call operation, got %d", action.Operation)
	}
	if action.Value.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("value mangled: %s", action.Value)
	}
}

func TestBuildActionBatchUsesDelegateCall(t *testing.T) {
	first := common.HexToAddress("0x3333333333333333333333333333333333333333")
	second := common.HexToAddress("0x4444444444444444444444444444444444444444")
	multiSend := common.HexToAddress("0x9999999999999999999999999999999999999999")

	action, err := buildAction([]Call{
		{To: first, Value: big.NewInt(1), Data: []byte{0x01, 0x02}},
		{To: second, Data: []byte{0x03}},
	}, multiSend)
	if err != nil {
		t.Fatalf("build batch: %v", err)
	}
	if action.To != multiSend {
		t.Fatalf("batch must target the multi-send contract, got %s", action.To.Hex())
	}
	if action.Operation != OperationDelegateCall {
		t.Fatalf("batch must use DelegateCall, got %d", action.Operation)
	}
	if action.Value.Sign() != 0 {
		t.Fatalf("batch action carries no direct value, got %s", action.Value)
	}
	// 紧凑编码的第一笔交易: operation(1) || to(20) || value(32) || len(32) || data。
	packed := action.Data[4+32+32:] // 方法选择器 + bytes 偏移 + bytes 长度
	if packed[0] != byte(OperationCall) {
		t.Fatalf("inner operation must be Call, got %d", packed[0])
	}
	if !bytes.Equal(packed[1:21], first.Bytes()) {
		t.Fatalf("first inner target mismatch")
	}
}

func TestBuildActionRejectsEmpty(t *testing.T) {
	if _, err := buildAction(nil, common.Address{}); err == nil {
		t.Fatal("expected error for empty call list")
	}
}

func TestEncodeSignaturesSortsByOwnerAscending(t *testing.T) {
	sigA := bytes.Repeat([]byte{0xAA}, 65)
	sigB := bytes.Repeat([]byte{0xBB}, 65)
	sigC := bytes.Repeat([]byte{0xCC}, 65)

	encoded, err := EncodeSignatures([]OwnerSignature{
		{Owner: common.HexToAddress("0xB000000000000000000000000000000000000000"), Signature: sigB},
		{Owner: common.HexToAddress("0xA000000000000000000000000000000000000000"), Signature: sigA},
		{Owner: common.HexToAddress("0xC000000000000000000000000000000000000000"), Signature: sigC},
	})
	if err != nil {
		t.Fatalf("encode signatures: %v", err)
	}
	if len(encoded) != 3*65 {
		t.Fatalf("expected 195 bytes, got %d", len(encoded))
	}
	if !bytes.Equal(encoded[:65], sigA) || !bytes.Equal(encoded[65:130], sigB) || !bytes.Equal(encoded[130:], sigC) {
		t.Fatal("signatures not sorted by owner address ascending")
	}
}

func TestEncodeSignaturesRejectsBadLength(t *testing.T) {
	_, err := EncodeSignatures([]OwnerSignature{
		{Owner: common.HexToAddress("0x01"), Signature: []byte{0x01}},
	})
	if err == nil {
		t.Fatal("expected error for signature shorter than 65 bytes")
	}
}

func TestHashSafeTxDependsOnNonce(t *testing.T) {
	chainID := big.NewInt(1)
	safe := common.HexToAddress("0x5555555555555555555555555555555555555555")
	action := Action{
		To:    common.HexToAddress("0x6666666666666666666666666666666666666666"),
		Value: big.NewInt(1),
		Data:  []byte{0x01},
	}

	h0 := hashSafeTx(chainID, safe, action, big.NewInt(0))
	h0again := hashSafeTx(chainID, safe, action, big.NewInt(0))
	h1 := hashSafeTx(chainID, safe, action, big.NewInt(1))

	if h0 != h0again {
		t.Fatal("hash must be deterministic for identical inputs")
	}
	if h0 == h1 {
		t.Fatal("hash must change when the nonce changes")
	}
	if hashSafeTx(big.NewInt(10), safe, action, big.NewInt(0)) == h0 {
		t.Fatal("hash must change when the chain id changes")
	}
}

type submitClient struct {
	estimateErr error
	sent        *coretypes.Transaction
}

func (c *submitClient) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (c *submitClient) BalanceAt(context.Context, common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (c *submitClient) CodeAt(context.Context, common.Address) ([]byte, error) { return nil, nil }

func (c *submitClient) CallContract(context.Context, gethcore.CallMsg) ([]byte, error) {
	return nil, nil
}

func (c *submitClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 7, nil
}

func (c *submitClient) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (c *submitClient) EstimateGas(context.Context, gethcore.CallMsg) (uint64, error) {
	if c.estimateErr != nil {
		return 0, c.estimateErr
	}
	return 60_000, nil
}

func (c *submitClient) SendTransaction(_ context.Context, tx *coretypes.Transaction) error {
	c.sent = tx
	return nil
}

func (c *submitClient) WaitForReceipt(context.Context, common.Hash) (*coretypes.Receipt, error) {
	return &coretypes.Receipt{Status: coretypes.ReceiptStatusSuccessful}, nil
}

func (c *submitClient) Close() {}

func TestSubmitFallsBackWhenEstimateFails(t *testing.T) {
	ctx := context.Background()
	agent, err := identity.NewManager(t.TempDir(), "test-passphrase").Create()
	if err != nil {
		t.Fatalf("create identity: %v", err)
	}
	to := common.HexToAddress("0x4444444444444444444444444444444444444444")

	client := &submitClient{}
	if _, err := submitFrom(ctx, client, agent, to, []byte{0x01}, logger.Named("test")); err != nil {
		t.Fatalf("submit with working estimate: %v", err)
	}
	if client.sent.Gas() != 60_000 {
		t.Fatalf("expected the node estimate to be used, got %d", client.sent.Gas())
	}

	client = &submitClient{estimateErr: errors.New("node overloaded")}
	if _, err := submitFrom(ctx, client, agent, to, []byte{0x01}, logger.Named("test")); err != nil {
		t.Fatalf("estimate failure must not abort the submission: %v", err)
	}
	if client.sent == nil {
		t.Fatal("transaction was never broadcast")
	}
	if client.sent.Gas() != execGasFallback {
		t.Fatalf("expected fallback gas limit %d, got %d", execGasFallback, client.sent.Gas())
	}
}
