package txservice

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	xerrors "CoVault/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected an error for an empty base url")
	}
}

func TestGetTransactionParsesWireFormat(t *testing.T) {
	hash := common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
	owner := common.HexToAddress("0xA000000000000000000000000000000000000001")
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wantPath := "/api/v1/multisig-transactions/" + hash.Hex() + "/"
		if r.URL.Path != wantPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		// 数值字段走十进制字符串，含超出 float64 精度的金额。
		json.NewEncoder(w).Encode(map[string]interface{}{
			"safeTxHash":            hash.Hex(),
			"to":                    "0xB000000000000000000000000000000000000002",
			"value":                 "115792089237316195423570985008687907853269984665640564039457",
			"data":                  "0xdeadbeef",
			"operation":             1,
			"nonce":                 "42",
			"confirmationsRequired": 2,
			"isExecuted":            false,
			"confirmations": []map[string]string{
				{"owner": owner.Hex(), "signature": "0xab00"},
			},
		})
	}))

	tx, err := client.GetTransaction(context.Background(), hash)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if tx.SafeTxHash != hash {
		t.Fatal("hash mismatch")
	}
	want, _ := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457", 10)
	if tx.Value.Cmp(want) != 0 {
		t.Fatalf("large value lost precision: %s", tx.Value)
	}
	if tx.Nonce.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("nonce mismatch: %s", tx.Nonce)
	}
	if tx.Operation != 1 || tx.ConfirmationsRequired != 2 {
		t.Fatalf("unexpected fields: %+v", tx)
	}
	if len(tx.Data) != 4 {
		t.Fatalf("data not decoded: %x", tx.Data)
	}
	if len(tx.Confirmations) != 1 || tx.Confirmations[0].Owner != owner {
		t.Fatalf("confirmations not parsed: %+v", tx.Confirmations)
	}
	if !tx.HasConfirmationFrom(owner) {
		t.Fatal("HasConfirmationFrom must match a parsed confirmation")
	}
	if tx.TransactionHash != nil {
		t.Fatal("unexecuted transaction must carry no ethereum tx hash")
	}
}

func TestGetTransactionNotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	_, err := client.GetTransaction(context.Background(), common.HexToHash("0x01"))
	if !xerrors.Is(err, xerrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestGetTransactionRejectsMalformedValue(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"safeTxHash": "0x01",
			"value":      "not-a-number",
			"nonce":      "0",
		})
	}))

	_, err := client.GetTransaction(context.Background(), common.HexToHash("0x01"))
	if !xerrors.Is(err, xerrors.CodeCoordinationFailure) {
		t.Fatalf("expected COORDINATION_FAILURE, got %v", err)
	}
}

func TestProposeSendsSafeTransactionServicePayload(t *testing.T) {
	safe := common.HexToAddress("0x5555555555555555555555555555555555555555")
	hash := common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222222")

	var got map[string]interface{}
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		wantPath := "/api/v1/safes/" + safe.Hex() + "/multisig-transactions/"
		if r.URL.Path != wantPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))

	err := client.Propose(context.Background(), ProposeRequest{
		Safe:      safe,
		To:        common.HexToAddress("0x01"),
		Value:     big.NewInt(1000),
		Data:      []byte{0xde, 0xad},
		Operation: 0,
		Nonce:     big.NewInt(5),
		Hash:      hash,
		Sender:    common.HexToAddress("0x02"),
		Signature: make([]byte, 65),
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	if got["value"] != "1000" || got["nonce"] != "5" {
		t.Fatalf("numeric fields must be decimal strings: %v", got)
	}
	if got["contractTransactionHash"] != hash.Hex() {
		t.Fatalf("hash field mismatch: %v", got["contractTransactionHash"])
	}
	// 服务端要求的 gas 字段固定为零，执行时再由链上估算。
	for _, field := range []string{"safeTxGas", "baseGas", "gasPrice"} {
		if got[field] != "0" {
			t.Fatalf("%s must be %q, got %v", field, "0", got[field])
		}
	}
	if got["data"] != "0xdead" {
		t.Fatalf("data must be hex encoded: %v", got["data"])
	}
}

func TestProposeSurfacesServerRejection(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid signature", http.StatusUnprocessableEntity)
	}))

	err := client.Propose(context.Background(), ProposeRequest{
		Safe: common.HexToAddress("0x01"),
		Hash: common.HexToHash("0x02"),
	})
	if !xerrors.Is(err, xerrors.CodeCoordinationFailure) {
		t.Fatalf("expected COORDINATION_FAILURE, got %v", err)
	}
}

func TestGetPendingTransactionsFiltersExecuted(t *testing.T) {
	safe := common.HexToAddress("0x5555555555555555555555555555555555555555")
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("executed") != "false" {
			t.Errorf("expected executed=false query, got %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{
				{"safeTxHash": "0x03", "value": "0", "nonce": "1"},
				{"safeTxHash": "0x04", "value": "7", "nonce": "2"},
			},
		})
	}))

	pending, err := client.GetPendingTransactions(context.Background(), safe)
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected two pending transactions, got %d", len(pending))
	}
	if pending[1].Value.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("pending value mismatch: %s", pending[1].Value)
	}
}

func TestConfirmPostsSignature(t *testing.T) {
	hash := common.HexToHash("0x3333333333333333333333333333333333333333333333333333333333333333")
	var got map[string]string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wantPath := "/api/v1/multisig-transactions/" + hash.Hex() + "/confirmations/"
		if r.URL.Path != wantPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))

	if err := client.Confirm(context.Background(), hash, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got["signature"] != "0x0102" {
		t.Fatalf("signature not hex encoded: %v", got)
	}
}
