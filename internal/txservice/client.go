// Package txservice 封装链下协调服务的 HTTP 接口。
// 协调服务以动作哈希为键保存提案与已收集的签名，
// 在执行完成前，它是确认计数的唯一事实来源。
package txservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	xerrors "CoVault/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const defaultTimeout = 30 * time.Second

// Confirmation 是某个所有者提交的一份签名。
type Confirmation struct {
	Owner     common.Address
	Signature hexutil.Bytes
}

// Transaction 是协调服务记录的一笔提案交易。
type Transaction struct {
	SafeTxHash            common.Hash
	To                    common.Address
	Value                 *big.Int
	Data                  hexutil.Bytes
	Operation             uint8
	Nonce                 *big.Int
	ConfirmationsRequired uint64
	Confirmations         []Confirmation
	IsExecuted            bool
	TransactionHash       *common.Hash
}

// HasConfirmationFrom 判断指定所有者是否已提交签名。
func (t *Transaction) HasConfirmationFrom(owner common.Address) bool {
	for _, c := range t.Confirmations {
		if c.Owner == owner {
			return true
		}
	}
	return false
}

// ProposeRequest 是提交新提案所需的全部字段。
// Signature 必须恰好覆盖 SafeTxHash，服务端会做验签。
type ProposeRequest struct {
	Safe      common.Address
	To        common.Address
	Value     *big.Int
	Data      []byte
	Operation uint8
	Nonce     *big.Int
	Hash      common.Hash
	Sender    common.Address
	Signature []byte
}

// Service 抽象协调服务供编排层消费的操作。
type Service interface {
	Propose(ctx context.Context, req ProposeRequest) error
	GetTransaction(ctx context.Context, hash common.Hash) (*Transaction, error)
	GetPendingTransactions(ctx context.Context, safe common.Address) ([]*Transaction, error)
	Confirm(ctx context.Context, hash common.Hash, signature []byte) error
}

// Config 描述协调服务客户端的连接参数。
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client 通过 HTTP 与协调服务交互。
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient 根据配置创建协调服务客户端。
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "协调服务地址不能为空")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// 线格式: 数值字段以十进制字符串传输，避免 JSON 浮点精度损失。
type wireConfirmation struct {
	Owner     string `json:"owner"`
	Signature string `json:"signature"`
}

type wireTransaction struct {
	SafeTxHash            string             `json:"safeTxHash"`
	To                    string             `json:"to"`
	Value                 string             `json:"value"`
	Data                  string             `json:"data"`
	Operation             uint8              `json:"operation"`
	Nonce                 string             `json:"nonce"`
	ConfirmationsRequired uint64             `json:"confirmationsRequired"`
	Confirmations         []wireConfirmation `json:"confirmations"`
	IsExecuted            bool               `json:"isExecuted"`
	TransactionHash       string             `json:"transactionHash"`
}

type wirePropose struct {
	Safe                    string `json:"safe"`
	To                      string `json:"to"`
	Value                   string `json:"value"`
	Data                    string `json:"data"`
	Operation               uint8  `json:"operation"`
	SafeTxGas               string `json:"safeTxGas"`
	BaseGas                 string `json:"baseGas"`
	GasPrice                string `json:"gasPrice"`
	Nonce                   string `json:"nonce"`
	ContractTransactionHash string `json:"contractTransactionHash"`
	Sender                  string `json:"sender"`
	Signature               string `json:"signature"`
}

func parseWireTransaction(w wireTransaction) (*Transaction, error) {
	value, ok := new(big.Int).SetString(w.Value, 10)
	if !ok {
		return nil, xerrors.New(xerrors.CodeCoordinationFailure, "交易金额格式异常: "+w.Value)
	}
	nonce, ok := new(big.Int).SetString(w.Nonce, 10)
	if !ok {
		return nil, xerrors.New(xerrors.CodeCoordinationFailure, "交易序号格式异常: "+w.Nonce)
	}

	tx := &Transaction{
		SafeTxHash:            common.HexToHash(w.SafeTxHash),
		To:                    common.HexToAddress(w.To),
		Value:                 value,
		Operation:             w.Operation,
		Nonce:                 nonce,
		ConfirmationsRequired: w.ConfirmationsRequired,
		IsExecuted:            w.IsExecuted,
	}
	if w.Data != "" && w.Data != "0x" {
		data, err := hexutil.Decode(w.Data)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeCoordinationFailure, err, "交易数据格式异常")
		}
		tx.Data = data
	}
	if w.TransactionHash != "" {
		hash := common.HexToHash(w.TransactionHash)
		tx.TransactionHash = &hash
	}
	for _, c := range w.Confirmations {
		sig, err := hexutil.Decode(c.Signature)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeCoordinationFailure, err, "确认签名格式异常")
		}
		tx.Confirmations = append(tx.Confirmations, Confirmation{
			Owner:     common.HexToAddress(c.Owner),
			Signature: sig,
		})
	}
	return tx, nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeCoordinationFailure, err, "编码请求失败")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeCoordinationFailure, err, "构建协调服务请求失败")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeCoordinationFailure, err, "请求协调服务失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return xerrors.New(xerrors.CodeNotFound, "协调服务中不存在该记录: "+path)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return xerrors.New(xerrors.CodeCoordinationFailure,
			fmt.Sprintf("协调服务返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return xerrors.Wrap(xerrors.CodeCoordinationFailure, err, "解析协调服务响应失败")
		}
	}
	return nil
}

// Propose 提交一条新提案及智能体的首个签名。
func (c *Client) Propose(ctx context.Context, req ProposeRequest) error {
	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}
	nonce := req.Nonce
	if nonce == nil {
		nonce = big.NewInt(0)
	}
	body := wirePropose{
		Safe:                    req.Safe.Hex(),
		To:                      req.To.Hex(),
		Value:                   value.String(),
		Data:                    hexutil.Encode(req.Data),
		Operation:               req.Operation,
		SafeTxGas:               "0",
		BaseGas:                 "0",
		GasPrice:                "0",
		Nonce:                   nonce.String(),
		ContractTransactionHash: req.Hash.Hex(),
		Sender:                  req.Sender.Hex(),
		Signature:               hexutil.Encode(req.Signature),
	}
	path := fmt.Sprintf("/api/v1/safes/%s/multisig-transactions/", req.Safe.Hex())
	return c.do(ctx, http.MethodPost, path, body, nil)
}

// GetTransaction 按动作哈希读取完整交易记录，含全部已收集签名。
func (c *Client) GetTransaction(ctx context.Context, hash common.Hash) (*Transaction, error) {
	var wire wireTransaction
	path := fmt.Sprintf("/api/v1/multisig-transactions/%s/", hash.Hex())
	if err := c.do(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return nil, err
	}
	return parseWireTransaction(wire)
}

// GetPendingTransactions 返回指定金库尚未执行的提案。
func (c *Client) GetPendingTransactions(ctx context.Context, safe common.Address) ([]*Transaction, error) {
	var wire struct {
		Results []wireTransaction `json:"results"`
	}
	path := fmt.Sprintf("/api/v1/safes/%s/multisig-transactions/?executed=false", safe.Hex())
	if err := c.do(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return nil, err
	}
	out := make([]*Transaction, 0, len(wire.Results))
	for _, w := range wire.Results {
		tx, err := parseWireTransaction(w)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

// Confirm 为已存在的提案追加一份签名。
func (c *Client) Confirm(ctx context.Context, hash common.Hash, signature []byte) error {
	body := map[string]string{"signature": hexutil.Encode(signature)}
	path := fmt.Sprintf("/api/v1/multisig-transactions/%s/confirmations/", hash.Hex())
	return c.do(ctx, http.MethodPost, path, body, nil)
}
