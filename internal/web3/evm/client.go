package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name         string
	RPCURL       string
	ReceiptWait  time.Duration
	PollInterval time.Duration
}

const (
	defaultReceiptWait  = 3 * time.Minute
	defaultPollInterval = 2 * time.Second
)

// Client implements the web3.Client interface for EVM compatible chains.
type Client struct {
	name         string
	rpcClient    *gethrpc.Client
	eth          *ethclient.Client
	receiptWait  time.Duration
	pollInterval time.Duration
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置节点 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接节点失败: %w", err)
	}

	receiptWait := cfg.ReceiptWait
	if receiptWait <= 0 {
		receiptWait = defaultReceiptWait
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	return &Client{
		name:         cfg.Name,
		rpcClient:    rpcClient,
		eth:          ethclient.NewClient(rpcClient),
		receiptWait:  receiptWait,
		pollInterval: pollInterval,
	}, nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	if c == nil {
		return
	}
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// ChainID 返回节点报告的链 ID。
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	return id, nil
}

// BalanceAt 查询账户的原生资产余额。
func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	balance, err := c.eth.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}
	return balance, nil
}

// CodeAt 返回地址上部署的合约字节码。
func (c *Client) CodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	code, err := c.eth.CodeAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("查询合约代码失败: %w", err)
	}
	return code, nil
}

// CallContract 执行只读合约调用。
func (c *Client) CallContract(ctx context.Context, msg gethcore.CallMsg) ([]byte, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	out, err := c.eth.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("合约调用失败: %w", err)
	}
	return out, nil
}

// PendingNonceAt 查询账户的待定 nonce。
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	nonce, err := c.eth.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("查询 nonce 失败: %w", err)
	}
	return nonce, nil
}

// SuggestGasPrice 返回节点建议的 gas 价格。
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询 gas 价格失败: %w", err)
	}
	return price, nil
}

// EstimateGas 估算交易的 gas 用量。
func (c *Client) EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	gas, err := c.eth.EstimateGas(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("估算 gas 失败: %w", err)
	}
	return gas, nil
}

// SendTransaction 广播一笔已签名交易。
func (c *Client) SendTransaction(ctx context.Context, tx *coretypes.Transaction) error {
	if err := c.ready(); err != nil {
		return err
	}
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("发送交易失败: %w", err)
	}
	return nil
}

// WaitForReceipt 轮询直到拿到交易回执或超时。
func (c *Client) WaitForReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.receiptWait)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(waitCtx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, gethcore.NotFound) {
			return nil, fmt.Errorf("查询交易回执失败: %w", err)
		}
		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("等待交易 %s 回执超时: %w", txHash.Hex(), waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) ready() error {
	if c == nil || c.eth == nil {
		return errors.New("未初始化的链客户端")
	}
	return nil
}
