// Package proposal 定义金库提案的领域模型。
// 提案以动作哈希为唯一键，只新增、只前进，从不删除。
package proposal

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SwapDetail 记录一笔兑换提案的结构化元数据，仅用于展示与审计。
type SwapDetail struct {
	FromSymbol  string `json:"from_symbol"`
	ToSymbol    string `json:"to_symbol"`
	AmountIn    BigInt `json:"amount_in"`
	ExpectedOut BigInt `json:"expected_out"`
	MinOut      BigInt `json:"min_out"`
}

// Proposal 是提案账本中的一条记录。
type Proposal struct {
	Hash        common.Hash   `json:"hash"`
	ChainID     uint64        `json:"chain_id"`
	Vault       common.Address `json:"vault"`
	Status      Status        `json:"status"`
	Description string        `json:"description"`
	To          common.Address `json:"to"`
	Value       BigInt        `json:"value"`
	Data        hexutil.Bytes `json:"data"`
	Operation   uint8         `json:"operation"`
	Nonce       BigInt        `json:"nonce"`
	CreatedAt   time.Time     `json:"created_at"`
	ExecutedTx  *common.Hash  `json:"executed_tx,omitempty"`
	Swap        *SwapDetail   `json:"swap,omitempty"`
}

// Advance 校验后推进提案状态。迁移非法时返回错误且不修改提案。
func (p *Proposal) Advance(to Status) error {
	next, err := Transition(p.Status, to)
	if err != nil {
		return err
	}
	p.Status = next
	return nil
}

// MarkExecuted 将提案置为 EXECUTED 并记录链上交易哈希。
func (p *Proposal) MarkExecuted(txHash common.Hash) error {
	if p.Status == StatusExecuted {
		if p.ExecutedTx == nil {
			p.ExecutedTx = &txHash
		}
		return nil
	}
	if err := p.Advance(StatusExecuted); err != nil {
		return err
	}
	p.ExecutedTx = &txHash
	return nil
}
