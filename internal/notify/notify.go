// Package notify 把编排过程中的关键事件推送给外部订阅方。
// 人类所有者依赖这些事件得知何时需要去确认一笔提案。
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"CoVault/pkg/logger"

	"github.com/google/uuid"
)

// Kind 标识事件类型。
type Kind string

const (
	KindStageChanged     Kind = "stage_changed"
	KindVaultDeployed    Kind = "vault_deployed"
	KindProposalCreated  Kind = "proposal_created"
	KindProposalAdvanced Kind = "proposal_advanced"
	KindProposalExecuted Kind = "proposal_executed"
)

// Event 是一条推送给订阅方的编排事件。
// 涉及提案的事件必须携带动作哈希，订阅方凭它定位提案。
type Event struct {
	ID      string    `json:"id"`
	Kind    Kind      `json:"kind"`
	ChainID uint64    `json:"chain_id,omitempty"`
	Hash    string    `json:"hash,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// NewEvent 构造一条带唯一标识的事件。
func NewEvent(kind Kind, chainID uint64, hash, detail string) Event {
	return Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		ChainID: chainID,
		Hash:    hash,
		Detail:  detail,
		At:      time.Now().UTC(),
	}
}

// Publisher 抽象事件的投递通道。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// LogPublisher 把事件写进结构化日志，是默认的投递通道。
type LogPublisher struct {
	log *slog.Logger
}

// NewLogPublisher 创建日志投递通道。
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{log: logger.Named("notify")}
}

// Publish 实现 Publisher 接口。
func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	p.log.Info("orchestration event",
		"event_id", event.ID,
		"kind", string(event.Kind),
		"chain_id", event.ChainID,
		"hash", event.Hash,
		"payload", string(payload),
	)
	return nil
}

// Close 实现 Publisher 接口。
func (p *LogPublisher) Close() error {
	return nil
}
