package orchestrator

import (
	"context"
	"time"

	xerrors "CoVault/internal/errors"
	"CoVault/internal/notify"
	"CoVault/internal/observability/alerting"
	"CoVault/internal/observability/metrics"
	"CoVault/internal/proposal"
	"CoVault/internal/store"
	"CoVault/internal/txservice"
	"CoVault/internal/vault"
	"CoVault/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// StatusReport 是一次确认进度同步的结果。
type StatusReport struct {
	Hash           common.Hash
	Status         proposal.Status
	Confirmations  int
	Required       uint64
	ReadyToExecute bool
	Executed       bool
	ExecutedTx     *common.Hash
}

// ExecutionResult 是一次执行尝试的结果。
// 未到执行条件是正常结论而非错误，Reason 说明缘由。
type ExecutionResult struct {
	Executed        bool
	AlreadyExecuted bool
	TxHash          *common.Hash
	Confirmations   int
	Required        uint64
	Reason          string
}

// SignResult 是一次智能体补签的结果。
type SignResult struct {
	AlreadySigned bool
	Hash          common.Hash
}

// requiredThreshold 取远端声明的确认数要求，远端未给出时
// 回落到金库链上的实际阈值。阈值永远来自真实配置，不做任何假定。
func (o *Orchestrator) requiredThreshold(ctx context.Context, remote *txservice.Transaction) (uint64, error) {
	if remote.ConfirmationsRequired > 0 {
		return remote.ConfirmationsRequired, nil
	}
	account, err := o.requireAccount()
	if err != nil {
		return 0, err
	}
	return account.Threshold(ctx)
}

// advanceTo 按合法路径逐级推进提案状态，已到位时为空操作。
func advanceTo(p *proposal.Proposal, target proposal.Status) error {
	order := []proposal.Status{
		proposal.StatusDraft,
		proposal.StatusProposed,
		proposal.StatusOwnerConfirmed,
		proposal.StatusExecuted,
	}
	for _, next := range order {
		if p.Status == target {
			return nil
		}
		if proposal.CanTransition(p.Status, next) {
			if err := p.Advance(next); err != nil {
				return err
			}
		}
	}
	if p.Status != target {
		return xerrors.New(proposal.CodeInvalidTransition,
			"无法推进到目标状态: "+string(p.Status)+" -> "+string(target))
	}
	return nil
}

// CheckProposalStatus 从协调服务同步确认进度到本地提案。
// 这是确认计数进入本地状态的唯一入口; 重复调用是幂等的。
func (o *Orchestrator) CheckProposalStatus(ctx context.Context, hash common.Hash) (*StatusReport, error) {
	local, err := o.store.GetProposal(ctx, hash)
	if err != nil {
		return nil, err
	}
	remote, err := o.service.GetTransaction(ctx, hash)
	if err != nil {
		return nil, err
	}
	required, err := o.requiredThreshold(ctx, remote)
	if err != nil {
		return nil, err
	}

	confirmations := len(remote.Confirmations)
	before := local.Status

	switch {
	case remote.IsExecuted:
		executedTx := common.Hash{}
		if remote.TransactionHash != nil {
			executedTx = *remote.TransactionHash
		}
		if local.Status != proposal.StatusExecuted {
			if err := advanceTo(local, proposal.StatusOwnerConfirmed); err != nil {
				return nil, err
			}
			if err := local.MarkExecuted(executedTx); err != nil {
				return nil, err
			}
		}
	case uint64(confirmations) >= required:
		if local.Status == proposal.StatusProposed || local.Status == proposal.StatusDraft {
			if err := advanceTo(local, proposal.StatusOwnerConfirmed); err != nil {
				return nil, err
			}
		}
	}

	if local.Status != before {
		if err := o.store.PutProposal(ctx, local); err != nil {
			return nil, err
		}
		_ = o.events.Publish(ctx, notify.NewEvent(notify.KindProposalAdvanced, o.profile.ChainID,
			hash.Hex(), string(before)+" -> "+string(local.Status)))
	}

	return &StatusReport{
		Hash:           hash,
		Status:         local.Status,
		Confirmations:  confirmations,
		Required:       required,
		ReadyToExecute: !remote.IsExecuted && uint64(confirmations) >= required,
		Executed:       local.Status == proposal.StatusExecuted,
		ExecutedTx:     local.ExecutedTx,
	}, nil
}

// ExecuteIfReady 在确认数达到阈值后执行提案。
// 执行前总是重新向协调服务同步，绝不信任本地缓存的确认计数。
func (o *Orchestrator) ExecuteIfReady(ctx context.Context, hash common.Hash) (*ExecutionResult, error) {
	report, err := o.CheckProposalStatus(ctx, hash)
	if err != nil {
		return nil, err
	}
	if report.Executed {
		metrics.ObserveExecution("already_executed")
		return &ExecutionResult{
			AlreadyExecuted: true,
			TxHash:          report.ExecutedTx,
			Confirmations:   report.Confirmations,
			Required:        report.Required,
			Reason:          "提案已经执行",
		}, nil
	}
	if !report.ReadyToExecute {
		metrics.ObserveExecution("short_of_threshold")
		return &ExecutionResult{
			Confirmations: report.Confirmations,
			Required:      report.Required,
			Reason:        "确认数尚未达到阈值",
		}, nil
	}

	account, err := o.requireAccount()
	if err != nil {
		return nil, err
	}
	remote, err := o.service.GetTransaction(ctx, hash)
	if err != nil {
		return nil, err
	}

	action := vault.Action{
		To:        remote.To,
		Value:     remote.Value,
		Data:      remote.Data,
		Operation: vault.Operation(remote.Operation),
	}
	sigs := make([]vault.OwnerSignature, 0, len(remote.Confirmations))
	for _, c := range remote.Confirmations {
		sigs = append(sigs, vault.OwnerSignature{Owner: c.Owner, Signature: c.Signature})
	}

	// 链上回滚会从这里传播出去，提案停留在 OWNER_CONFIRMED 供重试。
	txHash, err := account.ExecuteAction(ctx, action, sigs)
	if err != nil {
		metrics.ObserveExecution("revert")
		_ = o.alerts.Notify(ctx, alerting.FromError(err, o.profile.ChainID, hash.Hex()))
		return nil, err
	}
	metrics.ObserveExecution("success")

	local, err := o.store.GetProposal(ctx, hash)
	if err != nil {
		return nil, err
	}
	if err := local.MarkExecuted(txHash); err != nil {
		return nil, err
	}
	if err := o.store.PutProposal(ctx, local); err != nil {
		return nil, err
	}

	_ = o.events.Publish(ctx, notify.NewEvent(notify.KindProposalExecuted, o.profile.ChainID,
		hash.Hex(), txHash.Hex()))
	o.log.Info("proposal executed",
		"hash", hash.Hex(),
		"tx_hash", txHash.Hex(),
		"confirmations", report.Confirmations,
	)
	logger.Audit().Info("proposal executed",
		"hash", hash.Hex(),
		"chain_id", o.profile.ChainID,
		"tx_hash", txHash.Hex(),
	)

	return &ExecutionResult{
		Executed:      true,
		TxHash:        &txHash,
		Confirmations: report.Confirmations,
		Required:      report.Required,
	}, nil
}

// AgentSignTransaction 为人类先行提案的交易补上智能体签名。
// 以所有者地址判断是否已签，而非计数，保证重复调用幂等。
func (o *Orchestrator) AgentSignTransaction(ctx context.Context, hash common.Hash) (*SignResult, error) {
	remote, err := o.service.GetTransaction(ctx, hash)
	if err != nil {
		return nil, err
	}
	if remote.IsExecuted {
		return nil, xerrors.New(CodeAlreadyExecuted, "提案已执行, 无需再签名: "+hash.Hex())
	}
	if remote.HasConfirmationFrom(o.agent.Address()) {
		return &SignResult{AlreadySigned: true, Hash: hash}, nil
	}

	signature, err := o.agent.SignHash(hash)
	if err != nil {
		return nil, err
	}
	if err := o.service.Confirm(ctx, hash, signature); err != nil {
		return nil, err
	}

	// 人类先行提案时本地账本还没有这条记录，补一条 PROPOSED 状态的缓存。
	if _, err := o.store.GetProposal(ctx, hash); err != nil {
		if xerrors.CodeOf(err) != xerrors.CodeNotFound {
			return nil, err
		}
		account, accErr := o.requireAccount()
		if accErr != nil {
			return nil, accErr
		}
		cached := &proposal.Proposal{
			Hash:        hash,
			ChainID:     o.profile.ChainID,
			Vault:       account.Address(),
			Status:      proposal.StatusProposed,
			Description: "externally proposed transaction",
			To:          remote.To,
			Value:       proposal.NewBigInt(remote.Value),
			Data:        append([]byte(nil), remote.Data...),
			Operation:   remote.Operation,
			Nonce:       proposal.NewBigInt(remote.Nonce),
			CreatedAt:   time.Now().UTC(),
		}
		if err := o.store.PutProposal(ctx, cached); err != nil {
			return nil, err
		}
	}

	o.log.Info("agent confirmation submitted", "hash", hash.Hex())
	return &SignResult{Hash: hash}, nil
}

// ListPendingTransactions 返回协调服务上尚未执行的提案。
func (o *Orchestrator) ListPendingTransactions(ctx context.Context) ([]*txservice.Transaction, error) {
	account, err := o.requireAccount()
	if err != nil {
		return nil, err
	}
	return o.service.GetPendingTransactions(ctx, account.Address())
}

// ListProposals 返回本地账本中当前网络的全部提案。
func (o *Orchestrator) ListProposals(ctx context.Context) ([]*proposal.Proposal, error) {
	return o.store.ListProposals(ctx, o.profile.ChainID)
}

// ListVaults 返回注册表中记录的全部金库。
func (o *Orchestrator) ListVaults(ctx context.Context) ([]store.VaultRecord, error) {
	return o.store.ListVaults(ctx)
}
