package vault

import (
	"context"
	"math/big"

	xerrors "CoVault/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

// Operation 区分普通调用与委托调用。
type Operation uint8

const (
	OperationCall         Operation = 0
	OperationDelegateCall Operation = 1
)

const (
	CodeVaultNotDeployed   xerrors.Code = "VAULT_NOT_DEPLOYED"
	CodeThresholdNotMet    xerrors.Code = "THRESHOLD_NOT_MET"
	CodeInvalidVaultConfig xerrors.Code = "INVALID_VAULT_CONFIG"
)

func init() {
	xerrors.Register(CodeVaultNotDeployed, xerrors.Attributes{
		Message:   "vault contract not deployed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeThresholdNotMet, xerrors.Attributes{
		Message:   "not enough confirmations to execute",
		Severity:  xerrors.SeverityInfo,
		Retryable: true,
		Alert:     false,
	})
	xerrors.Register(CodeInvalidVaultConfig, xerrors.Attributes{
		Message:   "invalid vault configuration",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

// Call 是一笔对外部合约的单次调用。
type Call struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// Action 是经过组合后可由金库直接执行的动作。
// 单笔调用保持 Call 操作；多笔调用通过批量合约合并为一次 DelegateCall。
type Action struct {
	To        common.Address
	Value     *big.Int
	Data      []byte
	Operation Operation
}

// Setup 描述一个待部署金库的初始配置。
type Setup struct {
	Owners    []common.Address
	Threshold uint64
	SaltNonce *big.Int
}

// Validate 检查配置是否可用于部署。
func (s Setup) Validate() error {
	if len(s.Owners) == 0 {
		return xerrors.New(CodeInvalidVaultConfig, "金库至少需要一个所有者")
	}
	if s.Threshold == 0 || s.Threshold > uint64(len(s.Owners)) {
		return xerrors.New(CodeInvalidVaultConfig, "签名阈值必须在 1 和所有者数量之间")
	}
	seen := make(map[common.Address]struct{}, len(s.Owners))
	for _, owner := range s.Owners {
		if owner == (common.Address{}) {
			return xerrors.New(CodeInvalidVaultConfig, "所有者地址不能为零地址")
		}
		if _, dup := seen[owner]; dup {
			return xerrors.New(CodeInvalidVaultConfig, "所有者地址重复: "+owner.Hex())
		}
		seen[owner] = struct{}{}
	}
	return nil
}

// OwnerSignature 是某个所有者对动作哈希的签名。
type OwnerSignature struct {
	Owner     common.Address
	Signature []byte
}

// Account 抽象一个已知地址的多签金库账户。
type Account interface {
	// Address 返回金库合约地址。
	Address() common.Address
	// IsDeployed 判断金库合约代码是否已上链。
	IsDeployed(ctx context.Context) (bool, error)
	// Nonce 返回金库当前的交易序号。
	Nonce(ctx context.Context) (*big.Int, error)
	// Threshold 返回链上实际的签名阈值。
	Threshold(ctx context.Context) (uint64, error)
	// Owners 返回链上登记的所有者列表。
	Owners(ctx context.Context) ([]common.Address, error)
	// BuildAction 将一组调用组合为单个可执行动作。
	BuildAction(calls []Call) (Action, error)
	// HashAction 计算动作在给定序号下的待签名摘要。
	HashAction(ctx context.Context, action Action, nonce *big.Int) (common.Hash, error)
	// ExecuteAction 携带足额签名上链执行动作，返回以太坊交易哈希。
	ExecuteAction(ctx context.Context, action Action, sigs []OwnerSignature) (common.Hash, error)
}

// Factory 抽象金库的确定性部署。
type Factory interface {
	// PredictAddress 在部署前计算金库将要落位的地址。
	PredictAddress(ctx context.Context, setup Setup) (common.Address, error)
	// Deploy 按配置部署金库，返回部署交易哈希。
	Deploy(ctx context.Context, setup Setup) (common.Hash, error)
}
