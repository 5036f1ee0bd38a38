package vault

import (
	"bytes"
	"context"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"

	"CoVault/internal/chain"
	xerrors "CoVault/internal/errors"
	"CoVault/internal/identity"
	"CoVault/internal/web3"
	"CoVault/pkg/logger"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// EIP-712 域分隔符与交易结构的类型哈希，与 1.3.0 版本合约一致。
var (
	domainSeparatorTypehash = common.HexToHash("0x47e79534a245952e8b16893a336b85a3d9ea9fa8c573f3d803afb92a79469218")
	safeTxTypehash          = common.HexToHash("0xbb8310d486368db6bd6f849402fdd73ad53d316b5a4b2644ad6efe0f941286d8")
)

const safeABIJSON = `[
	{"name":"nonce","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"getThreshold","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"getOwners","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
	{"name":"execTransaction","type":"function","stateMutability":"payable","inputs":[
		{"name":"to","type":"address"},
		{"name":"value","type":"uint256"},
		{"name":"data","type":"bytes"},
		{"name":"operation","type":"uint8"},
		{"name":"safeTxGas","type":"uint256"},
		{"name":"baseGas","type":"uint256"},
		{"name":"gasPrice","type":"uint256"},
		{"name":"gasToken","type":"address"},
		{"name":"refundReceiver","type":"address"},
		{"name":"signatures","type":"bytes"}],
	 "outputs":[{"name":"success","type":"bool"}]}
]`

var safeABI = mustParseABI(safeABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("vault: bad embedded abi: " + err.Error())
	}
	return parsed
}

// execGasFallback 在节点无法估算 gas 时使用的保守上限。
const execGasFallback uint64 = 1_000_000

// Safe 把一个已部署的多签金库合约适配为 Account 接口。
// 所有对链的读写都经由注入的 web3.Client 完成。
type Safe struct {
	client    web3.Client
	agent     *identity.Identity
	address   common.Address
	contracts chain.VaultContracts
	log       *slog.Logger

	chainOnce sync.Once
	chainID   *big.Int
	chainErr  error
}

// NewSafe 构造金库账户适配器。agent 用于支付并签署执行交易。
func NewSafe(client web3.Client, agent *identity.Identity, address common.Address, contracts chain.VaultContracts) *Safe {
	return &Safe{
		client:    client,
		agent:     agent,
		address:   address,
		contracts: contracts,
		log:       logger.Named("vault"),
	}
}

// Address 返回金库合约地址。
func (s *Safe) Address() common.Address {
	return s.address
}

func (s *Safe) resolveChainID(ctx context.Context) (*big.Int, error) {
	s.chainOnce.Do(func() {
		s.chainID, s.chainErr = s.client.ChainID(ctx)
	})
	return s.chainID, s.chainErr
}

// IsDeployed 通过合约代码判断金库是否已部署。
func (s *Safe) IsDeployed(ctx context.Context) (bool, error) {
	code, err := s.client.CodeAt(ctx, s.address)
	if err != nil {
		return false, err
	}
	return len(code) > 0, nil
}

func (s *Safe) view(ctx context.Context, method string) ([]interface{}, error) {
	input, err := safeABI.Pack(method)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "编码合约调用失败")
	}
	out, err := s.client.CallContract(ctx, gethcore.CallMsg{To: &s.address, Data: input})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, xerrors.New(CodeVaultNotDeployed, "金库合约无返回数据: "+s.address.Hex())
	}
	values, err := safeABI.Unpack(method, out)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "解码合约返回失败")
	}
	return values, nil
}

// Nonce 返回金库当前交易序号。
func (s *Safe) Nonce(ctx context.Context) (*big.Int, error) {
	values, err := s.view(ctx, "nonce")
	if err != nil {
		return nil, err
	}
	nonce, ok := values[0].(*big.Int)
	if !ok {
		return nil, xerrors.New(xerrors.CodeUnknown, "nonce 返回类型异常")
	}
	return nonce, nil
}

// Threshold 返回链上实际的签名阈值。
func (s *Safe) Threshold(ctx context.Context) (uint64, error) {
	values, err := s.view(ctx, "getThreshold")
	if err != nil {
		return 0, err
	}
	threshold, ok := values[0].(*big.Int)
	if !ok {
		return 0, xerrors.New(xerrors.CodeUnknown, "getThreshold 返回类型异常")
	}
	return threshold.Uint64(), nil
}

// Owners 返回链上登记的所有者列表。
func (s *Safe) Owners(ctx context.Context) ([]common.Address, error) {
	values, err := s.view(ctx, "getOwners")
	if err != nil {
		return nil, err
	}
	owners, ok := values[0].([]common.Address)
	if !ok {
		return nil, xerrors.New(xerrors.CodeUnknown, "getOwners 返回类型异常")
	}
	return owners, nil
}

// BuildAction 将调用列表组合为单个动作。
// 单笔调用原样透传；多笔调用编码进批量合约，由金库以 DelegateCall 执行。
func (s *Safe) BuildAction(calls []Call) (Action, error) {
	return buildAction(calls, s.contracts.MultiSend)
}

// HashAction 计算动作在给定序号下的 EIP-712 待签名摘要。
func (s *Safe) HashAction(ctx context.Context, action Action, nonce *big.Int) (common.Hash, error) {
	chainID, err := s.resolveChainID(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	return hashSafeTx(chainID, s.address, action, nonce), nil
}

func hashSafeTx(chainID *big.Int, safe common.Address, action Action, nonce *big.Int) common.Hash {
	domain := crypto.Keccak256Hash(
		domainSeparatorTypehash.Bytes(),
		common.BigToHash(chainID).Bytes(),
		common.BytesToHash(safe.Bytes()).Bytes(),
	)

	value := action.Value
	if value == nil {
		value = big.NewInt(0)
	}
	structHash := crypto.Keccak256Hash(
		safeTxTypehash.Bytes(),
		common.BytesToHash(action.To.Bytes()).Bytes(),
		common.BigToHash(value).Bytes(),
		crypto.Keccak256(action.Data),
		common.BigToHash(big.NewInt(int64(action.Operation))).Bytes(),
		common.Hash{}.Bytes(), // safeTxGas
		common.Hash{}.Bytes(), // baseGas
		common.Hash{}.Bytes(), // gasPrice
		common.Hash{}.Bytes(), // gasToken
		common.Hash{}.Bytes(), // refundReceiver
		common.BigToHash(nonce).Bytes(),
	)

	return crypto.Keccak256Hash([]byte{0x19, 0x01}, domain.Bytes(), structHash.Bytes())
}

// EncodeSignatures 把所有者签名按地址升序拼接为合约要求的字节串。
func EncodeSignatures(sigs []OwnerSignature) ([]byte, error) {
	sorted := make([]OwnerSignature, len(sigs))
	copy(sorted, sigs)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Owner.Bytes(), sorted[j].Owner.Bytes()) < 0
	})

	encoded := make([]byte, 0, len(sorted)*crypto.SignatureLength)
	for _, sig := range sorted {
		if len(sig.Signature) != crypto.SignatureLength {
			return nil, xerrors.New(xerrors.CodeInvalidArgument,
				"签名长度必须为 65 字节: "+sig.Owner.Hex())
		}
		encoded = append(encoded, sig.Signature...)
	}
	return encoded, nil
}

// ExecuteAction 携带签名调用 execTransaction，由智能体账户支付 gas。
func (s *Safe) ExecuteAction(ctx context.Context, action Action, sigs []OwnerSignature) (common.Hash, error) {
	threshold, err := s.Threshold(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	if uint64(len(sigs)) < threshold {
		return common.Hash{}, xerrors.New(CodeThresholdNotMet, "")
	}

	signatures, err := EncodeSignatures(sigs)
	if err != nil {
		return common.Hash{}, err
	}

	value := action.Value
	if value == nil {
		value = big.NewInt(0)
	}
	input, err := safeABI.Pack("execTransaction",
		action.To, value, action.Data, uint8(action.Operation),
		big.NewInt(0), big.NewInt(0), big.NewInt(0),
		common.Address{}, common.Address{}, signatures)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeUnknown, err, "编码执行调用失败")
	}

	txHash, err := s.submit(ctx, s.address, input)
	if err != nil {
		return common.Hash{}, err
	}
	s.log.Info("vault action submitted",
		"vault", s.address.Hex(),
		"to", action.To.Hex(),
		"operation", uint8(action.Operation),
		"tx_hash", txHash.Hex(),
		"signatures", len(sigs),
	)
	return txHash, nil
}

// submit 以智能体账户为发送方构造、签名并广播一笔交易。
func (s *Safe) submit(ctx context.Context, to common.Address, input []byte) (common.Hash, error) {
	return submitFrom(ctx, s.client, s.agent, to, input, s.log)
}

func submitFrom(ctx context.Context, client web3.Client, agent *identity.Identity, to common.Address, input []byte, log *slog.Logger) (common.Hash, error) {
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	from := agent.Address()

	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, err
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	gasLimit, err := client.EstimateGas(ctx, gethcore.CallMsg{From: from, To: &to, Data: input})
	if err != nil {
		// 估算失败多半是节点瞬时问题，用保守上限继续提交。
		log.Warn("gas estimate failed, using fallback limit",
			"to", to.Hex(),
			"fallback_gas", execGasFallback,
			"error", err,
		)
		gasLimit = execGasFallback
	}

	tx := coretypes.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, input)
	signed, err := agent.SignTx(tx, chainID)
	if err != nil {
		return common.Hash{}, err
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, err
	}
	return signed.Hash(), nil
}
