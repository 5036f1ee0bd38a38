package vault

import (
	"context"
	"log/slog"
	"math/big"

	"CoVault/internal/chain"
	xerrors "CoVault/internal/errors"
	"CoVault/internal/identity"
	"CoVault/internal/web3"
	"CoVault/pkg/logger"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const proxyFactoryABIJSON = `[
	{"name":"createProxyWithNonce","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"_singleton","type":"address"},
		{"name":"initializer","type":"bytes"},
		{"name":"saltNonce","type":"uint256"}],
	 "outputs":[{"name":"proxy","type":"address"}]},
	{"name":"proxyCreationCode","type":"function","stateMutability":"pure","inputs":[],
	 "outputs":[{"name":"","type":"bytes"}]}
]`

const setupABIJSON = `[
	{"name":"setup","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"_owners","type":"address[]"},
		{"name":"_threshold","type":"uint256"},
		{"name":"to","type":"address"},
		{"name":"data","type":"bytes"},
		{"name":"fallbackHandler","type":"address"},
		{"name":"paymentToken","type":"address"},
		{"name":"payment","type":"uint256"},
		{"name":"paymentReceiver","type":"address"}],
	 "outputs":[]}
]`

var (
	proxyFactoryABI = mustParseABI(proxyFactoryABIJSON)
	setupABI        = mustParseABI(setupABIJSON)
)

// ProxyFactory 通过工厂合约以确定性地址部署金库。
// 同一套所有者和盐值在部署前后解析到同一地址，因此等待注资可以先于部署发生。
type ProxyFactory struct {
	client    web3.Client
	agent     *identity.Identity
	contracts chain.VaultContracts
	log       *slog.Logger
}

// NewProxyFactory 构造金库部署工厂。
func NewProxyFactory(client web3.Client, agent *identity.Identity, contracts chain.VaultContracts) *ProxyFactory {
	return &ProxyFactory{
		client:    client,
		agent:     agent,
		contracts: contracts,
		log:       logger.Named("vault.factory"),
	}
}

// Attach 把一个已知地址包装为金库账户。
func (f *ProxyFactory) Attach(address common.Address) *Safe {
	return NewSafe(f.client, f.agent, address, f.contracts)
}

func (f *ProxyFactory) initializer(setup Setup) ([]byte, error) {
	if err := setup.Validate(); err != nil {
		return nil, err
	}
	threshold := new(big.Int).SetUint64(setup.Threshold)
	return setupABI.Pack("setup",
		setup.Owners, threshold,
		common.Address{}, []byte{},
		f.contracts.FallbackHandler,
		common.Address{}, big.NewInt(0), common.Address{},
	)
}

// PredictAddress 按 CREATE2 规则计算金库将要部署到的地址。
// 创建字节码从工厂合约读取，避免在本地硬编码代理字节码。
func (f *ProxyFactory) PredictAddress(ctx context.Context, setup Setup) (common.Address, error) {
	init, err := f.initializer(setup)
	if err != nil {
		return common.Address{}, err
	}

	input, err := proxyFactoryABI.Pack("proxyCreationCode")
	if err != nil {
		return common.Address{}, xerrors.Wrap(xerrors.CodeUnknown, err, "编码字节码查询失败")
	}
	factory := f.contracts.ProxyFactory
	out, err := f.client.CallContract(ctx, gethcore.CallMsg{To: &factory, Data: input})
	if err != nil {
		return common.Address{}, err
	}
	values, err := proxyFactoryABI.Unpack("proxyCreationCode", out)
	if err != nil {
		return common.Address{}, xerrors.Wrap(xerrors.CodeUnknown, err, "解码字节码失败")
	}
	creationCode, ok := values[0].([]byte)
	if !ok || len(creationCode) == 0 {
		return common.Address{}, xerrors.New(xerrors.CodeUnknown, "工厂返回的创建字节码为空")
	}

	saltNonce := setup.SaltNonce
	if saltNonce == nil {
		saltNonce = big.NewInt(0)
	}
	salt := crypto.Keccak256Hash(crypto.Keccak256(init), common.BigToHash(saltNonce).Bytes())

	deployData := append(creationCode, common.BytesToHash(f.contracts.Singleton.Bytes()).Bytes()...)
	predicted := crypto.CreateAddress2(factory, salt, crypto.Keccak256(deployData))
	return predicted, nil
}

// Deploy 调用工厂部署金库，返回部署交易哈希。
func (f *ProxyFactory) Deploy(ctx context.Context, setup Setup) (common.Hash, error) {
	init, err := f.initializer(setup)
	if err != nil {
		return common.Hash{}, err
	}
	saltNonce := setup.SaltNonce
	if saltNonce == nil {
		saltNonce = big.NewInt(0)
	}
	input, err := proxyFactoryABI.Pack("createProxyWithNonce", f.contracts.Singleton, init, saltNonce)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeUnknown, err, "编码部署调用失败")
	}

	txHash, err := submitFrom(ctx, f.client, f.agent, f.contracts.ProxyFactory, input, f.log)
	if err != nil {
		return common.Hash{}, err
	}
	f.log.Info("vault deployment submitted",
		"owners", len(setup.Owners),
		"threshold", setup.Threshold,
		"tx_hash", txHash.Hex(),
	)
	return txHash, nil
}
