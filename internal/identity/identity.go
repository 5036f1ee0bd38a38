package identity

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	xerrors "CoVault/internal/errors"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

const keyFileName = "agent-key.json"

const (
	// CodeIdentityCorrupt 表示磁盘上的签名身份与其声明的地址不一致。
	CodeIdentityCorrupt xerrors.Code = "IDENTITY_CORRUPT"
	CodeKeystoreFailure xerrors.Code = "KEYSTORE_FAILURE"
)

func init() {
	xerrors.Register(CodeIdentityCorrupt, xerrors.Attributes{
		Message:   "stored identity does not match its address",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeKeystoreFailure, xerrors.Attributes{
		Message:   "keystore failure",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
}

// Identity 是智能体的链上签名身份。私钥只存在于进程内存中。
type Identity struct {
	address common.Address
	key     *ecdsa.PrivateKey
}

// Address 返回身份对应的地址。
func (i *Identity) Address() common.Address {
	if i == nil {
		return common.Address{}
	}
	return i.address
}

// SignHash 对 32 字节摘要做 secp256k1 签名，返回 65 字节 {r,s,v}，v 为 27/28。
func (i *Identity) SignHash(hash common.Hash) ([]byte, error) {
	if i == nil || i.key == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "签名身份未加载")
	}
	sig, err := crypto.Sign(hash.Bytes(), i.key)
	if err != nil {
		return nil, xerrors.Wrap(CodeKeystoreFailure, err, "签名失败")
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SignTx 使用身份私钥签名一笔以太坊交易。
func (i *Identity) SignTx(tx *coretypes.Transaction, chainID *big.Int) (*coretypes.Transaction, error) {
	if i == nil || i.key == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "签名身份未加载")
	}
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), i.key)
	if err != nil {
		return nil, xerrors.Wrap(CodeKeystoreFailure, err, "签名交易失败")
	}
	return signed, nil
}

// Manager 负责智能体身份在磁盘上的创建与加载。
// 密钥文件使用标准 keystore (scrypt) 加密格式。
type Manager struct {
	dir        string
	passphrase string
}

// NewManager 构造身份管理器。
func NewManager(dir, passphrase string) *Manager {
	return &Manager{dir: dir, passphrase: passphrase}
}

func (m *Manager) keyPath() string {
	return filepath.Join(m.dir, keyFileName)
}

// Exists 判断磁盘上是否已有身份文件。
func (m *Manager) Exists() bool {
	if m == nil {
		return false
	}
	_, err := os.Stat(m.keyPath())
	return err == nil
}

// Load 从磁盘解密身份。若解密出的私钥推导地址与文件声明的地址不一致,
// 返回 IDENTITY_CORRUPT, 完整性校验失败不可自动恢复。
func (m *Manager) Load() (*Identity, error) {
	raw, err := os.ReadFile(m.keyPath())
	if err != nil {
		return nil, xerrors.Wrap(CodeKeystoreFailure, err, "读取身份文件失败")
	}
	key, err := keystore.DecryptKey(raw, m.passphrase)
	if err != nil {
		return nil, xerrors.Wrap(CodeKeystoreFailure, err, "解密身份文件失败")
	}
	derived := crypto.PubkeyToAddress(key.PrivateKey.PublicKey)
	if derived != key.Address {
		return nil, xerrors.New(CodeIdentityCorrupt,
			fmt.Sprintf("身份文件声明地址 %s 与私钥推导地址 %s 不一致", key.Address.Hex(), derived.Hex()))
	}
	return &Identity{address: derived, key: key.PrivateKey}, nil
}

// Create 生成一个新身份并加密写入磁盘。
func (m *Manager) Create() (*Identity, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, xerrors.Wrap(CodeKeystoreFailure, err, "生成私钥失败")
	}
	address := crypto.PubkeyToAddress(privateKey.PublicKey)

	key := &keystore.Key{
		Id:         uuid.New(),
		Address:    address,
		PrivateKey: privateKey,
	}
	encrypted, err := keystore.EncryptKey(key, m.passphrase, keystore.StandardScryptN, keystore.StandardScryptP)
	if err != nil {
		return nil, xerrors.Wrap(CodeKeystoreFailure, err, "加密身份失败")
	}

	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return nil, xerrors.Wrap(CodeKeystoreFailure, err, "创建密钥目录失败")
	}
	if err := os.WriteFile(m.keyPath(), encrypted, 0o600); err != nil {
		return nil, xerrors.Wrap(CodeKeystoreFailure, err, "写入身份文件失败")
	}
	return &Identity{address: address, key: privateKey}, nil
}

// LoadOrCreate 加载已有身份，不存在时生成新身份。
// 返回值 created 指示本次调用是否生成了新身份。
func (m *Manager) LoadOrCreate() (identity *Identity, created bool, err error) {
	if m.Exists() {
		loaded, err := m.Load()
		return loaded, false, err
	}
	fresh, err := m.Create()
	return fresh, true, err
}
