// Package erc20 提供标准代币调用的编码辅助。
package erc20

import (
	"fmt"
	"math/big"
	"strings"

	"CoVault/internal/vault"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20ABIJSON = `[
	{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[
		{"name":"account","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

var parsedABI abi.ABI

func init() {
	var err error
	parsedABI, err = abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("erc20: bad embedded abi: " + err.Error())
	}
}

// ApproveCall 编码 approve(spender, amount)。
func ApproveCall(token, spender common.Address, amount *big.Int) (vault.Call, error) {
	data, err := parsedABI.Pack("approve", spender, amount)
	if err != nil {
		return vault.Call{}, err
	}
	return vault.Call{To: token, Value: big.NewInt(0), Data: data}, nil
}

// TransferCall 编码 transfer(to, amount)。
func TransferCall(token, to common.Address, amount *big.Int) (vault.Call, error) {
	data, err := parsedABI.Pack("transfer", to, amount)
	if err != nil {
		return vault.Call{}, err
	}
	return vault.Call{To: token, Value: big.NewInt(0), Data: data}, nil
}

// BalanceOfCalldata 编码 balanceOf(account) 的查询数据。
func BalanceOfCalldata(account common.Address) ([]byte, error) {
	return parsedABI.Pack("balanceOf", account)
}

// UnpackBalance 解码 balanceOf 的返回值。
func UnpackBalance(out []byte) (*big.Int, error) {
	values, err := parsedABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, err
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf 返回类型异常")
	}
	return balance, nil
}
