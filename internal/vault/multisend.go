package vault

import (
	"math/big"

	xerrors "CoVault/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

const multiSendABIJSON = `[
	{"name":"multiSend","type":"function","stateMutability":"payable","inputs":[
		{"name":"transactions","type":"bytes"}],"outputs":[]}
]`

var multiSendABI = mustParseABI(multiSendABIJSON)

// buildAction 把调用列表组合为可执行动作。
// 批量合约的交易编码为紧凑拼接: operation(1) || to(20) || value(32) || dataLen(32) || data。
func buildAction(calls []Call, multiSend common.Address) (Action, error) {
	if len(calls) == 0 {
		return Action{}, xerrors.New(xerrors.CodeInvalidArgument, "动作至少需要一笔调用")
	}
	if len(calls) == 1 {
		call := calls[0]
		value := call.Value
		if value == nil {
			value = big.NewInt(0)
		}
		return Action{To: call.To, Value: value, Data: call.Data, Operation: OperationCall}, nil
	}

	var packed []byte
	for _, call := range calls {
		value := call.Value
		if value == nil {
			value = big.NewInt(0)
		}
		packed = append(packed, byte(OperationCall))
		packed = append(packed, call.To.Bytes()...)
		packed = append(packed, common.BigToHash(value).Bytes()...)
		packed = append(packed, common.BigToHash(big.NewInt(int64(len(call.Data)))).Bytes()...)
		packed = append(packed, call.Data...)
	}

	data, err := multiSendABI.Pack("multiSend", packed)
	if err != nil {
		return Action{}, xerrors.Wrap(xerrors.CodeUnknown, err, "编码批量调用失败")
	}
	return Action{
		To:        multiSend,
		Value:     big.NewInt(0),
		Data:      data,
		Operation: OperationDelegateCall,
	}, nil
}
