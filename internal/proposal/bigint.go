package proposal

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// BigInt 以十进制字符串序列化 256 位整数，保证在 JSON 文档中无损往返。
// 浮点编码会在 2^53 之后丢失精度，这里绝不允许。
type BigInt struct {
	inner *big.Int
}

// NewBigInt 包装一个 big.Int。nil 视为 0。
func NewBigInt(v *big.Int) BigInt {
	if v == nil {
		return BigInt{inner: new(big.Int)}
	}
	return BigInt{inner: new(big.Int).Set(v)}
}

// Int 返回底层数值的副本。
func (b BigInt) Int() *big.Int {
	if b.inner == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(b.inner)
}

// Sign 等价于 big.Int.Sign。
func (b BigInt) Sign() int {
	if b.inner == nil {
		return 0
	}
	return b.inner.Sign()
}

// String 返回十进制表示。
func (b BigInt) String() string {
	if b.inner == nil {
		return "0"
	}
	return b.inner.String()
}

// MarshalJSON 实现 json.Marshaler。
func (b BigInt) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// UnmarshalJSON 实现 json.Unmarshaler。
func (b *BigInt) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		b.inner = new(big.Int)
		return nil
	}
	parsed, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return fmt.Errorf("无法解析十进制整数: %q", raw)
	}
	b.inner = parsed
	return nil
}
