package proposal

import (
	xerrors "CoVault/internal/errors"
)

// Status 表示提案在生命周期中的位置。
// 状态只能前进，EXECUTED 与 FAILED 为终态。
type Status string

const (
	StatusDraft          Status = "DRAFT"
	StatusProposed       Status = "PROPOSED"
	StatusOwnerConfirmed Status = "OWNER_CONFIRMED"
	StatusExecuted       Status = "EXECUTED"
	StatusFailed         Status = "FAILED"
)

const CodeInvalidTransition xerrors.Code = "INVALID_STATUS_TRANSITION"

func init() {
	xerrors.Register(CodeInvalidTransition, xerrors.Attributes{
		Message:   "proposal status may only move forward",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
}

var statusRank = map[Status]int{
	StatusDraft:          0,
	StatusProposed:       1,
	StatusOwnerConfirmed: 2,
	StatusExecuted:       3,
	StatusFailed:         3,
}

// Valid 判断状态值是否合法。
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Terminal 判断状态是否为终态。
func (s Status) Terminal() bool {
	return s == StatusExecuted || s == StatusFailed
}

// CanTransition 判断状态迁移是否被允许。
// 正常路径沿 DRAFT→PROPOSED→OWNER_CONFIRMED→EXECUTED 逐级前进，
// 任何非终态都可以进入 FAILED，终态不再迁移。
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	return statusRank[to] == statusRank[from]+1
}

// Transition 校验并返回目标状态，不合法时返回 INVALID_STATUS_TRANSITION。
func Transition(from, to Status) (Status, error) {
	if from == to {
		return from, nil
	}
	if !CanTransition(from, to) {
		return from, xerrors.New(CodeInvalidTransition,
			"非法状态迁移: "+string(from)+" -> "+string(to))
	}
	return to, nil
}
