package onboarding

// Stage 表示入驻流程推进到的位置。
// 除资金不足会回到 AWAIT_FUNDING 重试外，阶段只能前进。
type Stage string

const (
	StageInit            Stage = "INIT"
	StageAgentKeyCreated Stage = "AGENT_KEY_CREATED"
	StageAwaitFunding    Stage = "AWAIT_FUNDING"
	StageAwaitOwner      Stage = "AWAIT_OWNER"
	StageReadyToDeploy   Stage = "READY_TO_DEPLOY"
	StageDeployed        Stage = "DEPLOYED"
	StageReady           Stage = "READY"
)

var stageRank = map[Stage]int{
	StageInit:            0,
	StageAgentKeyCreated: 1,
	StageAwaitFunding:    2,
	StageAwaitOwner:      3,
	StageReadyToDeploy:   4,
	StageDeployed:        5,
	StageReady:           6,
}

// Valid 判断阶段值是否合法。
func (s Stage) Valid() bool {
	_, ok := stageRank[s]
	return ok
}

// Before 判断 s 是否先于 other。
func (s Stage) Before(other Stage) bool {
	return stageRank[s] < stageRank[other]
}
