package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// orchestrationCollector 统计提案生命周期里的关键事件数量。
type orchestrationCollector struct {
	mu         sync.Mutex
	proposals  map[string]uint64 // 按意图类型计数
	executions map[string]uint64 // 按结果计数: success / revert / short
}

var orchestration = &orchestrationCollector{
	proposals:  make(map[string]uint64),
	executions: make(map[string]uint64),
}

// ObserveProposal 记录一次提案创建，kind 是意图类型(transfer、swap 等)。
func ObserveProposal(kind string) {
	orchestration.mu.Lock()
	orchestration.proposals[kind]++
	orchestration.mu.Unlock()
}

// ObserveExecution 记录一次执行尝试的最终结果。
func ObserveExecution(outcome string) {
	orchestration.mu.Lock()
	orchestration.executions[outcome]++
	orchestration.mu.Unlock()
}

func (c *orchestrationCollector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var builder strings.Builder

	builder.WriteString("# HELP covault_proposals_total Total number of proposals created, by intent.\n")
	builder.WriteString("# TYPE covault_proposals_total counter\n")
	for _, kind := range sortedKeys(c.proposals) {
		builder.WriteString(fmt.Sprintf("covault_proposals_total{kind=\"%s\"} %d\n",
			escape(kind), c.proposals[kind]))
	}

	builder.WriteString("# HELP covault_executions_total Total number of execution attempts, by outcome.\n")
	builder.WriteString("# TYPE covault_executions_total counter\n")
	for _, outcome := range sortedKeys(c.executions) {
		builder.WriteString(fmt.Sprintf("covault_executions_total{outcome=\"%s\"} %d\n",
			escape(outcome), c.executions[outcome]))
	}

	return builder.String()
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
