package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bidwriter/backend/config"
	"github.com/bidwriter/backend/internal/service/validation"
)

const testSourceText = "本项目建设内容包括系统平台架构设计、开发、实施与运维，保障数据安全。\n★ 投标人必须提供全天候服务支持\n▲ 项目工期不超过九十天"

const testOutline = "1. 系统平台总体架构设计\n1.1 数据安全设计\n1.2 开发实施方案\n2. 运维服务保障\n2.1 培训与验收"

// longText 生成足够长且句句不同的正文，保证能通过结构化校验
func longText(topic string) string {
	var b strings.Builder
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&b, "%s第%d部分围绕系统平台架构与数据安全展开，覆盖设计、开发、实施与运维服务要求。", topic, i+1)
	}
	return b.String()
}

// scriptProvider 按系统提示词路由到各阶段的预置返回
type scriptProvider struct {
	mu            sync.Mutex
	leafCalls     int
	outlineText   string
	outlinePrompt string
	leafFn        func(userPrompt string) (string, error)
}

func (p *scriptProvider) Invoke(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	switch systemPrompt {
	case requirementsSystemPrompt:
		return longText("需求分析"), nil
	case scoringSystemPrompt:
		return longText("评分分析"), nil
	case outlineSystemPrompt:
		p.mu.Lock()
		p.outlinePrompt = userPrompt
		p.mu.Unlock()
		return p.outlineText, nil
	case leafSystemPrompt:
		p.mu.Lock()
		p.leafCalls++
		p.mu.Unlock()
		if p.leafFn != nil {
			return p.leafFn(userPrompt)
		}
		return longText("章节内容"), nil
	case summarySystemPrompt:
		return longText("章节概述"), nil
	case differentiateSystemPrompt:
		return longText("改写内容"), nil
	}
	return "", fmt.Errorf("未预置的系统提示词: %s", systemPrompt)
}

func (p *scriptProvider) leafCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leafCalls
}

// memStore 内存检查点存储
type memStore struct {
	mu    sync.Mutex
	steps []memStep
}

type memStep struct {
	runID    string
	name     string
	snapshot string
}

func (m *memStore) Save(runID, stepName, snapshot string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, memStep{runID: runID, name: stepName, snapshot: snapshot})
	return nil
}

func (m *memStore) LatestCompleted(runID string) (string, string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.steps) - 1; i >= 0; i-- {
		if m.steps[i].runID == runID {
			return m.steps[i].name, m.steps[i].snapshot, true, nil
		}
	}
	return "", "", false, nil
}

func (m *memStore) stepNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.steps))
	for _, s := range m.steps {
		names = append(names, s.name)
	}
	return names
}

func testWorkflowConfig() config.WorkflowConfig {
	return config.WorkflowConfig{
		MaxConcurrency: 2,
		MaxRetries:     2,
		PhaseTimeout:   time.Minute,
	}
}

func TestEngineHappyPath(t *testing.T) {
	provider := &scriptProvider{outlineText: testOutline}
	store := &memStore{}
	engine := NewEngine(provider, validation.NewEngine(nil), store, testWorkflowConfig())

	state := NewWorkflowState("run-1", testSourceText, Options{EnableValidation: true})
	if err := engine.Run(context.Background(), state); err != nil {
		t.Fatalf("执行失败: %v", err)
	}

	assert.Equal(t, PhaseDone, state.CurrentPhase)
	assert.Empty(t, state.Error)
	assert.Equal(t, []string{"投标人必须提供全天候服务支持"}, state.MandatoryClauses)
	assert.Equal(t, []string{"项目工期不超过九十天"}, state.ImportantClauses)

	// 树和扁平投影一致，叶子和父节点都有内容
	assert.Equal(t, 5, state.Tree.Len())
	assert.Len(t, state.FlatSections, 5)
	for _, s := range state.FlatSections {
		assert.True(t, s.IsGenerated, "章节 %s 应已生成", s.Title)
		assert.NotEmpty(t, s.Content)
	}

	// 每个执行过的阶段都有成对的检查点，差异化阶段默认关闭
	names := store.stepNames()
	for _, phase := range []Phase{
		PhaseParseDocument, PhaseAnalyzeRequirements, PhaseValidateRequirements,
		PhaseAnalyzeScoring, PhaseGenerateOutline, PhaseValidateOutline, PhaseBuildSectionTree,
		PhaseGenerateLeafContent, PhaseValidateContent, PhaseGenerateSummaries, PhaseFinalize,
	} {
		assert.Contains(t, names, string(phase)+"_start")
		assert.Contains(t, names, string(phase)+"_complete")
	}
	assert.NotContains(t, names, string(PhaseDifferentiate)+"_start")
	assert.Equal(t, "finalize_complete", names[len(names)-1])
}

func TestEngineScoringAnalysisFeedsOutline(t *testing.T) {
	provider := &scriptProvider{outlineText: testOutline}
	engine := NewEngine(provider, nil, &memStore{}, testWorkflowConfig())

	state := NewWorkflowState("run-10", testSourceText, Options{})
	if err := engine.Run(context.Background(), state); err != nil {
		t.Fatalf("执行失败: %v", err)
	}

	assert.NotEmpty(t, state.ScoringAnalysis)
	assert.Contains(t, state.ScoringAnalysis, "评分分析")
	// 大纲生成的提示词要带上评分分析结果
	assert.Contains(t, provider.outlinePrompt, "评分分析结果")
	assert.Contains(t, provider.outlinePrompt, state.ScoringAnalysis)
}

func TestEngineValidationDisabledSkipsValidatePhases(t *testing.T) {
	provider := &scriptProvider{outlineText: testOutline}
	store := &memStore{}
	engine := NewEngine(provider, validation.NewEngine(nil), store, testWorkflowConfig())

	state := NewWorkflowState("run-2", testSourceText, Options{EnableValidation: false})
	if err := engine.Run(context.Background(), state); err != nil {
		t.Fatalf("执行失败: %v", err)
	}

	names := store.stepNames()
	assert.NotContains(t, names, "validate_content_start")
	assert.NotContains(t, names, "validate_outline_start")
	assert.Empty(t, state.ValidationReports)
}

func TestEngineEmptySourceFailsTerminally(t *testing.T) {
	provider := &scriptProvider{outlineText: testOutline}
	engine := NewEngine(provider, nil, &memStore{}, testWorkflowConfig())

	state := NewWorkflowState("run-3", "   \n", Options{})
	err := engine.Run(context.Background(), state)

	if !errors.Is(err, ErrEmptySource) {
		t.Fatalf("期望 ErrEmptySource，实际 %v", err)
	}
	assert.Equal(t, PhaseFailed, state.CurrentPhase)
	assert.NotEmpty(t, state.Error)
}

func TestEngineProviderErrorFailsRun(t *testing.T) {
	provider := &failingProvider{}
	engine := NewEngine(provider, nil, &memStore{}, testWorkflowConfig())

	state := NewWorkflowState("run-4", testSourceText, Options{})
	err := engine.Run(context.Background(), state)

	if err == nil {
		t.Fatalf("模型调用失败应导致运行失败")
	}
	assert.Equal(t, PhaseFailed, state.CurrentPhase)
	assert.Contains(t, state.Error, "需求分析失败")
}

type failingProvider struct{}

func (failingProvider) Invoke(context.Context, string, string) (string, error) {
	return "", errors.New("模拟接口不可用")
}

func TestEngineContentRetryBound(t *testing.T) {
	// 单叶子大纲，叶子内容始终为空，校验必然 fail 且没有修正稿
	provider := &scriptProvider{
		outlineText: "1. 系统平台总体架构设计\n1.1 数据安全设计",
		leafFn:      func(string) (string, error) { return "", nil },
	}
	store := &memStore{}
	engine := NewEngine(provider, validation.NewEngine(nil), store, testWorkflowConfig())

	state := NewWorkflowState("run-5", testSourceText, Options{EnableValidation: true})
	if err := engine.Run(context.Background(), state); err != nil {
		t.Fatalf("重试耗尽后应带问题继续而不是失败: %v", err)
	}

	// 首次生成加两次重试，共三次
	assert.Equal(t, 3, provider.leafCallCount())
	assert.Equal(t, PhaseDone, state.CurrentPhase)

	leafPath := state.Tree.Path(state.Tree.Leaves()[0])
	assert.Equal(t, 2, state.RetryCounters[string(PhaseGenerateLeafContent)+":"+leafPath])

	// 三轮校验报告都在，最后一轮仍为 fail
	var reports []*validation.Report
	for _, r := range state.ValidationReports {
		if r.TargetPhase == string(PhaseGenerateLeafContent) && r.Artifact == leafPath {
			reports = append(reports, r.Report)
		}
	}
	if assert.Len(t, reports, 3) {
		assert.Equal(t, validation.ResultFail, reports[2].Result)
	}
}

func TestEngineDifferentiationRewritesContent(t *testing.T) {
	provider := &scriptProvider{outlineText: "1. 系统平台总体架构设计\n1.1 数据安全设计"}
	engine := NewEngine(provider, nil, &memStore{}, testWorkflowConfig())

	state := NewWorkflowState("run-6", testSourceText, Options{EnableDifferentiation: true})
	if err := engine.Run(context.Background(), state); err != nil {
		t.Fatalf("执行失败: %v", err)
	}

	for _, s := range state.FlatSections {
		assert.Contains(t, s.Content, "改写内容", "章节 %s 应为改写后的内容", s.Title)
	}
}

func TestEngineResumeFromMidRun(t *testing.T) {
	provider := &scriptProvider{outlineText: testOutline}
	store := &memStore{}
	engine := NewEngine(provider, validation.NewEngine(nil), store, testWorkflowConfig())

	// 构造一个在建树完成后中断的运行
	state := NewWorkflowState("run-7", testSourceText, Options{})
	state.RequirementsAnalysis = longText("需求分析")
	state.OutlineText = testOutline
	tree, err := ParseOutline(testOutline)
	if err != nil {
		t.Fatalf("解析大纲失败: %v", err)
	}
	state.Tree = tree
	state.RefreshSections()
	state.CurrentPhase = PhaseBuildSectionTree
	snapshot, err := state.Snapshot()
	if err != nil {
		t.Fatalf("生成快照失败: %v", err)
	}
	if err := store.Save("run-7", "build_section_tree_complete", snapshot); err != nil {
		t.Fatalf("写入检查点失败: %v", err)
	}

	restored, err := engine.Resume(context.Background(), "run-7")
	if err != nil {
		t.Fatalf("恢复执行失败: %v", err)
	}

	assert.Equal(t, PhaseDone, restored.CurrentPhase)
	// 恢复后不重做大纲，只补齐生成阶段
	assert.Equal(t, len(tree.Leaves()), provider.leafCallCount())
	for _, s := range restored.FlatSections {
		assert.True(t, s.IsGenerated, "章节 %s 应已生成", s.Title)
	}
}

func TestEngineResumeInterruptedPhaseReruns(t *testing.T) {
	provider := &scriptProvider{outlineText: testOutline}
	store := &memStore{}
	engine := NewEngine(provider, nil, store, testWorkflowConfig())

	// _start 检查点表示该阶段中途崩溃，恢复时整个阶段重跑
	state := NewWorkflowState("run-8", testSourceText, Options{})
	state.RequirementsAnalysis = longText("需求分析")
	state.CurrentPhase = PhaseGenerateOutline
	snapshot, err := state.Snapshot()
	if err != nil {
		t.Fatalf("生成快照失败: %v", err)
	}
	if err := store.Save("run-8", "generate_outline_start", snapshot); err != nil {
		t.Fatalf("写入检查点失败: %v", err)
	}

	restored, err := engine.Resume(context.Background(), "run-8")
	if err != nil {
		t.Fatalf("恢复执行失败: %v", err)
	}

	assert.Equal(t, PhaseDone, restored.CurrentPhase)
	assert.Equal(t, testOutline, restored.OutlineText)
	assert.Equal(t, 5, restored.Tree.Len())
}

func TestEngineResumeWithoutCheckpoint(t *testing.T) {
	engine := NewEngine(&scriptProvider{}, nil, &memStore{}, testWorkflowConfig())

	_, err := engine.Resume(context.Background(), "run-missing")
	if !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("期望 ErrNoCheckpoint，实际 %v", err)
	}
}

func TestEngineSummaryGapsRecordedAsWarnings(t *testing.T) {
	// 一个叶子始终失败，父概述基于其余子内容生成，缺口留痕
	provider := &scriptProvider{
		outlineText: testOutline,
		leafFn: func(userPrompt string) (string, error) {
			if strings.Contains(userPrompt, "数据安全设计") {
				return "", errors.New("模拟节点失败")
			}
			return longText("章节内容"), nil
		},
	}
	engine := NewEngine(provider, nil, &memStore{}, testWorkflowConfig())

	state := NewWorkflowState("run-9", testSourceText, Options{})
	if err := engine.Run(context.Background(), state); err != nil {
		t.Fatalf("执行失败: %v", err)
	}

	assert.Equal(t, PhaseDone, state.CurrentPhase)
	var gapReports []PhaseReport
	for _, r := range state.ValidationReports {
		if r.TargetPhase == string(PhaseGenerateSummaries) {
			gapReports = append(gapReports, r)
		}
	}
	if assert.Len(t, gapReports, 1) {
		assert.Equal(t, validation.ResultWarning, gapReports[0].Report.Result)
		assert.Contains(t, gapReports[0].Report.Issues[0].Message, "数据安全设计")
	}
}
