package workflow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/bidwriter/backend/config"
	"github.com/bidwriter/backend/internal/pkg/markdown"
	"github.com/bidwriter/backend/internal/service/validation"
)

var (
	// ErrEmptySource 招标文件解析后没有任何文本
	ErrEmptySource = errors.New("招标文件内容为空")
	// ErrNoCheckpoint 该运行没有可恢复的检查点
	ErrNoCheckpoint = errors.New("没有可恢复的检查点")
)

// CheckpointStore 检查点持久化接口
type CheckpointStore interface {
	Save(runID, stepName, snapshot string) error
	LatestCompleted(runID string) (stepName, snapshot string, found bool, err error)
}

// ProgressFunc 阶段完成后的进度回调
type ProgressFunc func(state *WorkflowState, phase Phase, progress int)

// Engine 工作流引擎
// 沿固定的阶段主线推进，校验阶段可能把执行拉回到对应的生成阶段，
// 每个阶段前后各落一个检查点
type Engine struct {
	provider   Provider
	validator  *validation.Engine
	store      CheckpointStore
	leafGen    *LeafGenerator
	aggregator *SummaryAggregator
	wf         config.WorkflowConfig
	onProgress ProgressFunc
}

func NewEngine(provider Provider, validator *validation.Engine, store CheckpointStore, wf config.WorkflowConfig) *Engine {
	return &Engine{
		provider:   provider,
		validator:  validator,
		store:      store,
		leafGen:    NewLeafGenerator(provider, wf.MaxConcurrency),
		aggregator: NewSummaryAggregator(provider, wf.MaxConcurrency),
		wf:         wf,
	}
}

// SetProgressFunc 注册进度回调，必须在 Run 之前调用
func (e *Engine) SetProgressFunc(fn ProgressFunc) {
	e.onProgress = fn
}

// 阶段主线，校验阶段失败时回跳到对应的生成阶段
var phaseSpine = []Phase{
	PhaseParseDocument,
	PhaseAnalyzeRequirements,
	PhaseValidateRequirements,
	PhaseAnalyzeScoring,
	PhaseGenerateOutline,
	PhaseValidateOutline,
	PhaseBuildSectionTree,
	PhaseGenerateLeafContent,
	PhaseValidateContent,
	PhaseGenerateSummaries,
	PhaseDifferentiate,
	PhaseFinalize,
}

// 各阶段完成后的整体进度
var phaseProgress = map[Phase]int{
	PhaseParseDocument:        5,
	PhaseAnalyzeRequirements:  12,
	PhaseValidateRequirements: 18,
	PhaseAnalyzeScoring:       25,
	PhaseGenerateOutline:      30,
	PhaseValidateOutline:      35,
	PhaseBuildSectionTree:     40,
	PhaseGenerateLeafContent:  65,
	PhaseValidateContent:      75,
	PhaseGenerateSummaries:    90,
	PhaseDifferentiate:        95,
	PhaseFinalize:             100,
}

func spineIndex(phase Phase) int {
	for i, p := range phaseSpine {
		if p == phase {
			return i
		}
	}
	return -1
}

// Run 从头执行工作流
func (e *Engine) Run(ctx context.Context, state *WorkflowState) error {
	return e.runFrom(ctx, state, PhaseParseDocument)
}

// Resume 从最近一个完成的检查点恢复执行
// 检查点停在 <phase>_start 说明该阶段执行中途中断，整个阶段重跑；
// 停在 <phase>_complete 则从下一阶段继续
func (e *Engine) Resume(ctx context.Context, runID string) (*WorkflowState, error) {
	if e.store == nil {
		return nil, ErrNoCheckpoint
	}
	stepName, snapshot, found, err := e.store.LatestCompleted(runID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoCheckpoint
	}

	state, err := RestoreState(snapshot)
	if err != nil {
		return nil, err
	}
	phase, finished, err := resumePoint(stepName)
	if err != nil {
		return nil, err
	}
	if finished {
		klog.V(6).Infof("运行已完成，无需恢复 runID=%s", runID)
		return state, nil
	}
	klog.Infof("从检查点恢复 runID=%s step=%s phase=%s", runID, stepName, phase)
	return state, e.runFrom(ctx, state, phase)
}

// resumePoint 根据检查点名称推导恢复位置
func resumePoint(stepName string) (Phase, bool, error) {
	if name, ok := strings.CutSuffix(stepName, "_start"); ok {
		phase := Phase(name)
		if spineIndex(phase) < 0 {
			return "", false, fmt.Errorf("未知的检查点名称: %s", stepName)
		}
		return phase, false, nil
	}
	name, ok := strings.CutSuffix(stepName, "_complete")
	if !ok {
		return "", false, fmt.Errorf("未知的检查点名称: %s", stepName)
	}
	idx := spineIndex(Phase(name))
	if idx < 0 {
		return "", false, fmt.Errorf("未知的检查点名称: %s", stepName)
	}
	if idx+1 >= len(phaseSpine) {
		return "", true, nil
	}
	return phaseSpine[idx+1], false, nil
}

func (e *Engine) runFrom(ctx context.Context, state *WorkflowState, start Phase) error {
	i := spineIndex(start)
	if i < 0 {
		return fmt.Errorf("未知的工作流阶段: %s", start)
	}

	for i < len(phaseSpine) {
		phase := phaseSpine[i]
		if e.skip(phase, state) {
			i++
			continue
		}

		if err := e.runPhase(ctx, state, phase); err != nil {
			state.Error = err.Error()
			state.CurrentPhase = PhaseFailed
			state.UpdatedAt = time.Now()
			return fmt.Errorf("阶段 %s 执行失败: %w", phase, err)
		}

		// 校验结论为 fail 且还有重试额度时回跳到生成阶段
		if back, ok := e.retryEdge(phase, state); ok {
			klog.Infof("校验未通过，回到 %s 重新生成 runID=%s", back, state.RunID)
			i = spineIndex(back)
			continue
		}
		i++
	}

	state.CurrentPhase = PhaseDone
	state.UpdatedAt = time.Now()
	return nil
}

// skip 按运行开关跳过可选阶段
func (e *Engine) skip(phase Phase, state *WorkflowState) bool {
	switch phase {
	case PhaseValidateRequirements, PhaseValidateOutline, PhaseValidateContent:
		return !state.Options.EnableValidation || e.validator == nil
	case PhaseDifferentiate:
		return !state.Options.EnableDifferentiation
	}
	return false
}

// runPhase 执行单个阶段：落开始检查点、执行、落完成检查点
// 检查点写入失败只记日志，不中断工作流
func (e *Engine) runPhase(ctx context.Context, state *WorkflowState, phase Phase) error {
	state.CurrentPhase = phase
	state.UpdatedAt = time.Now()
	e.saveCheckpoint(state, string(phase)+"_start")

	phaseCtx := ctx
	if e.wf.PhaseTimeout > 0 {
		var cancel context.CancelFunc
		phaseCtx, cancel = context.WithTimeout(ctx, e.wf.PhaseTimeout)
		defer cancel()
	}

	var err error
	switch phase {
	case PhaseParseDocument:
		err = e.parseDocument(state)
	case PhaseAnalyzeRequirements:
		err = e.analyzeRequirements(phaseCtx, state)
	case PhaseValidateRequirements:
		err = e.validateRequirements(phaseCtx, state)
	case PhaseAnalyzeScoring:
		err = e.analyzeScoring(phaseCtx, state)
	case PhaseGenerateOutline:
		err = e.generateOutline(phaseCtx, state)
	case PhaseValidateOutline:
		err = e.validateOutline(phaseCtx, state)
	case PhaseBuildSectionTree:
		err = e.buildSectionTree(state)
	case PhaseGenerateLeafContent:
		err = e.generateLeafContent(phaseCtx, state)
	case PhaseValidateContent:
		err = e.validateContent(phaseCtx, state)
	case PhaseGenerateSummaries:
		err = e.generateSummaries(phaseCtx, state)
	case PhaseDifferentiate:
		err = e.differentiate(phaseCtx, state)
	case PhaseFinalize:
		err = e.finalize(state)
	default:
		err = fmt.Errorf("未知的工作流阶段: %s", phase)
	}
	if err != nil {
		return err
	}

	state.UpdatedAt = time.Now()
	e.saveCheckpoint(state, string(phase)+"_complete")
	if e.onProgress != nil {
		e.onProgress(state, phase, phaseProgress[phase])
	}
	return nil
}

func (e *Engine) saveCheckpoint(state *WorkflowState, stepName string) {
	if e.store == nil {
		return
	}
	snapshot, err := state.Snapshot()
	if err != nil {
		klog.Errorf("序列化检查点快照失败 runID=%s step=%s: %v", state.RunID, stepName, err)
		return
	}
	if err := e.store.Save(state.RunID, stepName, snapshot); err != nil {
		klog.Errorf("保存检查点失败 runID=%s step=%s: %v", state.RunID, stepName, err)
	}
}

// retryEdge 判断校验阶段是否需要回跳，并返回回跳目标
func (e *Engine) retryEdge(phase Phase, state *WorkflowState) (Phase, bool) {
	switch phase {
	case PhaseValidateRequirements:
		if e.shouldRetry(state, string(PhaseAnalyzeRequirements), "") {
			return PhaseAnalyzeRequirements, true
		}
	case PhaseValidateOutline:
		if e.shouldRetry(state, string(PhaseGenerateOutline), "") {
			return PhaseGenerateOutline, true
		}
	case PhaseValidateContent:
		if len(state.PendingSections) > 0 {
			return PhaseGenerateLeafContent, true
		}
	}
	return "", false
}

// shouldRetry 最近一次报告为 fail 且重试次数未用尽时返回 true，并消耗一次额度
func (e *Engine) shouldRetry(state *WorkflowState, targetPhase, artifact string) bool {
	report := state.lastReportFor(targetPhase, artifact)
	if report == nil || report.Report == nil || report.Report.Result != validation.ResultFail {
		return false
	}
	key := targetPhase
	if artifact != "" {
		key = targetPhase + ":" + artifact
	}
	if state.RetryCounters[key] >= e.wf.MaxRetries {
		klog.Infof("重试次数用尽，带着校验问题继续 runID=%s key=%s", state.RunID, key)
		return false
	}
	state.RetryCounters[key]++
	return true
}

// 实质性条款（★）和重要条款（▲）标记
var (
	mandatoryClauseRe = regexp.MustCompile(`★\s*([^\n★▲]+)`)
	importantClauseRe = regexp.MustCompile(`▲\s*([^\n★▲]+)`)
)

// parseDocument 校验原文并抽取关键条款
func (e *Engine) parseDocument(state *WorkflowState) error {
	text := strings.TrimSpace(state.SourceText)
	if text == "" {
		return ErrEmptySource
	}
	state.MandatoryClauses = extractClauses(mandatoryClauseRe, text)
	state.ImportantClauses = extractClauses(importantClauseRe, text)
	klog.V(6).Infof("文档解析完成 runID=%s 字数=%d ★=%d ▲=%d",
		state.RunID, len([]rune(text)), len(state.MandatoryClauses), len(state.ImportantClauses))
	return nil
}

func extractClauses(re *regexp.Regexp, text string) []string {
	clauses := []string{}
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		clause := strings.TrimSpace(m[1])
		if clause != "" {
			clauses = append(clauses, clause)
		}
	}
	return clauses
}

func (e *Engine) analyzeRequirements(ctx context.Context, state *WorkflowState) error {
	analysis, err := e.provider.Invoke(ctx, requirementsSystemPrompt, buildRequirementsPrompt(state.SourceText))
	if err != nil {
		return fmt.Errorf("需求分析失败: %w", err)
	}
	state.RequirementsAnalysis = strings.TrimSpace(analysis)
	return nil
}

func (e *Engine) validateRequirements(ctx context.Context, state *WorkflowState) error {
	report := e.validator.Validate(ctx, state.RequirementsAnalysis, validation.Target{
		Phase:     string(PhaseAnalyzeRequirements),
		Title:     "需求分析",
		Reference: state.SourceText,
	})
	state.ValidationReports = append(state.ValidationReports, PhaseReport{
		TargetPhase: string(PhaseAnalyzeRequirements),
		Report:      report,
	})
	if report.Result == validation.ResultFail && report.CorrectedContent != "" {
		state.RequirementsAnalysis = report.CorrectedContent
		report.Result = validation.ResultWarning
	}
	return nil
}

// analyzeScoring 从评标办法梳理评分标准，结果供大纲生成参考
func (e *Engine) analyzeScoring(ctx context.Context, state *WorkflowState) error {
	analysis, err := e.provider.Invoke(ctx, scoringSystemPrompt, buildScoringPrompt(state.SourceText))
	if err != nil {
		return fmt.Errorf("评分分析失败: %w", err)
	}
	state.ScoringAnalysis = strings.TrimSpace(analysis)
	return nil
}

func (e *Engine) generateOutline(ctx context.Context, state *WorkflowState) error {
	outline, err := e.provider.Invoke(ctx, outlineSystemPrompt, buildOutlinePrompt(state))
	if err != nil {
		return fmt.Errorf("大纲生成失败: %w", err)
	}
	state.OutlineText = strings.TrimSpace(outline)
	return nil
}

func (e *Engine) validateOutline(ctx context.Context, state *WorkflowState) error {
	report := e.validator.Validate(ctx, state.OutlineText, validation.Target{
		Phase:     string(PhaseGenerateOutline),
		Title:     "方案大纲",
		Reference: state.RequirementsAnalysis,
	})
	state.ValidationReports = append(state.ValidationReports, PhaseReport{
		TargetPhase: string(PhaseGenerateOutline),
		Report:      report,
	})
	if report.Result == validation.ResultFail && report.CorrectedContent != "" {
		state.OutlineText = report.CorrectedContent
		report.Result = validation.ResultWarning
	}
	return nil
}

func (e *Engine) buildSectionTree(state *WorkflowState) error {
	tree, err := ParseOutline(state.OutlineText)
	if err != nil {
		return fmt.Errorf("构建章节树失败: %w", err)
	}
	state.Tree = tree
	state.RefreshSections()
	klog.Infof("章节树构建完成 runID=%s 节点=%d 叶子=%d", state.RunID, tree.Len(), len(tree.Leaves()))
	return nil
}

func (e *Engine) generateLeafContent(ctx context.Context, state *WorkflowState) error {
	targets := state.PendingSections
	state.PendingSections = nil
	if err := e.leafGen.GenerateAll(ctx, state.Tree, e.leafReference(state), targets); err != nil {
		return err
	}
	if len(targets) == 0 {
		targets = state.Tree.Leaves()
	}
	state.LastGenerated = targets
	state.RefreshSections()
	return nil
}

// leafReference 内容生成的参考文本，优先用需求分析，没有则退回原文
func (e *Engine) leafReference(state *WorkflowState) string {
	if state.RequirementsAnalysis != "" {
		return state.RequirementsAnalysis
	}
	return state.SourceText
}

// validateContent 校验上一轮刚生成的章节
// 结论为 fail 时优先采用修正稿，没有修正稿的节点记入待重试集合
func (e *Engine) validateContent(ctx context.Context, state *WorkflowState) error {
	var pending []int
	for _, idx := range state.LastGenerated {
		node := &state.Tree.Nodes[idx]
		path := state.Tree.Path(idx)
		report := e.validator.Validate(ctx, node.Content, validation.Target{
			Phase:     string(PhaseGenerateLeafContent),
			Artifact:  path,
			Title:     node.Title,
			Reference: e.leafReference(state),
		})
		state.ValidationReports = append(state.ValidationReports, PhaseReport{
			TargetPhase: string(PhaseGenerateLeafContent),
			Artifact:    path,
			Report:      report,
		})
		if report.Result != validation.ResultFail {
			continue
		}
		if report.CorrectedContent != "" {
			node.Content = markdown.Normalize(report.CorrectedContent)
			node.IsGenerated = true
			report.Result = validation.ResultWarning
			continue
		}
		if e.shouldRetry(state, string(PhaseGenerateLeafContent), path) {
			pending = append(pending, idx)
		}
	}
	state.PendingSections = pending
	state.LastGenerated = nil
	state.RefreshSections()
	return nil
}

func (e *Engine) generateSummaries(ctx context.Context, state *WorkflowState) error {
	gaps, err := e.aggregator.GenerateAll(ctx, state.Tree)
	if err != nil {
		return err
	}
	// 覆盖缺口以 warning 报告的形式留痕，不阻断流程
	for _, gap := range gaps {
		state.ValidationReports = append(state.ValidationReports, PhaseReport{
			TargetPhase: string(PhaseGenerateSummaries),
			Artifact:    gap.Path,
			Report: &validation.Report{
				TargetPhase: string(PhaseGenerateSummaries),
				Score:       coverageGapScore,
				Result:      validation.ResultWarning,
				Issues: []validation.Issue{{
					Severity: validation.SeverityWarning,
					Message:  "以下子章节内容缺失，概述未覆盖：" + strings.Join(gap.MissingChildren, "、"),
				}},
			},
		})
	}
	state.RefreshSections()
	return nil
}

const coverageGapScore = 70

func (e *Engine) differentiate(ctx context.Context, state *WorkflowState) error {
	for _, idx := range state.Tree.PreOrder() {
		node := &state.Tree.Nodes[idx]
		if node.Content == "" {
			continue
		}
		rewritten, err := e.provider.Invoke(ctx, differentiateSystemPrompt,
			buildDifferentiatePrompt(node.Title, node.Content))
		if err != nil {
			// 改写失败保留原文
			klog.Errorf("差异化改写失败，保留原文 path=%s: %v", state.Tree.Path(idx), err)
			continue
		}
		state.Tree.Nodes[idx].Content = markdown.Normalize(rewritten)
	}
	state.RefreshSections()
	return nil
}

func (e *Engine) finalize(state *WorkflowState) error {
	state.RefreshSections()
	generated := 0
	for _, s := range state.FlatSections {
		if s.IsGenerated {
			generated++
		}
	}
	klog.Infof("工作流收尾 runID=%s 章节=%d 已生成=%d", state.RunID, len(state.FlatSections), generated)
	return nil
}
