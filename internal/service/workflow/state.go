package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bidwriter/backend/internal/service/validation"
)

// Phase 工作流阶段
type Phase string

const (
	PhaseParseDocument        Phase = "parse_document"
	PhaseAnalyzeRequirements  Phase = "analyze_requirements"
	PhaseValidateRequirements Phase = "validate_requirements"
	PhaseAnalyzeScoring       Phase = "analyze_scoring_criteria"
	PhaseGenerateOutline      Phase = "generate_outline"
	PhaseValidateOutline      Phase = "validate_outline"
	PhaseBuildSectionTree     Phase = "build_section_tree"
	PhaseGenerateLeafContent  Phase = "generate_leaf_content"
	PhaseValidateContent      Phase = "validate_content"
	PhaseGenerateSummaries    Phase = "generate_parent_summaries"
	PhaseDifferentiate        Phase = "differentiate_content"
	PhaseFinalize             Phase = "finalize"
	PhaseDone                 Phase = "done"
	PhaseFailed               Phase = "failed"
)

// Options 单次运行的开关
type Options struct {
	EnableValidation      bool `json:"enable_validation"`
	EnableDifferentiation bool `json:"enable_differentiation"`
}

// SectionRecord 章节树的扁平投影，按先序排列
// 这是交给渲染器的最终结构
type SectionRecord struct {
	Title       string `json:"title"`
	Level       int    `json:"level"`
	Order       int    `json:"order"`
	Path        string `json:"path"`
	Content     string `json:"content"`
	IsLeaf      bool   `json:"is_leaf"`
	IsGenerated bool   `json:"is_generated"`
}

// PhaseReport 某一阶段产物的校验报告记录
type PhaseReport struct {
	TargetPhase string             `json:"target_phase"`
	Artifact    string             `json:"artifact,omitempty"` // 章节路径等
	Report      *validation.Report `json:"report"`
}

// WorkflowState 工作流状态
// 所有字段在构造时即存在，序列化为检查点快照后可完整还原
type WorkflowState struct {
	RunID                string         `json:"run_id"`
	CurrentPhase         Phase          `json:"current_phase"`
	SourceText           string         `json:"source_text"`
	RequirementsAnalysis string         `json:"requirements_analysis"`
	ScoringAnalysis      string         `json:"scoring_analysis"`
	MandatoryClauses     []string       `json:"mandatory_clauses"`
	ImportantClauses     []string       `json:"important_clauses"`
	OutlineText          string         `json:"outline_text"`
	Tree                 *SectionTree   `json:"tree,omitempty"`
	FlatSections         []SectionRecord `json:"flat_sections"`
	PendingSections      []int          `json:"pending_sections,omitempty"` // 等待重新生成的节点下标
	LastGenerated        []int          `json:"last_generated,omitempty"`   // 最近一轮生成的节点下标，校验阶段消费
	RetryCounters        map[string]int `json:"retry_counters"`
	ValidationReports    []PhaseReport  `json:"validation_reports"`
	Options              Options        `json:"options"`
	Error                string         `json:"error,omitempty"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// NewWorkflowState 创建初始状态，所有字段显式初始化
func NewWorkflowState(runID, sourceText string, opts Options) *WorkflowState {
	return &WorkflowState{
		RunID:             runID,
		CurrentPhase:      PhaseParseDocument,
		SourceText:        sourceText,
		MandatoryClauses:  []string{},
		ImportantClauses:  []string{},
		FlatSections:      []SectionRecord{},
		RetryCounters:     map[string]int{},
		ValidationReports: []PhaseReport{},
		Options:           opts,
		UpdatedAt:         time.Now(),
	}
}

// RefreshSections 从树重新计算扁平章节列表
// 每次树被修改后必须调用，保证两者不发散
func (s *WorkflowState) RefreshSections() {
	if s.Tree == nil {
		s.FlatSections = []SectionRecord{}
		return
	}
	records := make([]SectionRecord, 0, s.Tree.Len())
	for _, idx := range s.Tree.PreOrder() {
		node := s.Tree.Nodes[idx]
		records = append(records, SectionRecord{
			Title:       node.Title,
			Level:       node.Level,
			Order:       node.Order,
			Path:        s.Tree.Path(idx),
			Content:     node.Content,
			IsLeaf:      node.IsLeaf,
			IsGenerated: node.IsGenerated,
		})
	}
	s.FlatSections = records
}

// Snapshot 序列化为检查点快照
func (s *WorkflowState) Snapshot() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("序列化工作流状态失败: %w", err)
	}
	return string(data), nil
}

// RestoreState 从检查点快照还原状态
func RestoreState(snapshot string) (*WorkflowState, error) {
	var state WorkflowState
	if err := json.Unmarshal([]byte(snapshot), &state); err != nil {
		return nil, fmt.Errorf("还原工作流状态失败: %w", err)
	}
	if state.RetryCounters == nil {
		state.RetryCounters = map[string]int{}
	}
	if state.ValidationReports == nil {
		state.ValidationReports = []PhaseReport{}
	}
	return &state, nil
}

// lastReportFor 返回某一阶段最近一次的校验报告
func (s *WorkflowState) lastReportFor(targetPhase, artifact string) *PhaseReport {
	for i := len(s.ValidationReports) - 1; i >= 0; i-- {
		r := s.ValidationReports[i]
		if r.TargetPhase == targetPhase && (artifact == "" || r.Artifact == artifact) {
			return &s.ValidationReports[i]
		}
	}
	return nil
}
