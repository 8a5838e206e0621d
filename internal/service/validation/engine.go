package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"k8s.io/klog/v2"

	"github.com/bidwriter/backend/internal/utils"
)

// Provider 语义校验和修正使用的模型调用接口
type Provider interface {
	Invoke(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Target 待校验产物的上下文
type Target struct {
	Phase     string // 产出该内容的阶段名
	Artifact  string // 章节路径等标识，可为空
	Title     string // 章节标题，可为空
	Reference string // 参考文本，用于关键词覆盖率检查
}

// Engine 校验引擎
// 结构化检查在本地完成，语义检查调用模型，语义检查失败只降级不报错
type Engine struct {
	provider        Provider
	minContentRunes int
	coverageFloor   float64
}

func NewEngine(provider Provider) *Engine {
	return &Engine{
		provider:        provider,
		minContentRunes: 200,
		coverageFloor:   0.3,
	}
}

// Validate 对一段内容做完整校验并生成报告
// 结论为 fail 时尝试生成修正稿写入 CorrectedContent
func (e *Engine) Validate(ctx context.Context, content string, target Target) *Report {
	issues := e.structuralIssues(content, target)
	issues = append(issues, e.semanticIssues(ctx, content, target)...)

	total, result := score(issues)
	report := &Report{
		TargetPhase: target.Phase,
		Score:       total,
		Result:      result,
		Issues:      issues,
	}

	if result == ResultFail && e.provider != nil {
		corrected, err := e.correct(ctx, content, target, issues)
		if err != nil {
			klog.Errorf("生成修正稿失败 phase=%s artifact=%s: %v", target.Phase, target.Artifact, err)
		} else {
			report.CorrectedContent = corrected
		}
	}
	return report
}

// structuralIssues 本地结构化检查：空内容、篇幅、重复句、关键词覆盖率
func (e *Engine) structuralIssues(content string, target Target) []Issue {
	var issues []Issue
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return []Issue{{
			Severity:   SeverityFail,
			Message:    "内容为空",
			Suggestion: "需要重新生成该部分内容",
		}}
	}

	if len([]rune(trimmed)) < e.minContentRunes {
		issues = append(issues, Issue{
			Severity:   SeverityWarning,
			Message:    fmt.Sprintf("内容过短，不足%d字", e.minContentRunes),
			Suggestion: "补充具体的实施方案和技术细节",
		})
	}

	if dup := duplicatedSentence(trimmed); dup != "" {
		issues = append(issues, Issue{
			Severity:   SeverityWarning,
			Message:    "存在重复句子：" + truncate(dup, 30),
			Suggestion: "删除重复表述，改写为不同角度的论述",
		})
	}

	if target.Reference != "" {
		if coverage, ok := keywordCoverage(target.Reference, trimmed); ok && coverage < e.coverageFloor {
			issues = append(issues, Issue{
				Severity:   SeverityWarning,
				Message:    fmt.Sprintf("关键词覆盖率偏低（%.0f%%）", coverage*100),
				Suggestion: "围绕招标需求中的关键术语展开论述",
			})
		}
	}
	return issues
}

const semanticSystemPrompt = `你是一名投标文件评审专家。请判断给定内容是否切题、是否存在明显的质量问题。
只输出 JSON，格式为：{"relevant": true, "issues": [{"message": "问题描述", "suggestion": "修改建议"}]}
没有问题时 issues 输出空数组。`

type semanticVerdict struct {
	Relevant bool `json:"relevant"`
	Issues   []struct {
		Message    string `json:"message"`
		Suggestion string `json:"suggestion"`
	} `json:"issues"`
}

// semanticIssues 调用模型做语义检查，属于建议性检查
// 模型调用失败或返回无法解析时直接跳过，不影响整体校验
func (e *Engine) semanticIssues(ctx context.Context, content string, target Target) []Issue {
	if e.provider == nil {
		return nil
	}
	prompt := fmt.Sprintf("章节标题：%s\n\n待评审内容：\n%s", target.Title, truncate(content, 4000))
	answer, err := e.provider.Invoke(ctx, semanticSystemPrompt, prompt)
	if err != nil {
		klog.V(6).Infof("语义校验调用失败，跳过 phase=%s: %v", target.Phase, err)
		return nil
	}

	var verdict semanticVerdict
	if err := json.Unmarshal([]byte(utils.ExtractJSON(answer)), &verdict); err != nil {
		klog.V(6).Infof("语义校验结果解析失败，跳过 phase=%s: %v", target.Phase, err)
		return nil
	}

	var issues []Issue
	if !verdict.Relevant {
		issues = append(issues, Issue{
			Severity:   SeverityWarning,
			Message:    "内容与章节主题相关性不足",
			Suggestion: "重新围绕章节标题组织内容",
		})
	}
	for _, item := range verdict.Issues {
		if strings.TrimSpace(item.Message) == "" {
			continue
		}
		issues = append(issues, Issue{
			Severity:   SeverityWarning,
			Message:    item.Message,
			Suggestion: item.Suggestion,
		})
	}
	return issues
}

const correctionSystemPrompt = `你是一名投标文件修订专家。请根据问题清单修订给定内容。
要求保留原文中正确的部分，逐条解决清单中的问题，直接输出修订后的完整内容，不要输出解释。`

// correct 根据问题清单生成修正稿
func (e *Engine) correct(ctx context.Context, content string, target Target, issues []Issue) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "章节标题：%s\n\n问题清单：\n", target.Title)
	for i, issue := range issues {
		fmt.Fprintf(&b, "%d. %s", i+1, issue.Message)
		if issue.Suggestion != "" {
			fmt.Fprintf(&b, "（建议：%s）", issue.Suggestion)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\n原始内容：\n%s", content)

	corrected, err := e.provider.Invoke(ctx, correctionSystemPrompt, b.String())
	if err != nil {
		return "", fmt.Errorf("调用模型修正内容失败: %w", err)
	}
	return strings.TrimSpace(corrected), nil
}

var sentenceSplitRe = regexp.MustCompile(`[。！？.!?]\s*`)

// duplicatedSentence 返回第一个出现两次以上的长句，没有则返回空串
func duplicatedSentence(content string) string {
	seen := map[string]struct{}{}
	for _, sentence := range sentenceSplitRe.Split(content, -1) {
		sentence = strings.TrimSpace(sentence)
		if len([]rune(sentence)) < 10 {
			continue
		}
		if _, ok := seen[sentence]; ok {
			return sentence
		}
		seen[sentence] = struct{}{}
	}
	return ""
}

var techTermRe = regexp.MustCompile(`[A-Za-z][A-Za-z0-9]{2,}`)

// 招标文件中常见的关键术语，用于中文关键词抽取
var domainTerms = []string{
	"系统", "平台", "架构", "技术", "方案", "设计", "开发", "实施",
	"管理", "服务", "功能", "性能", "安全", "数据", "接口", "部署",
	"运维", "培训", "验收", "测试", "集成", "监控",
}

// keywordCoverage 统计参考文本的关键词在内容中的覆盖率
// 参考文本抽不出关键词时返回 ok=false，跳过该项检查
func keywordCoverage(reference, content string) (float64, bool) {
	keywords := map[string]struct{}{}
	for _, term := range techTermRe.FindAllString(reference, -1) {
		keywords[strings.ToLower(term)] = struct{}{}
	}
	for _, term := range domainTerms {
		if strings.Contains(reference, term) {
			keywords[term] = struct{}{}
		}
	}
	if len(keywords) == 0 {
		return 0, false
	}

	lowerContent := strings.ToLower(content)
	hit := 0
	for kw := range keywords {
		if strings.Contains(lowerContent, kw) {
			hit++
		}
	}
	return float64(hit) / float64(len(keywords)), true
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
