package workflow

import (
	"fmt"
	"strings"
)

// 各阶段的系统提示词
const (
	requirementsSystemPrompt = `你是一名资深的投标文件分析专家。请仔细阅读招标文件，输出结构化的需求分析，包括：
1. 项目概况：项目名称、建设目标、建设范围
2. 技术需求：功能需求、性能指标、技术路线要求
3. 商务需求：资质要求、工期要求、售后服务要求
要求条理清晰，逐条列出，不要遗漏带★和▲标记的条款。`

	scoringSystemPrompt = `你是一名评标专家。请从招标文件的评标办法中梳理评分标准，输出评分分析，包括：
1. 各评分项的名称、分值和评分依据
2. 技术分的关键得分点，指出方案中必须重点响应的内容
3. 容易丢分的项和应对建议
要求逐条列出，分值合计要与评标办法一致。`

	outlineSystemPrompt = `你是一名投标方案编写专家。请根据需求分析结果生成技术方案目录大纲。
要求：
1. 使用多级数字编号，一级章节形如 "1. 标题"，二级形如 "1.1 标题"，以此类推，最多五级
2. 大纲必须覆盖需求分析中的全部技术需求和评分要点
3. 每行只写一个章节标题，不要输出解释性文字
4. 章节数量适中，层次分明`

	leafSystemPrompt = `你是一名投标方案编写专家。请为指定的章节撰写正式的方案内容。
要求：
1. 内容紧扣章节标题，结合招标需求展开
2. 使用正式的书面语，段落完整，不要使用任何 Markdown 标记
3. 不要重复章节标题本身
4. 内容具体充实，避免空话套话`

	summarySystemPrompt = `你是一名投标方案编写专家。请根据若干子章节的内容，为它们的上级章节撰写概述性引言。
要求：
1. 概述需要统领全部子章节的要点，起到承上启下的作用
2. 使用正式的书面语，不要使用任何 Markdown 标记
3. 篇幅控制在两到四段，不要逐条复述子章节内容`

	differentiateSystemPrompt = `你是一名投标方案润色专家。请对给定的章节内容做差异化改写。
要求：
1. 保持技术事实和承诺内容不变
2. 调整句式和措辞，使表达方式有明显变化
3. 不要缩短篇幅，不要引入新的技术承诺
4. 不要使用任何 Markdown 标记`
)

// buildRequirementsPrompt 拼装需求分析的用户提示词
func buildRequirementsPrompt(sourceText string) string {
	return fmt.Sprintf("招标文件内容如下：\n\n%s", sourceText)
}

// buildScoringPrompt 拼装评分分析的用户提示词
func buildScoringPrompt(sourceText string) string {
	return fmt.Sprintf("招标文件内容如下：\n\n%s\n\n请输出评分分析。", sourceText)
}

// buildOutlinePrompt 拼装大纲生成的用户提示词，带上评分分析和关键条款
func buildOutlinePrompt(state *WorkflowState) string {
	var b strings.Builder
	b.WriteString("需求分析结果：\n\n")
	b.WriteString(state.RequirementsAnalysis)
	if state.ScoringAnalysis != "" {
		b.WriteString("\n\n评分分析结果：\n\n")
		b.WriteString(state.ScoringAnalysis)
	}
	if len(state.MandatoryClauses) > 0 {
		b.WriteString("\n\n必须响应的实质性条款（★）：\n")
		for _, clause := range state.MandatoryClauses {
			b.WriteString("- " + clause + "\n")
		}
	}
	if len(state.ImportantClauses) > 0 {
		b.WriteString("\n重要条款（▲）：\n")
		for _, clause := range state.ImportantClauses {
			b.WriteString("- " + clause + "\n")
		}
	}
	b.WriteString("\n请生成技术方案目录大纲。")
	return b.String()
}

// buildLeafPrompt 拼装叶子章节内容生成的用户提示词
func buildLeafPrompt(path, title, reference string) string {
	return fmt.Sprintf("章节位置：%s\n章节标题：%s\n\n招标需求参考：\n%s\n\n请撰写该章节的方案内容。",
		path, title, truncateRunes(reference, maxReferenceRunes))
}

// buildSummaryPrompt 拼装父章节概述的用户提示词
func buildSummaryPrompt(title string, children []childSection) string {
	var b strings.Builder
	fmt.Fprintf(&b, "上级章节标题：%s\n\n子章节内容如下：\n\n", title)
	for _, c := range children {
		fmt.Fprintf(&b, "【%s】\n%s\n\n", c.title, truncateRunes(c.content, maxChildRunes))
	}
	b.WriteString("请为上级章节撰写概述性引言。")
	return b.String()
}

// buildDifferentiatePrompt 拼装差异化改写的用户提示词
func buildDifferentiatePrompt(title, content string) string {
	return fmt.Sprintf("章节标题：%s\n\n原始内容：\n%s\n\n请完成差异化改写。", title, content)
}

const (
	// 提示词中引用原文的长度上限，超出部分截断以控制 token 消耗
	maxReferenceRunes = 8000
	maxChildRunes     = 3000
)

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
