package workflow

import (
	"errors"
	"regexp"
	"strings"
)

// ErrEmptyOutline 大纲文本中没有任何可解析的章节行
var ErrEmptyOutline = errors.New("大纲中没有可解析的章节")

// 编号标题模式，必须从最深层级开始匹配，
// 否则 "1.1.1 标题" 会被二级模式抢先截断
var numberedPatterns = []struct {
	re    *regexp.Regexp
	level int
}{
	{regexp.MustCompile(`^([1-9]\d*(?:\.[1-9]\d*){4})\.?\s+(.+)$`), 5},
	{regexp.MustCompile(`^([1-9]\d*(?:\.[1-9]\d*){3})\.?\s+(.+)$`), 4},
	{regexp.MustCompile(`^([1-9]\d*(?:\.[1-9]\d*){2})\.?\s+(.+)$`), 3},
	{regexp.MustCompile(`^([1-9]\d*\.[1-9]\d*)\.?\s+(.+)$`), 2},
	{regexp.MustCompile(`^([1-9]\d*)[.、]\s*(.+)$`), 1},
	{regexp.MustCompile(`^([一二三四五六七八九十]+)、\s*(.+)$`), 1},
	{regexp.MustCompile(`^（([一二三四五六七八九十]+)）\s*(.+)$`), 2},
}

// 大纲里偶尔混入的标记行，直接跳过
var markupPrefixes = []string{"#", "```", "---", "***", ">"}

// ParseOutline 把大纲文本解析为章节树
// 按行识别编号标题，维护一个层级栈：弹出所有层级大于等于当前行的
// 节点后，栈顶即为父节点。没有编号的非空行按一级标题处理，
// 保证模型输出格式漂移时仍能建树
func ParseOutline(text string) (*SectionTree, error) {
	tree := NewSectionTree()
	var stack []int
	order := 0
	inFence := false

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		// 围栏代码块整体跳过
		if strings.HasPrefix(line, "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		level, title, ok := parseOutlineLine(line)
		if !ok {
			continue
		}
		order++

		for len(stack) > 0 && tree.Nodes[stack[len(stack)-1]].Level >= level {
			stack = stack[:len(stack)-1]
		}
		parent := -1
		if len(stack) > 0 {
			parent = stack[len(stack)-1]
		}
		idx := tree.add(parent, title, level, order)
		stack = append(stack, idx)
	}

	if len(tree.Roots) == 0 {
		return nil, ErrEmptyOutline
	}
	tree.sealLeaves()
	return tree, nil
}

// parseOutlineLine 识别单行的层级和标题，标题去掉编号前缀
// 文档顺序由 Order 字段保留
func parseOutlineLine(line string) (int, string, bool) {
	if line == "" {
		return 0, "", false
	}
	for _, prefix := range markupPrefixes {
		if strings.HasPrefix(line, prefix) {
			return 0, "", false
		}
	}
	// 模型偶尔把大纲输出成列表项，去掉列表前缀再匹配编号
	line = strings.TrimPrefix(line, "- ")
	line = strings.TrimPrefix(line, "* ")
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, "", false
	}
	for _, p := range numberedPatterns {
		if m := p.re.FindStringSubmatch(line); m != nil {
			return p.level, strings.TrimSpace(m[2]), true
		}
	}
	// 无编号行兜底为一级标题
	return 1, line, true
}
