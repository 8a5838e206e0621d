package markdown

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var blankRuns = regexp.MustCompile(`\n{3,}`)

// Normalize 将 LLM 输出中的 Markdown 标记清理为纯叙述文本。
// 标题标记、强调符号、代码块围栏、列表符号、编号前缀、引用符号会被去掉，
// 链接只保留链接文字，代码/图表块整体丢弃，连续空行压缩为一个空行。
func Normalize(content string) string {
	src := []byte(content)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var blocks []string
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if b := renderBlock(n, src); b != "" {
			blocks = append(blocks, b)
		}
	}

	out := strings.Join(blocks, "\n\n")
	out = blankRuns.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

func renderBlock(n ast.Node, src []byte) string {
	switch n.(type) {
	case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock, *ast.ThematicBreak:
		// 代码、图表与分隔线不属于正文
		return ""
	case *ast.Heading:
		return inlineText(n, src)
	case *ast.Blockquote, *ast.List, *ast.ListItem:
		var parts []string
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			if t := renderBlock(c, src); t != "" {
				parts = append(parts, t)
			}
		}
		return strings.Join(parts, "\n")
	default:
		return inlineText(n, src)
	}
}

// inlineText 提取节点的行内文本，丢弃所有标记符号
func inlineText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	var walk func(ast.Node)
	walk = func(c ast.Node) {
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf.WriteByte('\n')
			}
		case *ast.CodeSpan:
			for cc := c.FirstChild(); cc != nil; cc = cc.NextSibling() {
				if tt, ok := cc.(*ast.Text); ok {
					buf.Write(tt.Value(src))
				}
			}
		case *ast.AutoLink:
			buf.Write(t.URL(src))
		default:
			for cc := c.FirstChild(); cc != nil; cc = cc.NextSibling() {
				walk(cc)
			}
		}
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		walk(c)
	}
	return strings.TrimSpace(buf.String())
}
