package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseOutlineTwoLevels(t *testing.T) {
	outline := "1. Overview\n1.1 Background\n1.2 Goals\n2. Design\n2.1 Architecture"

	tree, err := ParseOutline(outline)
	if err != nil {
		t.Fatalf("解析大纲失败: %v", err)
	}

	assert.Equal(t, 5, tree.Len())
	assert.Len(t, tree.Roots, 2)

	overview := tree.Nodes[tree.Roots[0]]
	assert.Equal(t, "Overview", overview.Title)
	assert.Equal(t, 1, overview.Level)
	assert.Len(t, overview.Children, 2)
	assert.False(t, overview.IsLeaf)

	design := tree.Nodes[tree.Roots[1]]
	assert.Equal(t, "Design", design.Title)
	assert.Len(t, design.Children, 1)

	leaves := tree.Leaves()
	assert.Len(t, leaves, 3)
	assert.Equal(t, "Background", tree.Nodes[leaves[0]].Title)
	assert.Equal(t, "Architecture", tree.Nodes[leaves[2]].Title)
}

func TestParseOutlineStripsNumberingKeepsOrder(t *testing.T) {
	// 标题不含编号前缀，文档顺序由 Order 保留
	tree, err := ParseOutline("1. 项目概述\n1.1 建设背景\n2、技术方案")
	if err != nil {
		t.Fatalf("解析大纲失败: %v", err)
	}

	var titles []string
	var orders []int
	for _, idx := range tree.PreOrder() {
		titles = append(titles, tree.Nodes[idx].Title)
		orders = append(orders, tree.Nodes[idx].Order)
	}
	assert.Equal(t, []string{"项目概述", "建设背景", "技术方案"}, titles)
	assert.Equal(t, []int{1, 2, 3}, orders)
}

func TestParseOutlineDeepNumbering(t *testing.T) {
	outline := "1. 总体方案\n1.1 设计原则\n1.1.1 先进性原则\n1.1.1.1 技术选型\n1.1.1.1.1 框架对比"

	tree, err := ParseOutline(outline)
	if err != nil {
		t.Fatalf("解析大纲失败: %v", err)
	}

	assert.Equal(t, 5, tree.Len())
	assert.Len(t, tree.Roots, 1)
	for i := 0; i < 5; i++ {
		assert.Equal(t, i+1, tree.Nodes[i].Level, "节点 %s", tree.Nodes[i].Title)
	}
	// 只有最深一级是叶子
	leaves := tree.Leaves()
	assert.Len(t, leaves, 1)
	assert.Equal(t, "框架对比", tree.Nodes[leaves[0]].Title)
}

func TestParseOutlineChineseEnumeration(t *testing.T) {
	outline := "一、项目理解\n（一）建设背景\n（二）建设目标\n二、技术方案"

	tree, err := ParseOutline(outline)
	if err != nil {
		t.Fatalf("解析大纲失败: %v", err)
	}

	assert.Len(t, tree.Roots, 2)
	first := tree.Nodes[tree.Roots[0]]
	assert.Equal(t, "项目理解", first.Title)
	assert.Equal(t, 1, first.Level)
	assert.Len(t, first.Children, 2)
	assert.Equal(t, "建设背景", tree.Nodes[first.Children[0]].Title)
	assert.Equal(t, 2, tree.Nodes[first.Children[0]].Level)
}

func TestParseOutlineSkipsMarkupAndBlankLines(t *testing.T) {
	outline := "# 技术方案大纲\n\n```\n1. 不应出现\n```\n---\n1. 项目概述\n\n> 引用说明\n1.1 建设背景\n"

	tree, err := ParseOutline(outline)
	if err != nil {
		t.Fatalf("解析大纲失败: %v", err)
	}

	assert.Equal(t, 2, tree.Len())
	assert.Equal(t, "项目概述", tree.Nodes[0].Title)
	assert.Equal(t, "建设背景", tree.Nodes[1].Title)
}

func TestParseOutlineListPrefixAndFallback(t *testing.T) {
	outline := "- 1. 项目概述\n- 1.1 建设背景\n售后服务承诺"

	tree, err := ParseOutline(outline)
	if err != nil {
		t.Fatalf("解析大纲失败: %v", err)
	}

	assert.Equal(t, 3, tree.Len())
	assert.Equal(t, "项目概述", tree.Nodes[0].Title)
	// 无编号行兜底为一级标题，整行即标题
	fallback := tree.Nodes[2]
	assert.Equal(t, "售后服务承诺", fallback.Title)
	assert.Equal(t, 1, fallback.Level)
	assert.Contains(t, tree.Roots, 2)
}

func TestParseOutlineLevelSkipAttachesToNearestAncestor(t *testing.T) {
	// 缺少二级标题时，三级标题挂到最近的一级标题下
	outline := "1. 项目概述\n1.1.1 细化说明\n2. 技术方案"

	tree, err := ParseOutline(outline)
	if err != nil {
		t.Fatalf("解析大纲失败: %v", err)
	}

	overview := tree.Nodes[tree.Roots[0]]
	assert.Len(t, overview.Children, 1)
	child := tree.Nodes[overview.Children[0]]
	assert.Equal(t, "细化说明", child.Title)
	assert.Equal(t, 3, child.Level)
}

func TestParseOutlineEmpty(t *testing.T) {
	for _, text := range []string{"", "\n\n", "# 只有标记\n```\ncode\n```"} {
		_, err := ParseOutline(text)
		if !errors.Is(err, ErrEmptyOutline) {
			t.Fatalf("输入 %q 应返回 ErrEmptyOutline，实际 %v", text, err)
		}
	}
}
