package workflow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func buildTestTree(t *testing.T) *SectionTree {
	t.Helper()
	tree, err := ParseOutline("1. 项目概述\n1.1 建设背景\n1.2 建设目标\n2. 技术方案\n2.1 总体架构\n2.1.1 逻辑架构")
	if err != nil {
		t.Fatalf("解析大纲失败: %v", err)
	}
	return tree
}

func TestTreePreOrderKeepsDocumentOrder(t *testing.T) {
	tree := buildTestTree(t)

	var titles []string
	for _, idx := range tree.PreOrder() {
		titles = append(titles, tree.Nodes[idx].Title)
	}
	assert.Equal(t, []string{
		"项目概述", "建设背景", "建设目标",
		"技术方案", "总体架构", "逻辑架构",
	}, titles)
}

func TestTreePath(t *testing.T) {
	tree := buildTestTree(t)

	leaves := tree.Leaves()
	last := leaves[len(leaves)-1]
	assert.Equal(t, "技术方案 > 总体架构 > 逻辑架构", tree.Path(last))

	assert.Equal(t, "项目概述", tree.Path(tree.Roots[0]))
}

func TestTreeLeavesAndParents(t *testing.T) {
	tree := buildTestTree(t)

	assert.Len(t, tree.Leaves(), 3)
	assert.Len(t, tree.Parents(), 3)
	for _, idx := range tree.Leaves() {
		assert.True(t, tree.Nodes[idx].IsLeaf)
		assert.Empty(t, tree.Nodes[idx].Children)
	}
}

func TestTreeJSONRoundTrip(t *testing.T) {
	tree := buildTestTree(t)
	tree.Nodes[1].Content = "背景内容"
	tree.Nodes[1].IsGenerated = true

	data, err := json.Marshal(tree)
	if err != nil {
		t.Fatalf("序列化失败: %v", err)
	}
	var restored SectionTree
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("反序列化失败: %v", err)
	}

	assert.Equal(t, tree.Nodes, restored.Nodes)
	assert.Equal(t, tree.Roots, restored.Roots)
	assert.Equal(t, "背景内容", restored.Nodes[1].Content)
	// 下标链接在序列化后保持一致
	assert.Equal(t, tree.Path(5), restored.Path(5))
}
