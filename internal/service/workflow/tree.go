package workflow

import "strings"

// SectionNode 章节树节点
// 所有节点统一存放在 SectionTree.Nodes 中，父子关系用下标表达，
// 快照序列化时不存在对象环
type SectionNode struct {
	Title       string `json:"title"`
	Level       int    `json:"level"`
	Order       int    `json:"order"`
	Parent      int    `json:"parent"` // -1 表示根节点
	Children    []int  `json:"children,omitempty"`
	Content     string `json:"content"`
	IsGenerated bool   `json:"is_generated"`
	IsLeaf      bool   `json:"is_leaf"` // 建树完成时固定，之后不再变化
}

// SectionTree 章节树
type SectionTree struct {
	Nodes []SectionNode `json:"nodes"`
	Roots []int         `json:"roots"`
}

func NewSectionTree() *SectionTree {
	return &SectionTree{}
}

// add 追加一个节点并挂到父节点下，返回新节点下标
func (t *SectionTree) add(parent int, title string, level, order int) int {
	idx := len(t.Nodes)
	t.Nodes = append(t.Nodes, SectionNode{
		Title:  title,
		Level:  level,
		Order:  order,
		Parent: parent,
	})
	if parent < 0 {
		t.Roots = append(t.Roots, idx)
	} else {
		t.Nodes[parent].Children = append(t.Nodes[parent].Children, idx)
	}
	return idx
}

// sealLeaves 在建树完成后固定叶子标记
func (t *SectionTree) sealLeaves() {
	for i := range t.Nodes {
		t.Nodes[i].IsLeaf = len(t.Nodes[i].Children) == 0
	}
}

func (t *SectionTree) Len() int {
	return len(t.Nodes)
}

// Leaves 返回所有叶子节点下标，按先序排列
func (t *SectionTree) Leaves() []int {
	var leaves []int
	for _, idx := range t.PreOrder() {
		if t.Nodes[idx].IsLeaf {
			leaves = append(leaves, idx)
		}
	}
	return leaves
}

// Parents 返回所有非叶子节点下标，按先序排列
func (t *SectionTree) Parents() []int {
	var parents []int
	for _, idx := range t.PreOrder() {
		if !t.Nodes[idx].IsLeaf {
			parents = append(parents, idx)
		}
	}
	return parents
}

// PreOrder 先序遍历，兄弟节点保持录入顺序
func (t *SectionTree) PreOrder() []int {
	result := make([]int, 0, len(t.Nodes))
	var visit func(idx int)
	visit = func(idx int) {
		result = append(result, idx)
		for _, child := range t.Nodes[idx].Children {
			visit(child)
		}
	}
	for _, root := range t.Roots {
		visit(root)
	}
	return result
}

// Path 返回从根到该节点的标题路径，如 "2. 系统设计 > 2.1 总体架构"
func (t *SectionTree) Path(idx int) string {
	var titles []string
	for i := idx; i >= 0; i = t.Nodes[i].Parent {
		titles = append(titles, t.Nodes[i].Title)
	}
	for l, r := 0, len(titles)-1; l < r; l, r = l+1, r-1 {
		titles[l], titles[r] = titles[r], titles[l]
	}
	return strings.Join(titles, " > ")
}
