package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
	"k8s.io/klog/v2"

	"github.com/bidwriter/backend/internal/pkg/markdown"
)

// CoverageGap 父章节汇总时缺失的子章节内容
type CoverageGap struct {
	Path            string   `json:"path"`
	MissingChildren []string `json:"missing_children"`
}

type childSection struct {
	title   string
	content string
}

// SummaryAggregator 父章节概述聚合器
// 自底向上逐批处理：所有子节点都处理完的父节点进入就绪队列，
// 同一批内并发生成，批与批之间串行推进
type SummaryAggregator struct {
	provider    Provider
	concurrency int
}

func NewSummaryAggregator(provider Provider, concurrency int) *SummaryAggregator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &SummaryAggregator{provider: provider, concurrency: concurrency}
}

// GenerateAll 为所有非叶子节点生成概述
// 子内容缺失时照常处理：有内容的子节点参与汇总，缺失的记入覆盖缺口；
// 全部缺失时跳过该父节点但仍视为已处理，保证祖先不被卡住
func (a *SummaryAggregator) GenerateAll(ctx context.Context, tree *SectionTree) ([]CoverageGap, error) {
	pending := make([]int, tree.Len())
	var ready []int
	for i := range tree.Nodes {
		if tree.Nodes[i].IsLeaf {
			continue
		}
		pending[i] = len(tree.Nodes[i].Children)
	}
	// 叶子在内容生成阶段均已处理（无论成败），先扣减其父节点计数
	for i := range tree.Nodes {
		if !tree.Nodes[i].IsLeaf {
			continue
		}
		if p := tree.Nodes[i].Parent; p >= 0 {
			pending[p]--
			if pending[p] == 0 {
				ready = append(ready, p)
			}
		}
	}

	pool, err := ants.NewPool(a.concurrency)
	if err != nil {
		return nil, fmt.Errorf("创建协程池失败: %w", err)
	}
	defer pool.Release()

	var gaps []CoverageGap
	for len(ready) > 0 {
		batch := ready
		ready = nil

		results := make([]genResult, len(batch))
		batchGaps := make([]*CoverageGap, len(batch))
		var wg sync.WaitGroup
		for i, idx := range batch {
			i, idx := i, idx
			wg.Add(1)
			task := func() {
				defer wg.Done()
				results[i], batchGaps[i] = a.summarizeOne(ctx, tree, idx)
			}
			if err := pool.Submit(task); err != nil {
				results[i] = genResult{err: fmt.Errorf("提交汇总任务失败: %w", err)}
				wg.Done()
			}
		}
		wg.Wait()

		for i, idx := range batch {
			node := &tree.Nodes[idx]
			if batchGaps[i] != nil {
				gaps = append(gaps, *batchGaps[i])
			}
			if results[i].err != nil {
				klog.Errorf("章节概述生成失败 path=%s: %v", tree.Path(idx), results[i].err)
				node.IsGenerated = false
			} else if results[i].content != "" {
				node.Content = markdown.Normalize(results[i].content)
				node.IsGenerated = true
			}
			// 无论成败都向上扣减，祖先基于可用内容继续汇总
			if p := node.Parent; p >= 0 {
				pending[p]--
				if pending[p] == 0 {
					ready = append(ready, p)
				}
			}
		}
	}
	return gaps, nil
}

// summarizeOne 为单个父节点生成概述
// 返回的内容为空且无错误时表示该节点因子内容全部缺失被跳过
func (a *SummaryAggregator) summarizeOne(ctx context.Context, tree *SectionTree, idx int) (genResult, *CoverageGap) {
	node := tree.Nodes[idx]
	var children []childSection
	var missing []string
	for _, c := range node.Children {
		child := tree.Nodes[c]
		if child.Content == "" {
			missing = append(missing, child.Title)
			continue
		}
		children = append(children, childSection{title: child.Title, content: child.Content})
	}

	var gap *CoverageGap
	if len(missing) > 0 {
		gap = &CoverageGap{Path: tree.Path(idx), MissingChildren: missing}
	}
	if len(children) == 0 {
		return genResult{}, gap
	}

	content, err := a.provider.Invoke(ctx, summarySystemPrompt, buildSummaryPrompt(node.Title, children))
	if err != nil {
		return genResult{err: fmt.Errorf("调用模型生成章节概述失败: %w", err)}, gap
	}
	return genResult{content: content}, gap
}
