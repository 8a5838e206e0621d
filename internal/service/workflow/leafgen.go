package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
	"k8s.io/klog/v2"

	"github.com/bidwriter/backend/internal/pkg/markdown"
)

// Provider 内容生成使用的模型调用接口
type Provider interface {
	Invoke(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// LeafGenerator 叶子章节内容生成器
// 按配置的并发度扇出，全部节点落位后统一回写树，
// 单个节点失败不影响其他节点
type LeafGenerator struct {
	provider    Provider
	concurrency int
}

func NewLeafGenerator(provider Provider, concurrency int) *LeafGenerator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &LeafGenerator{provider: provider, concurrency: concurrency}
}

type genResult struct {
	content string
	err     error
}

// GenerateAll 并发生成指定节点的内容，targets 为空时生成全部叶子
// 工作协程只写各自的结果槽位，树的回写在汇合之后单线程完成
func (g *LeafGenerator) GenerateAll(ctx context.Context, tree *SectionTree, reference string, targets []int) error {
	if len(targets) == 0 {
		targets = tree.Leaves()
	}
	if len(targets) == 0 {
		return nil
	}

	pool, err := ants.NewPool(g.concurrency)
	if err != nil {
		return fmt.Errorf("创建协程池失败: %w", err)
	}
	defer pool.Release()

	results := make([]genResult, len(targets))
	var wg sync.WaitGroup
	for i, idx := range targets {
		i, idx := i, idx
		wg.Add(1)
		task := func() {
			defer wg.Done()
			content, err := g.generateOne(ctx, tree, idx, reference)
			results[i] = genResult{content: content, err: err}
		}
		if err := pool.Submit(task); err != nil {
			results[i] = genResult{err: fmt.Errorf("提交生成任务失败: %w", err)}
			wg.Done()
		}
	}
	wg.Wait()

	succeeded := 0
	for i, idx := range targets {
		node := &tree.Nodes[idx]
		if results[i].err != nil {
			klog.Errorf("章节生成失败 path=%s: %v", tree.Path(idx), results[i].err)
			node.Content = ""
			node.IsGenerated = false
			continue
		}
		node.Content = markdown.Normalize(results[i].content)
		node.IsGenerated = true
		succeeded++
	}
	klog.V(6).Infof("叶子章节生成完成：成功 %d / %d", succeeded, len(targets))
	return nil
}

func (g *LeafGenerator) generateOne(ctx context.Context, tree *SectionTree, idx int, reference string) (string, error) {
	node := tree.Nodes[idx]
	prompt := buildLeafPrompt(tree.Path(idx), node.Title, reference)
	content, err := g.provider.Invoke(ctx, leafSystemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("调用模型生成章节内容失败: %w", err)
	}
	return content, nil
}
