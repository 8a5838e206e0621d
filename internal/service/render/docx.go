package render

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fumiama/go-docx"
	"k8s.io/klog/v2"

	"github.com/bidwriter/backend/internal/service/workflow"
)

// 字号为半磅值，按章节层级递减
var headingSizes = map[int]string{
	1: "32",
	2: "28",
	3: "26",
	4: "24",
	5: "24",
}

// RenderDocx 把扁平章节渲染为 Word 文档
// 章节按先序排列，标题加粗分级，正文按空行拆分为段落
func RenderDocx(sections []workflow.SectionRecord, title, outputPath string) error {
	if len(sections) == 0 {
		return fmt.Errorf("没有可渲染的章节")
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("创建输出目录失败: %w", err)
	}

	w := docx.New().WithDefaultTheme()

	if title != "" {
		p := w.AddParagraph().Justification("center")
		p.AddText(title).Size("44").Bold()
		w.AddParagraph()
	}

	for _, section := range sections {
		heading := w.AddParagraph()
		size, ok := headingSizes[section.Level]
		if !ok {
			size = "24"
		}
		heading.AddText(section.Title).Size(size).Bold()

		for _, para := range splitParagraphs(section.Content) {
			w.AddParagraph().AddText(para)
		}
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("创建输出文件失败: %w", err)
	}
	defer f.Close()

	if _, err := w.WriteTo(f); err != nil {
		return fmt.Errorf("写入文档失败: %w", err)
	}
	klog.Infof("文档渲染完成 path=%s 章节=%d", outputPath, len(sections))
	return nil
}

// splitParagraphs 按空行拆分正文，保留段内单换行
func splitParagraphs(content string) []string {
	var paras []string
	for _, block := range strings.Split(content, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		paras = append(paras, strings.ReplaceAll(block, "\n", " "))
	}
	return paras
}
