package ingest

import (
	"fmt"
	"io"
	"strings"
)

// TextParser 处理 .txt 和 .md 文件
type TextParser struct{}

func (p *TextParser) Parse(r io.Reader, _ string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("读取文本文件失败: %w", err)
	}
	// 统一换行符
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	return strings.TrimSpace(text), nil
}
