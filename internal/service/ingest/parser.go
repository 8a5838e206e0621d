package ingest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Parser 把原始招标文件解析为纯文本
type Parser interface {
	Parse(r io.Reader, filename string) (string, error)
}

// SupportedExtensions 可以处理的文件后缀，必须和 ForFile 的分支保持一致
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".docx":     true,
	".pdf":      true,
}

// ForFile 按文件名返回对应的解析器
func ForFile(filename string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt", ".md", ".markdown":
		return &TextParser{}, nil
	case ".docx":
		return &DOCXParser{}, nil
	case ".pdf":
		return &PDFParser{}, nil
	default:
		return nil, fmt.Errorf("不支持的文件类型: %s", ext)
	}
}

// IsSupportedExtension 判断文件后缀是否受支持
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

// ExtractFile 打开文件并解析为纯文本
func ExtractFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("打开文件失败: %w", err)
	}
	defer f.Close()

	parser, err := ForFile(path)
	if err != nil {
		return "", err
	}
	return parser.Parse(f, filepath.Base(path))
}
