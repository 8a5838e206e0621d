package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "纯JSON",
			input:    `{"score": 85}`,
			expected: `{"score": 85}`,
		},
		{
			name:     "前后有说明文字",
			input:    "校验结果如下：{\"score\": 85, \"issues\": []} 请参考。",
			expected: `{"score": 85, "issues": []}`,
		},
		{
			name:     "嵌套对象",
			input:    `前缀{"a": {"b": 1}}后缀`,
			expected: `{"a": {"b": 1}}`,
		},
		{
			name:     "无JSON返回原文",
			input:    "没有结构化内容",
			expected: "没有结构化内容",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractJSON(tt.input))
		})
	}
}
