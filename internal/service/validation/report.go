package validation

// Severity 问题严重程度
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityFail    Severity = "fail"
)

// Result 校验结论
type Result string

const (
	ResultPass    Result = "pass"
	ResultWarning Result = "warning"
	ResultFail    Result = "fail"
)

// Issue 单条校验问题
type Issue struct {
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// Report 一次校验的完整报告
type Report struct {
	TargetPhase      string  `json:"target_phase"`
	Score            float64 `json:"score"`
	Result           Result  `json:"result"`
	Issues           []Issue `json:"issues"`
	CorrectedContent string  `json:"corrected_content,omitempty"`
}

// 打分规则：满分 100，按问题严重程度扣分
const (
	fullScore      = 100.0
	failPenalty    = 20.0
	warningPenalty = 10.0
	failThreshold  = 60.0
	warnThreshold  = 80.0
)

// score 根据问题列表计算得分并给出结论
// 存在 fail 级问题或得分低于 60 判为 fail，60 到 80 之间判为 warning
func score(issues []Issue) (float64, Result) {
	total := fullScore
	hasFail := false
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityFail:
			total -= failPenalty
			hasFail = true
		default:
			total -= warningPenalty
		}
	}
	if total < 0 {
		total = 0
	}
	switch {
	case hasFail || total < failThreshold:
		return total, ResultFail
	case total < warnThreshold:
		return total, ResultWarning
	default:
		return total, ResultPass
	}
}
