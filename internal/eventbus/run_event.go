package eventbus

// RunEventType 生成运行事件类型
type RunEventType string

const (
	RunEventPhaseCompleted RunEventType = "PhaseCompleted" // 工作流阶段完成
	RunEventStatusChanged  RunEventType = "StatusChanged"  // 运行状态变化
)

// RunEvent 生成运行事件
type RunEvent struct {
	Type     RunEventType
	RunID    string
	Phase    string // 阶段完成事件携带
	Progress int    // 0-100
	Status   string // 状态变化事件携带
	Message  string
}

type RunEventHandler = Handler[RunEvent]
type RunEventBus = Bus[RunEventType, RunEvent]

func NewRunEventBus() *RunEventBus {
	return NewBus[RunEventType, RunEvent]()
}
