package session

// State 会话状态
// 状态只能单向前进：Ready→Calibrating→Initializing→Connecting→Active→Ending→Complete，
// 任意非终态可进入Error；Error和Complete是终态，不再接受任何转换
type State int32

const (
	StateReady State = iota
	StateCalibrating
	StateInitializing
	StateConnecting
	StateActive
	StateEnding
	StateComplete
	StateError
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "READY"
	case StateCalibrating:
		return "CALIBRATING"
	case StateInitializing:
		return "INITIALIZING"
	case StateConnecting:
		return "CONNECTING"
	case StateActive:
		return "ACTIVE"
	case StateEnding:
		return "ENDING"
	case StateComplete:
		return "COMPLETE"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Terminal 返回是否为终态
func (s State) Terminal() bool {
	return s == StateComplete || s == StateError
}

// validTransition 验证状态转换合法性
func validTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}

	if to == StateError {
		return true
	}

	// 正常路径只允许前进一步
	return to == from+1 && to <= StateComplete
}
