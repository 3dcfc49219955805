package transcript

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Speaker 发言方
type Speaker string

const (
	SpeakerCandidate   Speaker = "candidate"
	SpeakerInterviewer Speaker = "interviewer"
)

// Entry 单条转写记录
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
}

// Log 有序的会话转写日志
// 候选人发言总是追加新条目；面试官的增量片段在条目未被打断前持续合并
// 只有会话控制器的消息分发路径允许写入
type Log struct {
	mu      sync.RWMutex
	entries []Entry

	// 最近一条面试官条目是否仍处于"开放"状态（未被候选人发言打断）
	interviewerOpen bool
}

// NewLog 创建空转写日志
func NewLog() *Log {
	return &Log{
		entries: make([]Entry, 0, 64),
	}
}

// AppendCandidate 追加一条完整的候选人发言，并关闭当前面试官条目
func (l *Log) AppendCandidate(text string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Speaker:   SpeakerCandidate,
		Text:      text,
	}

	l.entries = append(l.entries, entry)
	l.interviewerOpen = false

	return entry
}

// AppendInterviewerFragment 合并面试官增量片段
// 若最近条目是开放的面试官条目则追加文本，否则开启新条目
func (l *Log) AppendInterviewerFragment(fragment string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.interviewerOpen && len(l.entries) > 0 {
		last := &l.entries[len(l.entries)-1]
		if last.Speaker == SpeakerInterviewer {
			last.Text += fragment
			return *last
		}
	}

	entry := Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Speaker:   SpeakerInterviewer,
		Text:      fragment,
	}

	l.entries = append(l.entries, entry)
	l.interviewerOpen = true

	return entry
}

// Entries 返回转写条目快照（按到达顺序）
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return append([]Entry{}, l.entries...)
}

// Len 返回条目数量
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.entries)
}
