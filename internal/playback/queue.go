package playback

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
)

// Sink 音频输出端
// Play在播放完成前阻塞，且必须响应ctx取消；Stop立即中断当前播放
type Sink interface {
	Play(ctx context.Context, samples []float32) error
	Stop()
}

// Queue 面试官音频播放队列
// 保证严格按入队顺序、无重叠地播放，同一时刻最多一个块在播；
// 每个播放的块同时路由到本地输出和合成目的地（录制管线由此取得面试官音频）
type Queue struct {
	output Sink // 本地扬声器输出，逐块等待播放完成
	synth  Sink // 合成目的地，写入即返回

	mu       sync.Mutex
	pending  [][]float32
	draining bool
	cancel   context.CancelFunc // 当前播放块的取消函数

	played  atomic.Int64
	dropped atomic.Int64
	skipped atomic.Int64
}

// NewQueue 创建播放队列
// synth可以为nil（无录制场景，例如单元测试）
func NewQueue(output Sink, synth Sink) *Queue {
	if output == nil {
		panic("output sink cannot be nil")
	}

	return &Queue{
		output:  output,
		synth:   synth,
		pending: make([][]float32, 0, 16),
	}
}

// Enqueue 追加一个解码后的音频块
// 若当前没有活跃的排空循环则启动一个；循环在队列清空后自然退出
func (q *Queue) Enqueue(samples []float32) {
	if len(samples) == 0 {
		return
	}

	q.mu.Lock()
	q.pending = append(q.pending, samples)
	startDrain := !q.draining
	if startDrain {
		q.draining = true
	}
	q.mu.Unlock()

	if startDrain {
		go q.drainLoop()
	}
}

// drainLoop 逐块排空队列，每块等待播放完成后再取下一块
func (q *Queue) drainLoop() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.draining = false
			q.cancel = nil
			q.mu.Unlock()
			return
		}

		chunk := q.pending[0]
		q.pending = q.pending[1:]

		ctx, cancel := context.WithCancel(context.Background())
		q.cancel = cancel
		q.mu.Unlock()

		// 先写合成目的地再播放，保证录制时间线与候选人听到的一致
		if q.synth != nil {
			if err := q.synth.Play(ctx, chunk); err != nil {
				log.Printf("Synthesis sink write failed: %v", err)
			}
		}

		if err := q.output.Play(ctx, chunk); err != nil {
			// 失败的块直接跳过，不重试也不阻塞后续块
			if ctx.Err() == nil {
				log.Printf("Playback chunk failed, skipping: %v", err)
				q.skipped.Add(1)
			}
		} else {
			q.played.Add(1)
		}

		cancel()
	}
}

// StopAll 立即停止播放并清空队列（barge-in）
// 对空闲队列调用是安全的no-op
func (q *Queue) StopAll() {
	q.mu.Lock()
	dropped := len(q.pending)
	q.pending = q.pending[:0]
	cancel := q.cancel
	q.cancel = nil
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.output.Stop()

	if dropped > 0 {
		q.dropped.Add(int64(dropped))
	}
}

// Len 返回当前排队块数（不含正在播放的块）
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pending)
}

// Stats 返回播放统计
func (q *Queue) Stats() map[string]interface{} {
	return map[string]interface{}{
		"played":  q.played.Load(),
		"dropped": q.dropped.Load(),
		"skipped": q.skipped.Load(),
	}
}
