package recording

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"InterviewOrchestrator/internal/media"
)

// Recorder 从单个媒体源按固定时间片拉取数据并在内存累积
// 会话期间所有分片都保留在内存里，结束后一次性上传
type Recorder struct {
	name     string
	source   media.ChunkSource
	interval time.Duration

	mu     sync.Mutex
	chunks [][]byte

	running  atomic.Bool
	stopChan chan struct{}
	doneChan chan struct{}
	cancel   context.CancelFunc
}

// NewRecorder 创建录制器
func NewRecorder(name string, source media.ChunkSource, interval time.Duration) *Recorder {
	return &Recorder{
		name:     name,
		source:   source,
		interval: interval,
		chunks:   make([][]byte, 0, 256),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start 启动采集循环
func (r *Recorder) Start(ctx context.Context) error {
	if r.source == nil {
		return errors.New("recorder has no chunk source")
	}

	if !r.running.CompareAndSwap(false, true) {
		return errors.New("recorder already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	go r.captureLoop(loopCtx)
	return nil
}

// captureLoop 每个时间片从源读取一个分片
func (r *Recorder) captureLoop(ctx context.Context) {
	defer close(r.doneChan)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			// 停止前抓取最后一个分片，避免丢失尾部数据
			r.readOne(ctx)
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.readOne(ctx) {
				return
			}
		}
	}
}

func (r *Recorder) readOne(ctx context.Context) bool {
	chunk, err := r.source.ReadChunk(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			return false
		}
		log.Printf("Recorder %s read chunk failed: %v", r.name, err)
		return true
	}

	if len(chunk) == 0 {
		return true
	}

	r.mu.Lock()
	r.chunks = append(r.chunks, chunk)
	r.mu.Unlock()
	return true
}

// Stop 停止采集并等待循环退出
// 必须在源流被释放之前调用，否则尾部数据可能损坏
func (r *Recorder) Stop() {
	if !r.running.CompareAndSwap(true, false) {
		return
	}

	close(r.stopChan)
	<-r.doneChan

	if r.cancel != nil {
		r.cancel()
	}
}

// Running 返回录制器是否在运行
func (r *Recorder) Running() bool {
	return r.running.Load()
}

// Bytes 返回当前累积数据的拷贝
func (r *Recorder) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0
	for _, c := range r.chunks {
		total += len(c)
	}

	out := make([]byte, 0, total)
	for _, c := range r.chunks {
		out = append(out, c...)
	}
	return out
}

// ChunkCount 返回已累积分片数量
func (r *Recorder) ChunkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.chunks)
}
