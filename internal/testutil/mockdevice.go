package testutil

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"InterviewOrchestrator/internal/media"
	"InterviewOrchestrator/internal/playback"
)

// MockTrack 测试用媒体轨，记录Stop调用供资源回滚验证
type MockTrack struct {
	id      string
	kind    media.TrackKind
	label   string
	surface media.SurfaceKind
	stopped atomic.Bool
}

// NewMockTrack 创建测试媒体轨
func NewMockTrack(id string, kind media.TrackKind, label string, surface media.SurfaceKind) *MockTrack {
	return &MockTrack{id: id, kind: kind, label: label, surface: surface}
}

func (t *MockTrack) ID() string                 { return t.id }
func (t *MockTrack) Kind() media.TrackKind      { return t.kind }
func (t *MockTrack) Label() string              { return t.label }
func (t *MockTrack) Surface() media.SurfaceKind { return t.surface }
func (t *MockTrack) Stop()                      { t.stopped.Store(true) }
func (t *MockTrack) Stopped() bool              { return t.stopped.Load() }

// StaticChunkSource 每次读取返回一份固定分片，关闭后返回io.EOF
type StaticChunkSource struct {
	chunk  []byte
	closed atomic.Bool
	reads  atomic.Int64
}

// NewStaticChunkSource 创建固定分片源
func NewStaticChunkSource(chunk []byte) *StaticChunkSource {
	return &StaticChunkSource{chunk: chunk}
}

func (s *StaticChunkSource) ReadChunk(ctx context.Context) ([]byte, error) {
	if s.closed.Load() {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.reads.Add(1)
	return append([]byte{}, s.chunk...), nil
}

// Close 关闭分片源
func (s *StaticChunkSource) Close() { s.closed.Store(true) }

// Reads 返回读取次数
func (s *StaticChunkSource) Reads() int64 { return s.reads.Load() }

// FrameFeed 测试用麦克风帧源：通过Push注入PCM帧
type FrameFeed struct {
	ch        chan []int16
	closeOnce sync.Once
}

// NewFrameFeed 创建帧源
func NewFrameFeed() *FrameFeed {
	return &FrameFeed{ch: make(chan []int16, 64)}
}

// Push 注入一帧采样
func (f *FrameFeed) Push(samples []int16) {
	f.ch <- samples
}

// Close 关闭帧源，后续ReadFrame返回io.EOF
func (f *FrameFeed) Close() {
	f.closeOnce.Do(func() { close(f.ch) })
}

func (f *FrameFeed) ReadFrame(ctx context.Context) ([]int16, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case samples, ok := <-f.ch:
		if !ok {
			return nil, io.EOF
		}
		return samples, nil
	}
}

// MockSink 测试用播放输出端
// Play阻塞PlayDelay时长（模拟真实播放），可被ctx取消或Stop中断
type MockSink struct {
	PlayDelay time.Duration

	mu        sync.Mutex
	started   [][]float32
	completed int
	stopCh    chan struct{}
}

// NewMockSink 创建测试输出端
func NewMockSink(playDelay time.Duration) *MockSink {
	return &MockSink{PlayDelay: playDelay}
}

func (s *MockSink) Play(ctx context.Context, samples []float32) error {
	s.mu.Lock()
	s.started = append(s.started, samples)
	stopCh := make(chan struct{})
	s.stopCh = stopCh
	s.mu.Unlock()

	select {
	case <-time.After(s.PlayDelay):
		s.mu.Lock()
		s.completed++
		s.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-stopCh:
		return fmt.Errorf("playback interrupted")
	}
}

func (s *MockSink) Stop() {
	s.mu.Lock()
	stopCh := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
}

// Started 返回开始播放过的块
func (s *MockSink) Started() [][]float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]float32{}, s.started...)
}

// Completed 返回完整播放完成的块数
func (s *MockSink) Completed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// MockSynthesis 测试用合成目的地：写入即返回，累积全部采样
type MockSynthesis struct {
	track *MockTrack

	mu      sync.Mutex
	samples []float32
	stopped bool
}

// NewMockSynthesis 创建合成目的地
func NewMockSynthesis() *MockSynthesis {
	return &MockSynthesis{
		track: NewMockTrack("synth-audio", media.TrackAudio, "synthesis destination", media.SurfaceNone),
	}
}

func (m *MockSynthesis) Play(ctx context.Context, samples []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples = append(m.samples, samples...)
	return nil
}

func (m *MockSynthesis) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

func (m *MockSynthesis) Track() media.Track { return m.track }

// Samples 返回已写入的全部采样
func (m *MockSynthesis) Samples() []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float32{}, m.samples...)
}

// MockDeviceProvider 测试用设备提供者，按开关模拟平台能力和授权结果
type MockDeviceProvider struct {
	DisplaySupported bool
	DenyMicrophone   bool
	DenyCamera       bool

	// 屏幕共享返回的表面类型与是否带音频轨
	DisplaySurface media.SurfaceKind
	DisplayAudio   bool

	// PlaybackDelay 本地输出端模拟播放时长
	PlaybackDelay time.Duration

	MicFeed *FrameFeed
	Output  *MockSink

	mu     sync.Mutex
	tracks []*MockTrack
}

// NewMockDeviceProvider 创建桌面profile的默认mock（整屏+音频+摄像头可用）
func NewMockDeviceProvider() *MockDeviceProvider {
	return &MockDeviceProvider{
		DisplaySupported: true,
		DisplaySurface:   media.SurfaceMonitor,
		DisplayAudio:     true,
		PlaybackDelay:    20 * time.Millisecond,
		MicFeed:          NewFrameFeed(),
	}
}

func (p *MockDeviceProvider) Capabilities() media.Capabilities {
	return media.Capabilities{DisplayCapture: p.DisplaySupported}
}

func (p *MockDeviceProvider) newTrack(id string, kind media.TrackKind, label string, surface media.SurfaceKind) *MockTrack {
	t := NewMockTrack(id, kind, label, surface)

	p.mu.Lock()
	p.tracks = append(p.tracks, t)
	p.mu.Unlock()

	return t
}

func (p *MockDeviceProvider) CaptureDisplay(ctx context.Context, withAudio bool) (*media.Stream, error) {
	if !p.DisplaySupported {
		return nil, media.ErrNotSupported
	}

	tracks := []media.Track{
		p.newTrack("display-video", media.TrackVideo, "screen", p.DisplaySurface),
	}
	if withAudio && p.DisplayAudio {
		tracks = append(tracks, p.newTrack("display-audio", media.TrackAudio, "system audio", media.SurfaceNone))
	}

	return media.NewStream("display", NewStaticChunkSource([]byte("DISP")), tracks...), nil
}

func (p *MockDeviceProvider) CaptureMicrophone(ctx context.Context) (*media.Stream, error) {
	if p.DenyMicrophone {
		return nil, media.ErrPermissionDenied
	}

	track := p.newTrack("mic-audio", media.TrackAudio, "microphone", media.SurfaceNone)
	return media.NewStreamWithFrames("microphone", NewStaticChunkSource([]byte("MIC")), p.MicFeed, track), nil
}

func (p *MockDeviceProvider) CaptureCamera(ctx context.Context, constraints media.CameraConstraints) (*media.Stream, error) {
	if p.DenyCamera {
		return nil, media.ErrPermissionDenied
	}

	track := p.newTrack("camera-video", media.TrackVideo, "camera", media.SurfaceNone)
	return media.NewStream("camera", NewStaticChunkSource([]byte("CAM")), track), nil
}

func (p *MockDeviceProvider) NewSynthesisDestination() media.SynthesisDestination {
	synth := NewMockSynthesis()

	p.mu.Lock()
	p.tracks = append(p.tracks, synth.track)
	p.mu.Unlock()

	return synth
}

func (p *MockDeviceProvider) NewPlaybackSink() playback.Sink {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Output == nil {
		p.Output = NewMockSink(p.PlaybackDelay)
	}
	return p.Output
}

func (p *MockDeviceProvider) Compose(id string, tracks ...media.Track) *media.Stream {
	return media.NewStream(id, NewStaticChunkSource([]byte("COMBINED")), tracks...)
}

// CreatedTracks 返回已创建的全部媒体轨（用于释放验证）
func (p *MockDeviceProvider) CreatedTracks() []*MockTrack {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*MockTrack{}, p.tracks...)
}

// AllTracksStopped 返回是否所有已创建的轨都已停止
func (p *MockDeviceProvider) AllTracksStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, t := range p.tracks {
		if !t.Stopped() {
			return false
		}
	}
	return true
}
