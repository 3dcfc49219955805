package media

import (
	"context"
	"errors"
	"sync"

	"InterviewOrchestrator/internal/playback"
)

// TrackKind 媒体轨类型
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// SurfaceKind 屏幕共享表面类型（仅显示捕获的视频轨有意义）
type SurfaceKind string

const (
	SurfaceNone    SurfaceKind = ""
	SurfaceMonitor SurfaceKind = "monitor"
	SurfaceWindow  SurfaceKind = "window"
	SurfaceBrowser SurfaceKind = "browser"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotSupported     = errors.New("capture not supported on this platform")
)

// Track 单条媒体轨
// Stop必须幂等；Stopped用于验证资源回滚
type Track interface {
	ID() string
	Kind() TrackKind
	Label() string
	Surface() SurfaceKind
	Stop()
	Stopped() bool
}

// ChunkSource 按时间片输出已编码媒体数据，供录制器拉取
// 返回io.EOF表示源已关闭
type ChunkSource interface {
	ReadChunk(ctx context.Context) ([]byte, error)
}

// FrameSource 按帧输出PCM16采样，供出站音频泵拉取
// 返回io.EOF表示源已关闭
type FrameSource interface {
	ReadFrame(ctx context.Context) ([]int16, error)
}

// Stream 一组媒体轨及其可录制数据源
type Stream struct {
	id     string
	mu     sync.RWMutex
	tracks []Track
	source ChunkSource
	frames FrameSource
}

// NewStream 创建媒体流
func NewStream(id string, source ChunkSource, tracks ...Track) *Stream {
	return &Stream{
		id:     id,
		source: source,
		tracks: append([]Track{}, tracks...),
	}
}

// NewStreamWithFrames 创建带PCM帧源的媒体流（麦克风）
func NewStreamWithFrames(id string, source ChunkSource, frames FrameSource, tracks ...Track) *Stream {
	s := NewStream(id, source, tracks...)
	s.frames = frames
	return s
}

// ID 返回流标识
func (s *Stream) ID() string {
	return s.id
}

// Tracks 返回全部媒体轨快照
func (s *Stream) Tracks() []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]Track{}, s.tracks...)
}

// AudioTracks 返回音频轨
func (s *Stream) AudioTracks() []Track {
	return s.tracksOf(TrackAudio)
}

// VideoTracks 返回视频轨
func (s *Stream) VideoTracks() []Track {
	return s.tracksOf(TrackVideo)
}

func (s *Stream) tracksOf(kind TrackKind) []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// Source 返回录制数据源（可能为nil）
func (s *Stream) Source() ChunkSource {
	return s.source
}

// Frames 返回PCM帧源（仅麦克风流有，其余为nil）
func (s *Stream) Frames() FrameSource {
	return s.frames
}

// Stop 停止流内所有媒体轨
func (s *Stream) Stop() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tracks {
		t.Stop()
	}
}

// SynthesisDestination 合成音频目的地
// 面试官的播放音频同时写入此处；其音轨被并入组合录制流，
// 保证录音里听到的与候选人听到的一致
type SynthesisDestination interface {
	playback.Sink
	Track() Track

	// Samples 返回已写入的全部PCM采样快照，供会话结束后导出留档
	Samples() []float32
}

// Capabilities 平台捕获能力
type Capabilities struct {
	DisplayCapture bool // 是否支持屏幕/显示捕获（桌面profile）
}

// CameraConstraints 摄像头分辨率约束
type CameraConstraints struct {
	MinWidth    int
	MinHeight   int
	IdealWidth  int
	IdealHeight int
}

// DefaultCameraConstraints 面试策略要求的摄像头约束
func DefaultCameraConstraints() CameraConstraints {
	return CameraConstraints{
		MinWidth:    640,
		MinHeight:   480,
		IdealWidth:  1280,
		IdealHeight: 720,
	}
}

// DeviceProvider 设备捕获提供者
// 生产实现绑定具体平台；测试使用testutil中的mock实现
type DeviceProvider interface {
	Capabilities() Capabilities

	// CaptureDisplay 请求屏幕捕获（含系统音频）
	CaptureDisplay(ctx context.Context, withAudio bool) (*Stream, error)

	// CaptureMicrophone 请求麦克风音频
	CaptureMicrophone(ctx context.Context) (*Stream, error)

	// CaptureCamera 按约束请求摄像头视频
	CaptureCamera(ctx context.Context, constraints CameraConstraints) (*Stream, error)

	// NewSynthesisDestination 创建合成音频目的地
	NewSynthesisDestination() SynthesisDestination

	// NewPlaybackSink 创建本地音频输出端（扬声器）
	NewPlaybackSink() playback.Sink

	// Compose 将多条媒体轨组合为一个可录制流
	Compose(id string, tracks ...Track) *Stream
}
