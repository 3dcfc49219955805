package media

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	ErrSurfaceNotMonitor = errors.New("screen share must cover the entire screen, not a window or browser tab")
	ErrNoShareAudio      = errors.New("screen share must include system audio")
	ErrMicrophoneDenied  = errors.New("microphone access is required")
	ErrCameraRequired    = errors.New("camera access is required for desktop interviews")
)

// Acquisition 一次会话独占持有的全部设备资源
// 所有访问都经由MediaAcquisition/RecordingPipeline/AudioPlaybackQueue，
// 终态转换时必须恰好释放一次，重复释放是安全的no-op
type Acquisition struct {
	Display    *Stream // 屏幕捕获流，移动端profile为nil
	Microphone *Stream
	Camera     *Stream // 移动端摄像头被拒时为nil
	Synthesis  SynthesisDestination
	Combined   *Stream // 组合录制流：主视觉轨 + 麦克风 + 合成音频

	released atomic.Bool
}

// PrimaryVisual 返回组合录制使用的主视觉流（优先屏幕，其次摄像头）
func (a *Acquisition) PrimaryVisual() *Stream {
	if a.Display != nil {
		return a.Display
	}
	return a.Camera
}

// Release 停止并释放全部已获取的设备轨，幂等
func (a *Acquisition) Release() {
	if !a.released.CompareAndSwap(false, true) {
		return
	}

	if a.Synthesis != nil {
		a.Synthesis.Stop()
	}
	for _, s := range []*Stream{a.Display, a.Camera, a.Microphone} {
		if s != nil {
			s.Stop()
		}
	}
	if a.Synthesis != nil && a.Synthesis.Track() != nil {
		a.Synthesis.Track().Stop()
	}
}

// Released 返回是否已释放
func (a *Acquisition) Released() bool {
	return a.released.Load()
}

// Acquire 按面试策略获取最小必要的捕获设备
//
// 桌面profile：整屏共享（含系统音频）+ 麦克风 + 摄像头，三者缺一不可；
// 移动profile：麦克风必需，摄像头尽力而为。
// 屏幕授权后的任何策略违规或设备拒绝都会先回滚已获取的轨再返回错误，
// 不泄漏任何设备句柄
func Acquire(ctx context.Context, provider DeviceProvider, constraints CameraConstraints) (*Acquisition, error) {
	caps := provider.Capabilities()

	var display *Stream
	if caps.DisplayCapture {
		stream, err := provider.CaptureDisplay(ctx, true)
		if err != nil {
			return nil, fmt.Errorf("display capture failed: %w", err)
		}

		if err := validateDisplay(stream); err != nil {
			stream.Stop()
			return nil, err
		}
		display = stream
	}

	mic, err := provider.CaptureMicrophone(ctx)
	if err != nil {
		rollback(display)
		return nil, fmt.Errorf("%w: %v", ErrMicrophoneDenied, err)
	}

	camera, err := provider.CaptureCamera(ctx, constraints)
	if err != nil {
		if caps.DisplayCapture {
			// 桌面面试必须有摄像头画面供事后复核
			rollback(display, mic)
			return nil, fmt.Errorf("%w: %v", ErrCameraRequired, err)
		}
		// 移动端降级为纯麦克风
		camera = nil
	}

	synth := provider.NewSynthesisDestination()

	combined := composeCombined(provider, display, camera, mic, synth)

	return &Acquisition{
		Display:    display,
		Microphone: mic,
		Camera:     camera,
		Synthesis:  synth,
		Combined:   combined,
	}, nil
}

// validateDisplay 验证屏幕共享满足面试策略：整屏表面 + 含音频轨
func validateDisplay(stream *Stream) error {
	videos := stream.VideoTracks()
	if len(videos) == 0 {
		return fmt.Errorf("%w: no video track granted", ErrSurfaceNotMonitor)
	}

	for _, t := range videos {
		if t.Surface() != SurfaceMonitor {
			return fmt.Errorf("%w: got surface %q", ErrSurfaceNotMonitor, t.Surface())
		}
	}

	if len(stream.AudioTracks()) == 0 {
		return ErrNoShareAudio
	}

	return nil
}

// composeCombined 组合录制流：屏幕视频轨（无屏幕时为摄像头）+ 麦克风音频 + 合成音频
func composeCombined(provider DeviceProvider, display, camera, mic *Stream, synth SynthesisDestination) *Stream {
	tracks := make([]Track, 0, 4)

	if display != nil {
		tracks = append(tracks, display.VideoTracks()...)
	} else if camera != nil {
		tracks = append(tracks, camera.VideoTracks()...)
	}

	tracks = append(tracks, mic.AudioTracks()...)

	if synth.Track() != nil {
		tracks = append(tracks, synth.Track())
	}

	return provider.Compose("combined", tracks...)
}

// rollback 释放已获取的流，保证失败路径不泄漏句柄
func rollback(streams ...*Stream) {
	for _, s := range streams {
		if s != nil {
			s.Stop()
		}
	}
}
