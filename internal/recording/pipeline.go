package recording

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"InterviewOrchestrator/internal/media"
)

// Uploader 录像上传端，api.Client满足此接口
type Uploader interface {
	SaveRecording(ctx context.Context, sessionID string, data []byte) error
	SaveCameraRecording(ctx context.Context, sessionID string, data []byte) error
}

// PipelineConfig 录制管线配置
type PipelineConfig struct {
	// ChunkInterval 录制分片时间片
	ChunkInterval time.Duration
	// CameraStartDelay 纯摄像头录制器的延迟启动时间，避开设备初始化竞争
	CameraStartDelay time.Duration
	// FlushGrace 停止录制后、上传前等待尾部分片落盘的宽限时间
	FlushGrace time.Duration
}

// DefaultPipelineConfig 返回默认配置
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		ChunkInterval:    1 * time.Second,
		CameraStartDelay: 800 * time.Millisecond,
		FlushGrace:       1500 * time.Millisecond,
	}
}

// Pipeline 录制管线：每场会话产出两份制品
// 组合制品（主视觉流+麦克风+合成面试官音频）和纯摄像头制品，
// 各自最多上传一次，上传失败只记日志不阻塞会话完成
type Pipeline struct {
	config    *PipelineConfig
	uploader  Uploader
	sessionID string

	combined *Recorder
	camera   *Recorder // 无摄像头（移动端降级）时为nil

	cameraTimer *time.Timer
	timerMu     sync.Mutex

	stopOnce   sync.Once
	uploadOnce sync.Once
}

// NewPipeline 基于已获取的设备资源构建录制管线
func NewPipeline(config *PipelineConfig, uploader Uploader, sessionID string, acq *media.Acquisition) *Pipeline {
	if config == nil {
		config = DefaultPipelineConfig()
	}

	p := &Pipeline{
		config:    config,
		uploader:  uploader,
		sessionID: sessionID,
	}

	if acq.Combined != nil && acq.Combined.Source() != nil {
		p.combined = NewRecorder("combined", acq.Combined.Source(), config.ChunkInterval)
	}

	if acq.Camera != nil && acq.Camera.Source() != nil {
		p.camera = NewRecorder("camera", acq.Camera.Source(), config.ChunkInterval)
	}

	return p
}

// Start 启动录制
// 组合录制器立即启动；摄像头录制器延迟启动，等待设备出流稳定
func (p *Pipeline) Start(ctx context.Context) error {
	if p.combined == nil {
		return errors.New("pipeline has no combined recorder")
	}

	if err := p.combined.Start(ctx); err != nil {
		return err
	}

	if p.camera != nil {
		p.timerMu.Lock()
		p.cameraTimer = time.AfterFunc(p.config.CameraStartDelay, func() {
			if err := p.camera.Start(ctx); err != nil {
				log.Printf("Camera recorder start failed: %v", err)
			}
		})
		p.timerMu.Unlock()
	}

	return nil
}

// Stop 停止全部录制器
// 调用方必须保证在释放设备流之前调用，幂等
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.timerMu.Lock()
		if p.cameraTimer != nil {
			p.cameraTimer.Stop()
		}
		p.timerMu.Unlock()

		if p.combined != nil {
			p.combined.Stop()
		}
		if p.camera != nil {
			p.camera.Stop()
		}
	})
}

// Upload 等待宽限时间后上传两份制品，尽力而为
// 任何一份失败都只记日志，不影响另一份也不阻塞会话完成
func (p *Pipeline) Upload(ctx context.Context) {
	p.uploadOnce.Do(func() {
		select {
		case <-time.After(p.config.FlushGrace):
		case <-ctx.Done():
		}

		if p.combined != nil {
			data := p.combined.Bytes()
			if len(data) == 0 {
				log.Printf("Combined recording is empty, skipping upload")
			} else if err := p.uploader.SaveRecording(ctx, p.sessionID, data); err != nil {
				log.Printf("Combined recording upload failed: %v", err)
			} else {
				log.Printf("Combined recording uploaded: %d bytes", len(data))
			}
		}

		if p.camera != nil {
			data := p.camera.Bytes()
			if len(data) == 0 {
				log.Printf("Camera recording is empty, skipping upload")
			} else if err := p.uploader.SaveCameraRecording(ctx, p.sessionID, data); err != nil {
				log.Printf("Camera recording upload failed: %v", err)
			} else {
				log.Printf("Camera recording uploaded: %d bytes", len(data))
			}
		}
	})
}

// CombinedRecorder 返回组合录制器（测试用）
func (p *Pipeline) CombinedRecorder() *Recorder {
	return p.combined
}

// CameraRecorder 返回摄像头录制器（测试用，可能为nil）
func (p *Pipeline) CameraRecorder() *Recorder {
	return p.camera
}
