package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"InterviewOrchestrator/internal/api"
	"InterviewOrchestrator/internal/audio"
	"InterviewOrchestrator/internal/config"
	"InterviewOrchestrator/internal/media"
	"InterviewOrchestrator/internal/playback"
	"InterviewOrchestrator/internal/recording"
	"InterviewOrchestrator/internal/transcript"
	"InterviewOrchestrator/internal/transport"
)

// Collaborator 外部调度协作方操作，api.Client满足此接口
type Collaborator interface {
	StartSession(ctx context.Context, jobID, email string) (*api.StartSessionResponse, error)
	SaveCalibration(ctx context.Context, sessionID string, images [][]byte) error
	SaveRecording(ctx context.Context, sessionID string, data []byte) error
	SaveCameraRecording(ctx context.Context, sessionID string, data []byte) error
	CompleteSession(ctx context.Context, sessionID, jobID, email string) error
}

// StateChangeHandler 状态变化处理器
type StateChangeHandler func(oldState, newState State)

// Controller 会话控制器
// 会话状态的唯一权威：所有状态转换都由它发起，其余组件的生命周期都由它排序。
// 消息分发、定时器回调与终止操作通过互斥锁串行化，不会并发访问共享会话状态
type Controller struct {
	config   *config.Config
	provider media.DeviceProvider
	collab   Collaborator

	jobID          string
	candidateEmail string

	state atomic.Int32
	mu    sync.Mutex

	session     *Session
	calibration *CalibrationSet
	acq         *media.Acquisition
	channel     *transport.Channel
	queue       *playback.Queue
	pipeline    *recording.Pipeline
	transcript  *transcript.Log
	lastFailure *Failure

	runCtx  context.Context
	runStop context.CancelFunc

	// 防止重复触发启动：同一控制器实例只允许一次启动流程
	startInFlight atomic.Bool
	micTimer      *time.Timer

	// 屏幕共享中途断开是告警而非状态
	screenShareDropped atomic.Bool

	onStateChange StateChangeHandler
}

// NewController 创建会话控制器
func NewController(cfg *config.Config, provider media.DeviceProvider, collab Collaborator, jobID, candidateEmail string) *Controller {
	if cfg == nil || provider == nil || collab == nil {
		panic("config, provider and collaborator cannot be nil")
	}

	runCtx, runStop := context.WithCancel(context.Background())

	c := &Controller{
		config:         cfg,
		provider:       provider,
		collab:         collab,
		jobID:          jobID,
		candidateEmail: candidateEmail,
		transcript:     transcript.NewLog(),
		runCtx:         runCtx,
		runStop:        runStop,
	}

	c.state.Store(int32(StateReady))
	return c
}

// SetStateChangeHandler 设置状态变化处理器（供UI层订阅）
func (c *Controller) SetStateChangeHandler(handler StateChangeHandler) {
	c.onStateChange = handler
}

// State 返回当前会话状态
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Transcript 返回转写日志（外部只读）
func (c *Controller) Transcript() *transcript.Log {
	return c.transcript
}

// CurrentSession 返回当前会话快照
func (c *Controller) CurrentSession() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil
	}
	copied := *c.session
	return &copied
}

// LastFailure 返回最近的致命失败（用于UI文案）
func (c *Controller) LastFailure() *Failure {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastFailure
}

// ScreenShareDropped 返回屏幕共享是否在会话中途断开
func (c *Controller) ScreenShareDropped() bool {
	return c.screenShareDropped.Load()
}

// transition 原子状态转换，非法转换返回false
func (c *Controller) transition(to State) bool {
	for {
		from := State(c.state.Load())
		if !validTransition(from, to) {
			return false
		}
		if c.state.CompareAndSwap(int32(from), int32(to)) {
			log.Printf("Session state: %s -> %s", from, to)
			if c.onStateChange != nil {
				c.onStateChange(from, to)
			}
			return true
		}
	}
}

// Begin 用户同意开始面试：Ready→Calibrating
// 设备访问此时尚未发生，捕获授权弹窗需要显式用户操作触发
func (c *Controller) Begin() error {
	if c.State() != StateReady {
		return fmt.Errorf("cannot begin in state %s", c.State())
	}

	if !c.transition(StateCalibrating) {
		return fmt.Errorf("cannot begin in state %s", c.State())
	}
	return nil
}

// SubmitCalibration 提交4张有序标定图并启动会话
// 重复触发（快速连点）是no-op：同一控制器实例只会创建一个会话
func (c *Controller) SubmitCalibration(images [][]byte) error {
	set, err := NewCalibrationSet(images)
	if err != nil {
		return err
	}

	if c.State() != StateCalibrating {
		return fmt.Errorf("cannot submit calibration in state %s", c.State())
	}

	if !c.startInFlight.CompareAndSwap(false, true) {
		// 启动已在进行中
		return nil
	}

	c.mu.Lock()
	c.calibration = set
	c.mu.Unlock()

	return c.start()
}

// start 执行启动序列：注册→设备获取→通道握手→进入Active
func (c *Controller) start() error {
	ctx := c.runCtx

	if !c.transition(StateInitializing) {
		return fmt.Errorf("cannot start in state %s", c.State())
	}

	resp, err := c.collab.StartSession(ctx, c.jobID, c.candidateEmail)
	if err != nil {
		var f *Failure
		if errors.Is(err, api.ErrAlreadyCompleted) {
			f = NewFailure(FailureAlreadyCompleted,
				"this interview has already been completed", err)
		} else {
			f = NewFailure(FailureInternal, "session registration failed", err)
		}
		c.fail(f)
		return f
	}

	c.mu.Lock()
	c.session = &Session{
		ID:             resp.SessionID,
		JobID:          c.jobID,
		CandidateEmail: c.candidateEmail,
		ChannelAddress: resp.ChannelAddress,
		CreatedAt:      time.Now(),
	}
	c.mu.Unlock()

	if !c.transition(StateConnecting) {
		return c.LastFailure()
	}

	constraints := media.CameraConstraints{
		MinWidth:    c.config.Media.MinWidth,
		MinHeight:   c.config.Media.MinHeight,
		IdealWidth:  c.config.Media.IdealWidth,
		IdealHeight: c.config.Media.IdealHeight,
	}

	acq, err := media.Acquire(ctx, c.provider, constraints)
	if err != nil {
		f := classifyMediaError(err)
		c.fail(f)
		return f
	}

	c.mu.Lock()
	c.acq = acq
	c.queue = playback.NewQueue(c.provider.NewPlaybackSink(), acq.Synthesis)
	c.mu.Unlock()

	channelConfig := &transport.ChannelConfig{
		URL:               resp.ChannelAddress,
		HandshakeTimeout:  c.config.Channel.HandshakeTimeout,
		WriteTimeout:      c.config.Channel.WriteTimeout,
		DialRetryInterval: c.config.Channel.DialRetryInterval,
		MaxDialTries:      c.config.Channel.MaxDialTries,
		EnableCompression: c.config.Channel.EnableCompression,
		UserAgent:         "InterviewOrchestrator/1.0",
	}

	channel := transport.NewChannel(channelConfig)
	channel.SetMessageHandler(c.handleEnvelope)
	channel.SetCloseHandler(c.handleChannelClose)

	if err := channel.Open(ctx); err != nil {
		acq.Release()
		f := NewFailure(FailureChannel, "connection to the interview service failed", err)
		c.fail(f)
		return f
	}

	c.mu.Lock()
	c.channel = channel
	c.mu.Unlock()

	if !c.transition(StateActive) {
		return c.LastFailure()
	}

	if err := channel.SendStart(resp.SessionID); err != nil {
		log.Printf("Send start announcement failed: %v", err)
	}

	// 标定图上传：一次性、尽力而为、不阻塞会话
	go c.uploadCalibration()

	pipelineConfig := &recording.PipelineConfig{
		ChunkInterval:    c.config.Timing.ChunkInterval,
		CameraStartDelay: c.config.Timing.CameraRecorderDelay,
		FlushGrace:       c.config.Timing.FlushGrace,
	}

	pipeline := recording.NewPipeline(pipelineConfig, c.collab, resp.SessionID, acq)
	if err := pipeline.Start(ctx); err != nil {
		log.Printf("Recording pipeline start failed: %v", err)
	}

	c.mu.Lock()
	c.pipeline = pipeline
	// 延迟启动麦克风采集，避免开场白触发远端话轮检测
	c.micTimer = time.AfterFunc(c.config.Timing.MicStartDelay, func() {
		c.micPump(ctx)
	})
	c.mu.Unlock()

	if acq.Display != nil {
		go c.watchScreenShare(ctx)
	}

	return nil
}

// uploadCalibration 上传标定图集，失败只记日志
// 使用独立上下文：进行中的上传（含重试）不被用户终止打断，自行完成或失败
func (c *Controller) uploadCalibration() {
	c.mu.Lock()
	set := c.calibration
	sess := c.session
	c.mu.Unlock()

	if set == nil || sess == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*c.config.Collaborator.Timeout)
	defer cancel()

	if err := c.collab.SaveCalibration(ctx, sess.ID, set.Images()); err != nil {
		log.Printf("Calibration upload failed after retry (best-effort): %v", err)
	}
}

// micPump 出站音频泵：采集麦克风帧，编码后推入通道
func (c *Controller) micPump(ctx context.Context) {
	c.mu.Lock()
	acq := c.acq
	channel := c.channel
	c.mu.Unlock()

	if acq == nil || channel == nil || acq.Microphone == nil {
		return
	}

	src := acq.Microphone.Frames()
	if src == nil {
		return
	}

	log.Printf("Microphone capture started after grace period")

	for {
		samples, err := src.ReadFrame(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			log.Printf("Microphone frame read failed: %v", err)
			return
		}

		payload, err := audio.EncodeFrame(samples)
		if err != nil {
			continue
		}

		if err := channel.SendAudioFrame(payload); err != nil {
			if errors.Is(err, transport.ErrNotConnected) {
				return
			}
			log.Printf("Send audio frame failed: %v", err)
		}
	}
}

// handleEnvelope 入站消息分发（按到达顺序，互斥执行）
func (c *Controller) handleEnvelope(env *transport.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.State()
	if st != StateActive && st != StateConnecting {
		return
	}

	switch env.Type {
	case transport.TypeMedia:
		samples, err := audio.DecodeFrame(env.Audio)
		if err != nil {
			// 单块解码失败可恢复：丢弃并继续
			log.Printf("Drop undecodable audio chunk: %v", err)
			return
		}
		c.queue.Enqueue(samples)

	case transport.TypeTranscription:
		if env.Text != "" {
			c.transcript.AppendCandidate(env.Text)
		}

	case transport.TypeAIResponse:
		if env.Text != "" {
			c.transcript.AppendInterviewerFragment(env.Text)
		}

	case transport.TypeStopAudio:
		// barge-in只取消播放队列，通道和录制不受影响
		c.queue.StopAll()

	default:
		log.Printf("Ignore unexpected inbound envelope type: %s", env.Type)
	}
}

// handleChannelClose 通道关闭处理：end_session之后的关闭是正常结束
func (c *Controller) handleChannelClose(err error, intentional bool) {
	if intentional {
		return
	}

	c.fail(NewFailure(FailureChannel, "connection to the interview was lost", err))
}

// End 用户主动结束会话：Active→Ending→Complete
// 收尾按固定顺序执行且容忍单步失败：合成音频停止→通道关闭→录制停止→设备释放，
// 之后无论上传结果如何都推进到Complete
func (c *Controller) End() error {
	if !c.transition(StateEnding) {
		return fmt.Errorf("cannot end session in state %s", c.State())
	}

	c.mu.Lock()
	queue := c.queue
	channel := c.channel
	pipeline := c.pipeline
	acq := c.acq
	sess := c.session
	micTimer := c.micTimer
	c.mu.Unlock()

	// 1. 停止合成音频播放
	if queue != nil {
		queue.StopAll()
	}
	if acq != nil && acq.Synthesis != nil {
		acq.Synthesis.Stop()
	}

	// 2. 发送主动结束通知后关闭通道
	if channel != nil {
		if err := channel.SendEndSession(); err != nil {
			log.Printf("Send end_session failed: %v", err)
		}
		channel.Close()
	}

	// 3. 先停录制器，再动设备流，否则尾部输出可能损坏
	if pipeline != nil {
		pipeline.Stop()
	}

	if micTimer != nil {
		micTimer.Stop()
	}
	c.runStop()

	// 4. 释放设备
	if acq != nil {
		acq.Release()
	}

	// 上传与收尾完成通知使用独立上下文，允许在会话标记完成后自行结束
	uploadCtx, cancel := context.WithTimeout(context.Background(), 2*c.config.Collaborator.Timeout)
	defer cancel()

	if pipeline != nil {
		pipeline.Upload(uploadCtx)
	}

	if sess != nil {
		if err := c.collab.CompleteSession(uploadCtx, sess.ID, c.jobID, c.candidateEmail); err != nil {
			log.Printf("Complete session call failed: %v", err)
		}
	}

	if !c.transition(StateComplete) {
		return fmt.Errorf("cannot complete session in state %s", c.State())
	}

	return nil
}

// fail 致命失败处理：转入终态Error并完成一次性资源释放
// 已处于Ending或终态时忽略（收尾期间的通道噪音不算失败）
func (c *Controller) fail(f *Failure) {
	for {
		from := State(c.state.Load())
		if from.Terminal() || from == StateEnding {
			return
		}
		if c.state.CompareAndSwap(int32(from), int32(StateError)) {
			log.Printf("Session state: %s -> %s (%s)", from, StateError, f.Kind)
			if c.onStateChange != nil {
				c.onStateChange(from, StateError)
			}
			break
		}
	}

	log.Printf("Session failed: %v", f)

	c.mu.Lock()
	c.lastFailure = f
	queue := c.queue
	channel := c.channel
	pipeline := c.pipeline
	acq := c.acq
	micTimer := c.micTimer
	c.mu.Unlock()

	if queue != nil {
		queue.StopAll()
	}
	if channel != nil {
		channel.Close()
	}
	if pipeline != nil {
		pipeline.Stop()
	}
	if micTimer != nil {
		micTimer.Stop()
	}
	c.runStop()
	if acq != nil {
		acq.Release()
	}
}

// ExportInterviewerAudio 将本场会话合成的面试官音频导出为WAV留档
// 在会话进入终态后调用，设备已释放也能导出
func (c *Controller) ExportInterviewerAudio() ([]byte, error) {
	c.mu.Lock()
	acq := c.acq
	c.mu.Unlock()

	if acq == nil || acq.Synthesis == nil {
		return nil, errors.New("no synthesis audio captured for this session")
	}

	samples := acq.Synthesis.Samples()
	if len(samples) == 0 {
		return nil, errors.New("synthesis destination received no audio")
	}

	return audio.EncodeWAV(audio.Float32ToInt16(samples), audio.SampleRate)
}

// watchScreenShare 监测屏幕共享轨是否中途停止（告警标记，不触发状态转换）
func (c *Controller) watchScreenShare(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			acq := c.acq
			c.mu.Unlock()

			if acq == nil || acq.Display == nil {
				return
			}

			for _, t := range acq.Display.VideoTracks() {
				if t.Stopped() {
					if c.screenShareDropped.CompareAndSwap(false, true) {
						log.Printf("Screen share stopped mid-session")
					}
					return
				}
			}
		}
	}
}

// classifyMediaError 将设备获取错误映射到失败分类
func classifyMediaError(err error) *Failure {
	switch {
	case errors.Is(err, media.ErrSurfaceNotMonitor):
		return NewFailure(FailurePolicyViolation,
			"please share your entire screen, not a window or browser tab", err)
	case errors.Is(err, media.ErrNoShareAudio):
		return NewFailure(FailurePolicyViolation,
			"please enable audio sharing when sharing your screen", err)
	case errors.Is(err, media.ErrMicrophoneDenied):
		return NewFailure(FailurePermissionDenied,
			"microphone access is required to join the interview", err)
	case errors.Is(err, media.ErrCameraRequired):
		return NewFailure(FailurePermissionDenied,
			"camera access is required to join the interview", err)
	case errors.Is(err, media.ErrPermissionDenied):
		return NewFailure(FailurePermissionDenied,
			"device access was denied", err)
	default:
		return NewFailure(FailureInternal, "device acquisition failed", err)
	}
}

// GetStats 返回会话统计信息
func (c *Controller) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"state":                c.State().String(),
		"transcript_entries":   c.transcript.Len(),
		"screen_share_dropped": c.screenShareDropped.Load(),
	}

	c.mu.Lock()
	queue := c.queue
	channel := c.channel
	c.mu.Unlock()

	if queue != nil {
		stats["playback"] = queue.Stats()
	}
	if channel != nil {
		stats["channel"] = channel.GetStats()
	}

	return stats
}
