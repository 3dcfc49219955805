package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InterviewOrchestrator/internal/api"
	"InterviewOrchestrator/internal/config"
	"InterviewOrchestrator/internal/media"
	"InterviewOrchestrator/internal/testserver"
	"InterviewOrchestrator/internal/testutil"
)

func testControllerConfig(baseURL string) *config.Config {
	return &config.Config{
		Collaborator: config.CollaboratorConfig{
			BaseURL:            baseURL,
			Timeout:            5 * time.Second,
			CalibrationRetries: 1,
			RetryBackoff:       50 * time.Millisecond,
		},
		Channel: config.ChannelConfig{
			HandshakeTimeout:  3 * time.Second,
			WriteTimeout:      2 * time.Second,
			DialRetryInterval: 100 * time.Millisecond,
			MaxDialTries:      2,
			EnableCompression: true,
		},
		Audio: config.AudioConfig{SampleRate: 24000, FrameSamples: 4096},
		Media: config.MediaConfig{MinWidth: 640, MinHeight: 480, IdealWidth: 1280, IdealHeight: 720},
		Timing: config.TimingConfig{
			// 测试用加速时序
			MicStartDelay:       100 * time.Millisecond,
			CameraRecorderDelay: 20 * time.Millisecond,
			FlushGrace:          50 * time.Millisecond,
			ChunkInterval:       50 * time.Millisecond,
		},
	}
}

func startSimServer(t *testing.T, config *testserver.ServerConfig) *testserver.Server {
	t.Helper()

	server := testserver.New(config)
	require.NoError(t, server.Start())
	t.Cleanup(func() { server.Shutdown(context.Background()) })

	time.Sleep(100 * time.Millisecond)
	return server
}

func newTestController(t *testing.T, server *testserver.Server, provider *testutil.MockDeviceProvider) *Controller {
	t.Helper()

	cfg := testControllerConfig(server.BaseURL())
	client := api.NewClient(&api.ClientConfig{
		BaseURL:            cfg.Collaborator.BaseURL,
		Timeout:            cfg.Collaborator.Timeout,
		CalibrationRetries: cfg.Collaborator.CalibrationRetries,
		RetryBackoff:       cfg.Collaborator.RetryBackoff,
	})

	return NewController(cfg, provider, client, "job-test", "candidate@example.com")
}

func calibrationImages() [][]byte {
	return [][]byte{
		[]byte("center"), []byte("center-confirm"),
		[]byte("far-left"), []byte("far-right"),
	}
}

// TestFullSessionLifecycle 完整生命周期：标定→Active→对话→End→Complete
func TestFullSessionLifecycle(t *testing.T) {
	server := startSimServer(t, testserver.DefaultServerConfig(":18210"))
	provider := testutil.NewMockDeviceProvider()
	controller := newTestController(t, server, provider)

	var transitions []State
	controller.SetStateChangeHandler(func(oldState, newState State) {
		transitions = append(transitions, newState)
	})

	require.NoError(t, controller.Begin())
	assert.Equal(t, StateCalibrating, controller.State())

	require.NoError(t, controller.SubmitCalibration(calibrationImages()))
	assert.Equal(t, StateActive, controller.State())

	sess := controller.CurrentSession()
	require.NotNil(t, sess)
	assert.NotEmpty(t, sess.ID)
	assert.NotEmpty(t, sess.ChannelAddress)

	// 开场白文本片段合并为一条面试官条目
	require.Eventually(t, func() bool {
		return controller.Transcript().Len() >= 1
	}, 3*time.Second, 20*time.Millisecond)

	// 候选人发言：注入麦克风帧，等待远端回发转写
	for i := 0; i < 5; i++ {
		provider.MicFeed.Push(make([]int16, 4096))
	}
	require.Eventually(t, func() bool {
		return controller.Transcript().Len() >= 2
	}, 3*time.Second, 20*time.Millisecond)

	// 等摄像头录制器启动并累积分片
	time.Sleep(300 * time.Millisecond)

	require.NoError(t, controller.End())
	assert.Equal(t, StateComplete, controller.State())

	// 收尾后所有设备轨都已释放
	assert.True(t, provider.AllTracksStopped())

	stats := server.GetStats()
	assert.Equal(t, int64(1), stats["start_calls"])
	assert.Equal(t, int64(1), stats["calibration_uploads"])
	assert.Equal(t, int64(1), stats["recording_uploads"])
	assert.Equal(t, int64(1), stats["camera_uploads"])
	assert.Equal(t, int64(1), stats["complete_calls"])

	assert.Contains(t, transitions, StateActive)
	assert.Equal(t, StateComplete, transitions[len(transitions)-1])
}

// TestSubmitCalibrationDuplicateIsNoop 快速连点只创建一个会话
func TestSubmitCalibrationDuplicateIsNoop(t *testing.T) {
	server := startSimServer(t, testserver.DefaultServerConfig(":18211"))
	provider := testutil.NewMockDeviceProvider()
	controller := newTestController(t, server, provider)

	require.NoError(t, controller.Begin())
	require.NoError(t, controller.SubmitCalibration(calibrationImages()))

	// 重复提交是no-op
	require.NoError(t, controller.SubmitCalibration(calibrationImages()))

	assert.Equal(t, int64(1), server.GetStats()["start_calls"])

	require.NoError(t, controller.End())
}

// TestAlreadyCompletedSession 已完成的会话注册被拒并映射为专属失败分类
func TestAlreadyCompletedSession(t *testing.T) {
	serverConfig := testserver.DefaultServerConfig(":18212")
	serverConfig.AlreadyCompletedJobs = []string{"job-test"}
	server := startSimServer(t, serverConfig)

	provider := testutil.NewMockDeviceProvider()
	controller := newTestController(t, server, provider)

	require.NoError(t, controller.Begin())
	err := controller.SubmitCalibration(calibrationImages())
	require.Error(t, err)

	assert.Equal(t, StateError, controller.State())

	failure := controller.LastFailure()
	require.NotNil(t, failure)
	assert.Equal(t, FailureAlreadyCompleted, failure.Kind)
}

// TestMicrophoneDeniedFailsSession 麦克风被拒：致命失败并回滚资源
func TestMicrophoneDeniedFailsSession(t *testing.T) {
	server := startSimServer(t, testserver.DefaultServerConfig(":18213"))

	provider := testutil.NewMockDeviceProvider()
	provider.DenyMicrophone = true
	controller := newTestController(t, server, provider)

	require.NoError(t, controller.Begin())
	err := controller.SubmitCalibration(calibrationImages())
	require.Error(t, err)

	assert.Equal(t, StateError, controller.State())

	failure := controller.LastFailure()
	require.NotNil(t, failure)
	assert.Equal(t, FailurePermissionDenied, failure.Kind)

	assert.True(t, provider.AllTracksStopped())
}

// TestWindowShareFailsAsPolicyViolation 共享窗口映射为策略违规
func TestWindowShareFailsAsPolicyViolation(t *testing.T) {
	server := startSimServer(t, testserver.DefaultServerConfig(":18214"))

	provider := testutil.NewMockDeviceProvider()
	provider.DisplaySurface = media.SurfaceWindow
	controller := newTestController(t, server, provider)

	require.NoError(t, controller.Begin())
	err := controller.SubmitCalibration(calibrationImages())
	require.Error(t, err)

	failure := controller.LastFailure()
	require.NotNil(t, failure)
	assert.Equal(t, FailurePolicyViolation, failure.Kind)
}

// TestUploadFailureStillCompletes 录像上传失败不阻塞会话完成
func TestUploadFailureStillCompletes(t *testing.T) {
	serverConfig := testserver.DefaultServerConfig(":18215")
	serverConfig.FailRecordingUploads = true
	server := startSimServer(t, serverConfig)

	provider := testutil.NewMockDeviceProvider()
	controller := newTestController(t, server, provider)

	require.NoError(t, controller.Begin())
	require.NoError(t, controller.SubmitCalibration(calibrationImages()))

	time.Sleep(200 * time.Millisecond)

	require.NoError(t, controller.End())
	assert.Equal(t, StateComplete, controller.State())

	stats := server.GetStats()
	assert.Equal(t, int64(0), stats["recording_uploads"])
	assert.Equal(t, int64(1), stats["complete_calls"])
}

// TestCalibrationRetrySurvivesEnd 用户终止不打断进行中的标定图重试
// 上传使用独立上下文，在会话标记完成后自行完成或失败
func TestCalibrationRetrySurvivesEnd(t *testing.T) {
	serverConfig := testserver.DefaultServerConfig(":18219")
	serverConfig.FailCalibrationOnce = true
	server := startSimServer(t, serverConfig)

	provider := testutil.NewMockDeviceProvider()

	cfg := testControllerConfig(server.BaseURL())
	cfg.Collaborator.RetryBackoff = time.Second
	client := api.NewClient(&api.ClientConfig{
		BaseURL:            cfg.Collaborator.BaseURL,
		Timeout:            cfg.Collaborator.Timeout,
		CalibrationRetries: cfg.Collaborator.CalibrationRetries,
		RetryBackoff:       cfg.Collaborator.RetryBackoff,
	})
	controller := NewController(cfg, provider, client, "job-test", "candidate@example.com")

	require.NoError(t, controller.Begin())
	require.NoError(t, controller.SubmitCalibration(calibrationImages()))

	// 首次上传已失败、重试还在退避期内时终止会话
	time.Sleep(300 * time.Millisecond)
	require.NoError(t, controller.End())
	assert.Equal(t, StateComplete, controller.State())

	// 重试不受终止影响，退避结束后照常落账
	require.Eventually(t, func() bool {
		return server.GetStats()["calibration_uploads"] == int64(1)
	}, 3*time.Second, 20*time.Millisecond)
}

// TestChannelLossFailsSession 未经end_session的断连是致命通道失败
func TestChannelLossFailsSession(t *testing.T) {
	server := startSimServer(t, testserver.DefaultServerConfig(":18216"))

	provider := testutil.NewMockDeviceProvider()
	controller := newTestController(t, server, provider)

	require.NoError(t, controller.Begin())
	require.NoError(t, controller.SubmitCalibration(calibrationImages()))
	require.Equal(t, StateActive, controller.State())

	server.ForceDisconnectAll()

	require.Eventually(t, func() bool {
		return controller.State() == StateError
	}, 3*time.Second, 20*time.Millisecond)

	failure := controller.LastFailure()
	require.NotNil(t, failure)
	assert.Equal(t, FailureChannel, failure.Kind)

	assert.True(t, provider.AllTracksStopped())
}

// TestBeginRequiresReadyState 状态机入口校验
func TestBeginRequiresReadyState(t *testing.T) {
	server := startSimServer(t, testserver.DefaultServerConfig(":18217"))
	provider := testutil.NewMockDeviceProvider()
	controller := newTestController(t, server, provider)

	require.NoError(t, controller.Begin())
	assert.Error(t, controller.Begin())

	// 未进入Active时不能End
	assert.Error(t, controller.End())

	// 会话未启动时没有可导出的合成音频
	_, err := controller.ExportInterviewerAudio()
	assert.Error(t, err)
}

// TestSubmitCalibrationRejectsBadSet 非法标定图集直接拒绝，不触发启动
func TestSubmitCalibrationRejectsBadSet(t *testing.T) {
	server := startSimServer(t, testserver.DefaultServerConfig(":18218"))
	provider := testutil.NewMockDeviceProvider()
	controller := newTestController(t, server, provider)

	require.NoError(t, controller.Begin())

	assert.Error(t, controller.SubmitCalibration([][]byte{{1}, {2}}))
	assert.Equal(t, StateCalibrating, controller.State())
	assert.Equal(t, int64(0), server.GetStats()["start_calls"])
}
