package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastClientConfig(baseURL string) *ClientConfig {
	return &ClientConfig{
		BaseURL:            baseURL,
		Timeout:            2 * time.Second,
		CalibrationRetries: 1,
		RetryBackoff:       10 * time.Millisecond,
	}
}

// TestStartSessionSuccess 会话注册成功返回session id和通道地址
func TestStartSessionSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/interview/start", r.URL.Path)

		var req startSessionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "job-1", req.JobID)
		assert.Equal(t, "candidate@example.com", req.Email)

		json.NewEncoder(w).Encode(StartSessionResponse{
			SessionID:      "session-abc",
			ChannelAddress: "ws://127.0.0.1:9999/ws/interview/session-abc",
		})
	}))
	defer server.Close()

	client := NewClient(fastClientConfig(server.URL))
	resp, err := client.StartSession(context.Background(), "job-1", "candidate@example.com")
	require.NoError(t, err)
	assert.Equal(t, "session-abc", resp.SessionID)
	assert.NotEmpty(t, resp.ChannelAddress)
}

// TestStartSessionAlreadyCompleted 已完成会话返回专用错误
func TestStartSessionAlreadyCompleted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(errorResponse{
			Error:            "interview already completed",
			AlreadyCompleted: true,
		})
	}))
	defer server.Close()

	client := NewClient(fastClientConfig(server.URL))
	_, err := client.StartSession(context.Background(), "job-1", "a@b.c")
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
}

// TestStartSessionPlainBadRequest 普通400不映射为already completed
func TestStartSessionPlainBadRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(errorResponse{Error: "missing job_id"})
	}))
	defer server.Close()

	client := NewClient(fastClientConfig(server.URL))
	_, err := client.StartSession(context.Background(), "", "a@b.c")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAlreadyCompleted)
}

// TestSaveCalibrationRetriesOnce 首次失败后恰好重试一次
func TestSaveCalibrationRetriesOnce(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/interview/save_calibration", r.URL.Path)

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var req saveCalibrationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "session-1", req.SessionID)
		require.Len(t, req.Images, 4)

		decoded, err := base64.StdEncoding.DecodeString(req.Images[0])
		require.NoError(t, err)
		assert.Equal(t, []byte("img-0"), decoded)

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(fastClientConfig(server.URL))
	images := [][]byte{[]byte("img-0"), []byte("img-1"), []byte("img-2"), []byte("img-3")}

	err := client.SaveCalibration(context.Background(), "session-1", images)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

// TestSaveCalibrationGivesUpAfterRetry 重试用尽后返回错误
func TestSaveCalibrationGivesUpAfterRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(fastClientConfig(server.URL))
	images := [][]byte{{1}, {2}, {3}, {4}}

	err := client.SaveCalibration(context.Background(), "session-1", images)
	require.Error(t, err)
	// 初次尝试 + 1次重试
	assert.Equal(t, int32(2), calls.Load())
}

// TestSaveCalibrationRequiresFourImages 标定图必须恰好4张
func TestSaveCalibrationRequiresFourImages(t *testing.T) {
	client := NewClient(fastClientConfig("http://127.0.0.1:1"))

	err := client.SaveCalibration(context.Background(), "session-1", [][]byte{{1}, {2}})
	assert.Error(t, err)
}

// TestSaveRecordingMultipart 组合录像以multipart单次上传
func TestSaveRecordingMultipart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/interview/save_recording", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "session-1", r.FormValue("session_id"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "recording.webm", header.Filename)

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(fastClientConfig(server.URL))
	err := client.SaveRecording(context.Background(), "session-1", []byte("recorded-bytes"))
	require.NoError(t, err)
}

// TestSaveCameraRecordingFields 纯摄像头录像带live_tracked=false标记
func TestSaveCameraRecordingFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/interview/save_camera_recording", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "session-1", r.FormValue("session_id"))
		assert.Equal(t, "false", r.FormValue("live_tracked"))

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(fastClientConfig(server.URL))
	err := client.SaveCameraRecording(context.Background(), "session-1", []byte("camera-bytes"))
	require.NoError(t, err)
}

// TestCompleteSession 会话完成通知
func TestCompleteSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/interview/complete", r.URL.Path)

		var req completeSessionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "session-1", req.SessionID)
		assert.Equal(t, "job-1", req.JobID)
		assert.Equal(t, "a@b.c", req.Email)

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(fastClientConfig(server.URL))
	require.NoError(t, client.CompleteSession(context.Background(), "session-1", "job-1", "a@b.c"))
}

// TestCompleteSessionFailure 非200状态视为失败
func TestCompleteSessionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(fastClientConfig(server.URL))
	assert.Error(t, client.CompleteSession(context.Background(), "session-1", "job-1", "a@b.c"))
}
