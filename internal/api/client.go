package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	// ErrAlreadyCompleted 该职位/候选人组合的会话已经结束过，致命且需要独立的UI文案
	ErrAlreadyCompleted = errors.New("interview session already completed")
)

// ClientConfig 协作方HTTP客户端配置
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration

	// 标定图上传的重试次数与退避间隔
	CalibrationRetries uint64
	RetryBackoff       time.Duration
}

// DefaultClientConfig 返回默认配置
func DefaultClientConfig(baseURL string) *ClientConfig {
	return &ClientConfig{
		BaseURL:            baseURL,
		Timeout:            30 * time.Second,
		CalibrationRetries: 1,
		RetryBackoff:       500 * time.Millisecond,
	}
}

// Client 外部调度协作方的HTTP客户端
// 会话注册/结束是关键路径；标定图和录像上传都是尽力而为
type Client struct {
	config *ClientConfig
	http   *http.Client
}

// NewClient 创建协作方客户端
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		panic("config cannot be nil")
	}

	return &Client{
		config: config,
		http: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// StartSessionResponse 会话注册响应
type StartSessionResponse struct {
	SessionID      string `json:"session_id"`
	ChannelAddress string `json:"channel_address"`
}

type startSessionRequest struct {
	JobID string `json:"job_id"`
	Email string `json:"email"`
}

type errorResponse struct {
	Error            string `json:"error"`
	AlreadyCompleted bool   `json:"already_completed"`
}

// StartSession 向调度协作方注册会话，取得session id和通道地址
// 400且带already completed标记时返回ErrAlreadyCompleted
func (c *Client) StartSession(ctx context.Context, jobID, email string) (*StartSessionResponse, error) {
	body, err := json.Marshal(startSessionRequest{JobID: jobID, Email: email})
	if err != nil {
		return nil, fmt.Errorf("marshal start request failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/api/v1/interview/start", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("start session request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		var errResp errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.AlreadyCompleted {
			return nil, ErrAlreadyCompleted
		}
		return nil, fmt.Errorf("start session rejected: status %d", resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("start session failed: status %d", resp.StatusCode)
	}

	var result StartSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode start response failed: %w", err)
	}

	if result.SessionID == "" || result.ChannelAddress == "" {
		return nil, errors.New("start response missing session_id or channel_address")
	}

	return &result, nil
}

type saveCalibrationRequest struct {
	SessionID string   `json:"session_id"`
	Images    []string `json:"images"` // base64编码的4张有序标定图
}

// SaveCalibration 上传标定图集（恰好4张有序图像）
// 失败后按配置重试一次，仍失败由调用方记日志降级为尽力而为
func (c *Client) SaveCalibration(ctx context.Context, sessionID string, images [][]byte) error {
	if len(images) != 4 {
		return fmt.Errorf("calibration set must contain exactly 4 images, got %d", len(images))
	}

	encoded := make([]string, len(images))
	for i, img := range images {
		encoded[i] = encodeImage(img)
	}

	body, err := json.Marshal(saveCalibrationRequest{SessionID: sessionID, Images: encoded})
	if err != nil {
		return fmt.Errorf("marshal calibration request failed: %w", err)
	}

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.config.BaseURL+"/api/v1/interview/save_calibration", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("calibration upload failed: %w", err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("calibration upload rejected: status %d", resp.StatusCode)
		}
		return nil
	}

	policy := backoff.WithMaxRetries(
		backoff.NewConstantBackOff(c.config.RetryBackoff), c.config.CalibrationRetries)

	return backoff.Retry(attempt, backoff.WithContext(policy, ctx))
}

// SaveRecording 以multipart单次请求上传组合录像
func (c *Client) SaveRecording(ctx context.Context, sessionID string, recording []byte) error {
	fields := map[string]string{"session_id": sessionID}
	return c.uploadMultipart(ctx, "/api/v1/interview/save_recording", "recording.webm", recording, fields)
}

// SaveCameraRecording 上传纯摄像头录像（用于事后人脸/视线复核）
func (c *Client) SaveCameraRecording(ctx context.Context, sessionID string, recording []byte) error {
	fields := map[string]string{
		"session_id":   sessionID,
		"live_tracked": "false",
	}
	return c.uploadMultipart(ctx, "/api/v1/interview/save_camera_recording", "camera.webm", recording, fields)
}

// uploadMultipart 单次multipart上传，失败由调用方决定是否降级
func (c *Client) uploadMultipart(ctx context.Context, path, filename string, data []byte, fields map[string]string) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("create multipart file failed: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("write multipart file failed: %w", err)
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return fmt.Errorf("write multipart field failed: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalize multipart body failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upload rejected: status %d", resp.StatusCode)
	}

	return nil
}

type completeSessionRequest struct {
	SessionID string `json:"session_id"`
	JobID     string `json:"job_id"`
	Email     string `json:"email"`
}

// CompleteSession 将会话标记为完成，在Ending阶段末尾调用一次
func (c *Client) CompleteSession(ctx context.Context, sessionID, jobID, email string) error {
	body, err := json.Marshal(completeSessionRequest{SessionID: sessionID, JobID: jobID, Email: email})
	if err != nil {
		return fmt.Errorf("marshal complete request failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/api/v1/interview/complete", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("complete session request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("complete session failed: status %d", resp.StatusCode)
	}

	return nil
}

func encodeImage(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
