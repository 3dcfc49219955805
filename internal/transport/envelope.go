package transport

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType 通道消息类型
type MessageType string

const (
	// 出站
	TypeStart      MessageType = "start"       // 宣告出站音频流开始
	TypeMedia      MessageType = "media"       // 一帧base64 PCM16音频（双向）
	TypeEndSession MessageType = "end_session" // 主动结束通知，在关闭连接前发送

	// 入站
	TypeTranscription MessageType = "transcription" // 候选人最终转写
	TypeAIResponse    MessageType = "ai_response"   // 面试官增量文本片段
	TypeStopAudio     MessageType = "stop_audio"    // barge-in：立即停止并丢弃排队音频
)

var (
	ErrUnknownType  = errors.New("unknown envelope type")
	ErrEmptyPayload = errors.New("empty envelope payload")
)

// Envelope 通道消息封包，一条消息一个事件
type Envelope struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Audio     string      `json:"audio,omitempty"` // base64编码的PCM16帧
	Text      string      `json:"text,omitempty"`
}

// EncodeEnvelope 序列化封包
func EncodeEnvelope(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, ErrEmptyPayload
	}

	if !validType(env.Type) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	return json.Marshal(env)
}

// DecodeEnvelope 反序列化封包并校验类型
func DecodeEnvelope(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope failed: %w", err)
	}

	if !validType(env.Type) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	return &env, nil
}

func validType(t MessageType) bool {
	switch t {
	case TypeStart, TypeMedia, TypeEndSession, TypeTranscription, TypeAIResponse, TypeStopAudio:
		return true
	}
	return false
}
