package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	// SampleRate 音频采样率（Hz），面试语音通道固定为24kHz单声道
	SampleRate = 24000
	// FrameSamples 单帧采样点数，约170.7ms音频
	FrameSamples = 4096
	// BytesPerSample PCM16每个采样点字节数
	BytesPerSample = 2
	// FrameBytes 单帧字节数
	FrameBytes = FrameSamples * BytesPerSample
)

var (
	ErrEmptyFrame    = errors.New("empty audio frame")
	ErrOddByteCount  = errors.New("pcm16 data must have even byte count")
	ErrInvalidBase64 = errors.New("invalid base64 audio payload")
)

// Int16ToFloat32 将PCM16采样转换为归一化浮点采样（[-1.0, 1.0]）
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToInt16 将归一化浮点采样转换为PCM16，超出范围的值做饱和截断
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := s * 32767.0
		if v > 32767.0 {
			v = 32767.0
		} else if v < -32768.0 {
			v = -32768.0
		}
		out[i] = int16(v)
	}
	return out
}

// SamplesToBytes 将PCM16采样序列化为小端字节流
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}
	return buf
}

// BytesToSamples 将小端字节流还原为PCM16采样序列
func BytesToSamples(data []byte) ([]int16, error) {
	if len(data)%BytesPerSample != 0 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrOddByteCount, len(data))
	}

	samples := make([]int16, len(data)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples, nil
}

// EncodeFrame 将PCM16帧编码为base64字符串（通道wire格式）
func EncodeFrame(samples []int16) (string, error) {
	if len(samples) == 0 {
		return "", ErrEmptyFrame
	}

	return base64.StdEncoding.EncodeToString(SamplesToBytes(samples)), nil
}

// DecodeFrame 将base64字符串解码为归一化浮点采样
// 任何格式错误都作为DecodeFailure处理：调用方丢弃该块并继续
func DecodeFrame(payload string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBase64, err)
	}

	if len(raw) == 0 {
		return nil, ErrEmptyFrame
	}

	samples, err := BytesToSamples(raw)
	if err != nil {
		return nil, err
	}

	return Int16ToFloat32(samples), nil
}
