package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// ChannelState 通道连接状态
type ChannelState int32

const (
	StateDisconnected ChannelState = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s ChannelState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// MessageHandler 入站封包处理器
type MessageHandler func(env *Envelope)

// CloseHandler 通道关闭处理器
// intentional为true表示关闭发生在end_session之后，不算错误
type CloseHandler func(err error, intentional bool)

var ErrNotConnected = errors.New("channel is not connected")

// ChannelConfig 通道配置
type ChannelConfig struct {
	URL               string
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	DialRetryInterval time.Duration
	MaxDialTries      int
	EnableCompression bool
	UserAgent         string
}

// DefaultChannelConfig 返回默认配置
func DefaultChannelConfig(url string) *ChannelConfig {
	return &ChannelConfig{
		URL:               url,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      5 * time.Second,
		DialRetryInterval: 500 * time.Millisecond,
		MaxDialTries:      3,
		EnableCompression: true,
		UserAgent:         "InterviewOrchestrator/1.0",
	}
}

// Channel 会话级双向流式通道
// 承载控制事件和音频帧两类封包，保证消息按到达顺序投递；
// 未经end_session的意外关闭会通过CloseHandler上报为致命错误
type Channel struct {
	config *ChannelConfig
	dialer *websocket.Dialer
	conn   *websocket.Conn
	state  atomic.Int32

	onMessage MessageHandler
	onClose   CloseHandler

	mu       sync.RWMutex
	writeMu  sync.Mutex // 专用于WebSocket写入同步
	stopChan chan struct{}

	// end_session已发送的标记，用于区分主动关闭与连接丢失
	endSent atomic.Bool

	framesSent     atomic.Int64
	framesReceived atomic.Int64
}

// NewChannel 创建流式通道
func NewChannel(config *ChannelConfig) *Channel {
	if config == nil {
		panic("config cannot be nil")
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = config.HandshakeTimeout
	dialer.EnableCompression = config.EnableCompression

	ch := &Channel{
		config:   config,
		dialer:   &dialer,
		stopChan: make(chan struct{}),
	}

	ch.state.Store(int32(StateDisconnected))
	return ch
}

// SetMessageHandler 设置入站封包处理器（必须在Open之前调用）
func (c *Channel) SetMessageHandler(handler MessageHandler) {
	c.onMessage = handler
}

// SetCloseHandler 设置关闭处理器（必须在Open之前调用）
func (c *Channel) SetCloseHandler(handler CloseHandler) {
	c.onClose = handler
}

// Open 建立连接并启动读取循环
func (c *Channel) Open(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return errors.New("channel is not in disconnected state")
	}

	if err := c.doDial(ctx); err != nil {
		c.state.Store(int32(StateDisconnected))
		return err
	}

	c.state.Store(int32(StateConnected))
	go c.readLoop()

	return nil
}

// doDial 带退避的连接尝试
func (c *Channel) doDial(ctx context.Context) error {
	headers := http.Header{
		"User-Agent": []string{c.config.UserAgent},
	}

	dial := func() error {
		conn, resp, err := c.dialer.DialContext(ctx, c.config.URL, headers)
		if err != nil {
			return fmt.Errorf("dial failed: %w", err)
		}
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		return nil
	}

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = c.config.DialRetryInterval
	backOff.MaxElapsedTime = time.Duration(c.config.MaxDialTries) * c.config.HandshakeTimeout

	return backoff.Retry(dial, backoff.WithContext(backOff, ctx))
}

// Send 发送一个封包
func (c *Channel) Send(env *Envelope) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}

	data, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}

	// 专用写锁防止并发写入
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write envelope failed: %w", err)
	}

	c.framesSent.Add(1)
	return nil
}

// SendStart 宣告出站音频流开始
func (c *Channel) SendStart(sessionID string) error {
	return c.Send(&Envelope{Type: TypeStart, SessionID: sessionID})
}

// SendAudioFrame 发送一帧候选人音频（base64 PCM16）
func (c *Channel) SendAudioFrame(payload string) error {
	return c.Send(&Envelope{Type: TypeMedia, Audio: payload})
}

// SendEndSession 发送主动结束通知
// 在此之后的连接关闭被视为正常结束而非连接丢失
func (c *Channel) SendEndSession() error {
	c.endSent.Store(true)
	return c.Send(&Envelope{Type: TypeEndSession})
}

// Close 关闭通道
func (c *Channel) Close() error {
	if !c.state.CompareAndSwap(int32(StateConnected), int32(StateClosed)) &&
		!c.state.CompareAndSwap(int32(StateConnecting), int32(StateClosed)) &&
		!c.state.CompareAndSwap(int32(StateDisconnected), int32(StateClosed)) {
		return nil // 已经关闭
	}

	close(c.stopChan)

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}

	return nil
}

// readLoop 消息读取循环，入站封包按到达顺序投递
func (c *Channel) readLoop() {
	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		env, err := DecodeEnvelope(data)
		if err != nil {
			// 单条坏封包丢弃，不中断通道
			log.Printf("Drop malformed envelope: %v", err)
			continue
		}

		c.framesReceived.Add(1)
		if c.onMessage != nil {
			c.onMessage(env)
		}
	}
}

// handleReadError 区分主动关闭与连接丢失
// 连接丢失时就地完成通道收尾，底层连接不依赖调用方再次Close
func (c *Channel) handleReadError(err error) {
	intentional := c.endSent.Load() || c.State() == StateClosed

	if !intentional {
		log.Printf("Channel read failed unexpectedly: %v", err)

		// CAS保证与并发的Close()只有一方执行收尾
		if c.state.CompareAndSwap(int32(StateConnected), int32(StateClosed)) {
			close(c.stopChan)

			c.mu.Lock()
			conn := c.conn
			c.conn = nil
			c.mu.Unlock()

			if conn != nil {
				conn.Close()
			}
		}
	}

	if c.onClose != nil {
		c.onClose(err, intentional)
	}
}

// State 返回当前通道状态
func (c *Channel) State() ChannelState {
	return ChannelState(c.state.Load())
}

// GetStats 返回通道统计信息
func (c *Channel) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"state":           c.State().String(),
		"frames_sent":     c.framesSent.Load(),
		"frames_received": c.framesReceived.Load(),
		"end_sent":        c.endSent.Load(),
	}
}
