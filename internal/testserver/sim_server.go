package testserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"InterviewOrchestrator/internal/audio"
	"InterviewOrchestrator/internal/transport"
)

// ServerConfig 面试模拟服务器配置
type ServerConfig struct {
	Addr string

	// GreetingFragments 收到start后按顺序下发的面试官开场白片段
	GreetingFragments []string
	// GreetingAudioChunks 随开场白下发的音频块数量
	GreetingAudioChunks int
	// GreetingChunkSamples 每个音频块的采样数
	GreetingChunkSamples int
	// TranscriptionAfterFrames 收到多少入站音频帧后回发一条转写
	TranscriptionAfterFrames int
	// InjectStopAudio 回发转写前是否先发barge-in信号
	InjectStopAudio bool

	// 故障注入
	FailCalibrationOnce  bool // 第一次标定图上传返回500
	FailRecordingUploads bool // 所有录像上传返回500
	AlreadyCompletedJobs []string

	ReadBufferSize  int
	WriteBufferSize int
}

// DefaultServerConfig 返回默认配置
func DefaultServerConfig(addr string) *ServerConfig {
	return &ServerConfig{
		Addr:                     addr,
		GreetingFragments:        []string{"Hello, ", "welcome to your interview. ", "Shall we begin?"},
		GreetingAudioChunks:      3,
		GreetingChunkSamples:     2400, // 100ms @ 24kHz
		TranscriptionAfterFrames: 3,
		ReadBufferSize:           4096,
		WriteBufferSize:          4096,
	}
}

// sessionConn 一个活跃的通道连接
type sessionConn struct {
	sessionID string
	conn      *websocket.Conn
	writeMu   sync.Mutex

	framesReceived atomic.Int64
	endReceived    atomic.Bool
	closeOnce      sync.Once
}

func (sc *sessionConn) send(env *transport.Envelope) error {
	data, err := transport.EncodeEnvelope(env)
	if err != nil {
		return err
	}

	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()

	sc.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return sc.conn.WriteMessage(websocket.TextMessage, data)
}

// Server 面试模拟服务器
// 同时扮演两个外部协作者：流式通道对端（面试官）和调度协作方REST接口，
// 供端到端测试和演示使用
type Server struct {
	config   *ServerConfig
	server   *http.Server
	upgrader websocket.Upgrader

	conns     sync.Map // map[string]*sessionConn
	sessionID atomic.Int64

	// REST侧状态
	calibrationFailed  atomic.Bool
	calibrationUploads atomic.Int64
	recordingUploads   atomic.Int64
	cameraUploads      atomic.Int64
	completeCalls      atomic.Int64
	startCalls         atomic.Int64

	isRunning atomic.Bool
}

// New 创建模拟服务器
func New(config *ServerConfig) *Server {
	if config == nil {
		config = DefaultServerConfig(":18200")
	}

	s := &Server{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	router := mux.NewRouter()
	apiRouter := router.PathPrefix("/api/v1/interview").Subrouter()
	apiRouter.HandleFunc("/start", s.handleStart).Methods("POST")
	apiRouter.HandleFunc("/save_calibration", s.handleSaveCalibration).Methods("POST")
	apiRouter.HandleFunc("/save_recording", s.handleSaveRecording).Methods("POST")
	apiRouter.HandleFunc("/save_camera_recording", s.handleSaveCameraRecording).Methods("POST")
	apiRouter.HandleFunc("/complete", s.handleComplete).Methods("POST")
	router.HandleFunc("/ws/interview/{session_id}", s.handleChannel)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      c.Handler(router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// Start 启动服务器
func (s *Server) Start() error {
	if !s.isRunning.CompareAndSwap(false, true) {
		return fmt.Errorf("server already running")
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Simulator server error: %v", err)
		}
	}()

	return nil
}

// Shutdown 关闭服务器
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.isRunning.CompareAndSwap(true, false) {
		return nil
	}

	s.conns.Range(func(key, value interface{}) bool {
		value.(*sessionConn).conn.Close()
		return true
	})

	return s.server.Shutdown(ctx)
}

// BaseURL 返回REST接口基地址
func (s *Server) BaseURL() string {
	return "http://127.0.0.1" + s.config.Addr
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// handleStart 会话注册：校验job/candidate并返回通道地址
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JobID string `json:"job_id"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JobID == "" || req.Email == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "job_id and email are required",
		})
		return
	}

	for _, job := range s.config.AlreadyCompletedJobs {
		if job == req.JobID {
			s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":             "interview already completed",
				"already_completed": true,
			})
			return
		}
	}

	s.startCalls.Add(1)
	sessionID := fmt.Sprintf("sim-session-%d", s.sessionID.Add(1))

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":      sessionID,
		"channel_address": "ws://127.0.0.1" + s.config.Addr + "/ws/interview/" + sessionID,
	})
}

// handleSaveCalibration 标定图上传，可注入一次性失败
func (s *Server) handleSaveCalibration(w http.ResponseWriter, r *http.Request) {
	if s.config.FailCalibrationOnce && s.calibrationFailed.CompareAndSwap(false, true) {
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	var req struct {
		SessionID string   `json:"session_id"`
		Images    []string `json:"images"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Images) != 4 {
		http.Error(w, "exactly 4 images required", http.StatusBadRequest)
		return
	}

	s.calibrationUploads.Add(1)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSaveRecording(w http.ResponseWriter, r *http.Request) {
	s.handleUpload(w, r, &s.recordingUploads, false)
}

func (s *Server) handleSaveCameraRecording(w http.ResponseWriter, r *http.Request) {
	s.handleUpload(w, r, &s.cameraUploads, true)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, counter *atomic.Int64, camera bool) {
	if s.config.FailRecordingUploads {
		http.Error(w, "storage unavailable", http.StatusInternalServerError)
		return
	}

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		http.Error(w, "invalid multipart body", http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil || len(data) == 0 {
		http.Error(w, "empty recording", http.StatusBadRequest)
		return
	}

	if r.FormValue("session_id") == "" {
		http.Error(w, "missing session_id", http.StatusBadRequest)
		return
	}

	if camera && r.FormValue("live_tracked") != "false" {
		http.Error(w, "unexpected live_tracked value", http.StatusBadRequest)
		return
	}

	counter.Add(1)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		JobID     string `json:"job_id"`
		Email     string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "session_id required", http.StatusBadRequest)
		return
	}

	s.completeCalls.Add(1)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleChannel 流式通道端点：扮演面试官对端
func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]
	if !strings.HasPrefix(sessionID, "sim-session-") {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Channel upgrade failed: %v", err)
		return
	}

	sc := &sessionConn{sessionID: sessionID, conn: conn}
	s.conns.Store(sessionID, sc)

	defer func() {
		s.conns.Delete(sessionID)
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		env, err := transport.DecodeEnvelope(data)
		if err != nil {
			log.Printf("Simulator drop malformed envelope: %v", err)
			continue
		}

		switch env.Type {
		case transport.TypeStart:
			go s.sendGreeting(sc)

		case transport.TypeMedia:
			n := sc.framesReceived.Add(1)
			if int(n) == s.config.TranscriptionAfterFrames {
				go s.acknowledgeSpeech(sc)
			}

		case transport.TypeEndSession:
			sc.endReceived.Store(true)
			return

		default:
			log.Printf("Simulator ignore envelope type: %s", env.Type)
		}
	}
}

// sendGreeting 下发开场白：文本片段 + 合成音频块
func (s *Server) sendGreeting(sc *sessionConn) {
	for _, fragment := range s.config.GreetingFragments {
		if err := sc.send(&transport.Envelope{Type: transport.TypeAIResponse, Text: fragment}); err != nil {
			return
		}
	}

	for i := 0; i < s.config.GreetingAudioChunks; i++ {
		payload, err := audio.EncodeFrame(makeTone(s.config.GreetingChunkSamples, i))
		if err != nil {
			continue
		}
		if err := sc.send(&transport.Envelope{Type: transport.TypeMedia, Audio: payload}); err != nil {
			return
		}
	}
}

// acknowledgeSpeech 模拟远端话轮检测：先barge-in再回发转写
func (s *Server) acknowledgeSpeech(sc *sessionConn) {
	if s.config.InjectStopAudio {
		if err := sc.send(&transport.Envelope{Type: transport.TypeStopAudio}); err != nil {
			return
		}
	}

	sc.send(&transport.Envelope{Type: transport.TypeTranscription, Text: "I am ready to begin."})
}

// ForceDisconnect 不经end_session直接断开指定会话（测试连接丢失路径）
func (s *Server) ForceDisconnect(sessionID string) {
	if value, ok := s.conns.Load(sessionID); ok {
		value.(*sessionConn).conn.Close()
	}
}

// ForceDisconnectAll 断开所有会话
func (s *Server) ForceDisconnectAll() {
	s.conns.Range(func(key, value interface{}) bool {
		value.(*sessionConn).conn.Close()
		return true
	})
}

// GetStats 返回服务器统计信息
func (s *Server) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"start_calls":         s.startCalls.Load(),
		"calibration_uploads": s.calibrationUploads.Load(),
		"recording_uploads":   s.recordingUploads.Load(),
		"camera_uploads":      s.cameraUploads.Load(),
		"complete_calls":      s.completeCalls.Load(),
	}
}

// makeTone 生成简单方波采样，块间变化便于断言
func makeTone(samples, seed int) []int16 {
	out := make([]int16, samples)
	amplitude := int16(2000 + seed*500)
	for i := range out {
		if (i/48)%2 == 0 {
			out[i] = amplitude
		} else {
			out[i] = -amplitude
		}
	}
	return out
}
