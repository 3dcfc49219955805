package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"InterviewOrchestrator/internal/api"
	"InterviewOrchestrator/internal/config"
	"InterviewOrchestrator/internal/logger"
	"InterviewOrchestrator/internal/session"
	"InterviewOrchestrator/internal/testserver"
	"InterviewOrchestrator/internal/testutil"
	"InterviewOrchestrator/internal/transcript"
)

func main() {
	var (
		mode     = flag.String("mode", "demo", "运行模式: demo, sim, client")
		addr     = flag.String("addr", ":18200", "模拟服务器地址")
		baseURL  = flag.String("base-url", "", "调度协作方基地址（client模式）")
		jobID    = flag.String("job", "job-demo", "职位ID")
		email    = flag.String("email", "candidate@example.com", "候选人邮箱")
		duration = flag.Duration("duration", 10*time.Second, "demo会话时长")
	)
	flag.Parse()

	logger.InitLogger()

	switch *mode {
	case "demo":
		runDemo(*addr, *jobID, *email, *duration)
	case "sim":
		runSimulator(*addr)
	case "client":
		runClient(*baseURL, *jobID, *email, *duration)
	default:
		fmt.Printf("未知模式: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
}

// runDemo 运行完整演示：本地模拟服务器 + mock设备 + 会话控制器
func runDemo(addr, jobID, email string, duration time.Duration) {
	fmt.Println("🎯 面试会话编排器演示")
	fmt.Println("==================================")
	fmt.Println()

	fmt.Println("🚀 启动面试模拟服务器...")
	server := testserver.New(testserver.DefaultServerConfig(addr))
	if err := server.Start(); err != nil {
		log.Fatalf("启动模拟服务器失败: %v", err)
	}
	defer server.Shutdown(context.Background())

	time.Sleep(100 * time.Millisecond)
	fmt.Println("✅ 模拟服务器已启动")

	runClient(server.BaseURL(), jobID, email, duration)

	fmt.Println("\n📊 模拟服务器统计:")
	for key, value := range server.GetStats() {
		fmt.Printf("  %s: %v\n", key, value)
	}
}

// runSimulator 只运行模拟服务器
func runSimulator(addr string) {
	fmt.Printf("🚀 启动面试模拟服务器: %s\n", addr)

	server := testserver.New(testserver.DefaultServerConfig(addr))
	if err := server.Start(); err != nil {
		log.Fatalf("启动模拟服务器失败: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\n🛑 正在关闭...")
	server.Shutdown(context.Background())
}

// runClient 以mock设备运行一场完整会话
func runClient(baseURL, jobID, email string, duration time.Duration) {
	cfg, err := config.GetGlobalConfig()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if baseURL != "" {
		cfg.Collaborator.BaseURL = baseURL
	}

	provider := testutil.NewMockDeviceProvider()
	client := api.NewClient(&api.ClientConfig{
		BaseURL:            cfg.Collaborator.BaseURL,
		Timeout:            cfg.Collaborator.Timeout,
		CalibrationRetries: cfg.Collaborator.CalibrationRetries,
		RetryBackoff:       cfg.Collaborator.RetryBackoff,
	})

	controller := session.NewController(cfg, provider, client, jobID, email)
	controller.SetStateChangeHandler(func(oldState, newState session.State) {
		fmt.Printf("  状态: %s -> %s\n", oldState, newState)
	})

	fmt.Println("\n🎬 开始会话...")
	if err := controller.Begin(); err != nil {
		log.Fatalf("开始会话失败: %v", err)
	}

	images := [][]byte{
		[]byte("calibration-center"),
		[]byte("calibration-center-confirm"),
		[]byte("calibration-left"),
		[]byte("calibration-right"),
	}
	if err := controller.SubmitCalibration(images); err != nil {
		if failure := controller.LastFailure(); failure != nil {
			log.Fatalf("会话启动失败 [%s]: %s", failure.Kind, failure.Message)
		}
		log.Fatalf("会话启动失败: %v", err)
	}

	fmt.Printf("✅ 会话进入Active，运行 %v ...\n", duration)

	// 模拟候选人说话：持续注入麦克风帧
	go func() {
		frame := make([]int16, cfg.Audio.FrameSamples)
		for i := range frame {
			frame[i] = int16(i % 800)
		}
		ticker := time.NewTicker(170 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			if controller.State() != session.StateActive {
				return
			}
			provider.MicFeed.Push(frame)
		}
	}()

	time.Sleep(duration)

	fmt.Println("\n🛑 结束会话...")
	if err := controller.End(); err != nil {
		log.Printf("结束会话失败: %v", err)
	}

	fmt.Printf("\n✅ 最终状态: %s\n", controller.State())

	fmt.Println("\n📜 会话转写:")
	for _, entry := range controller.Transcript().Entries() {
		speaker := "候选人"
		if entry.Speaker == transcript.SpeakerInterviewer {
			speaker = "面试官"
		}
		fmt.Printf("  [%s] %s\n", speaker, entry.Text)
	}

	// 导出面试官音频留档
	if wav, err := controller.ExportInterviewerAudio(); err != nil {
		log.Printf("导出面试官音频失败: %v", err)
	} else if err := os.WriteFile("interviewer_audio.wav", wav, 0644); err != nil {
		log.Printf("写入面试官音频留档失败: %v", err)
	} else {
		fmt.Printf("\n💾 面试官音频留档: interviewer_audio.wav (%d bytes)\n", len(wav))
	}

	fmt.Println("\n📊 会话统计:")
	for key, value := range controller.GetStats() {
		fmt.Printf("  %s: %v\n", key, value)
	}
}
