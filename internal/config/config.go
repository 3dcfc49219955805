package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 面试会话编排器配置
type Config struct {
	Collaborator CollaboratorConfig `mapstructure:"collaborator"`
	Channel      ChannelConfig      `mapstructure:"channel"`
	Audio        AudioConfig        `mapstructure:"audio"`
	Media        MediaConfig        `mapstructure:"media"`
	Timing       TimingConfig       `mapstructure:"timing"`
}

// CollaboratorConfig 外部调度协作方配置
type CollaboratorConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	Timeout            time.Duration `mapstructure:"timeout"`
	CalibrationRetries uint64        `mapstructure:"calibration_retries"`
	RetryBackoff       time.Duration `mapstructure:"retry_backoff"`
}

// ChannelConfig 流式通道配置
type ChannelConfig struct {
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	DialRetryInterval time.Duration `mapstructure:"dial_retry_interval"`
	MaxDialTries      int           `mapstructure:"max_dial_tries"`
	EnableCompression bool          `mapstructure:"enable_compression"`
}

// AudioConfig 音频编解码配置
type AudioConfig struct {
	SampleRate   int `mapstructure:"sample_rate"`
	FrameSamples int `mapstructure:"frame_samples"`
}

// MediaConfig 摄像头分辨率约束配置
type MediaConfig struct {
	MinWidth    int `mapstructure:"min_width"`
	MinHeight   int `mapstructure:"min_height"`
	IdealWidth  int `mapstructure:"ideal_width"`
	IdealHeight int `mapstructure:"ideal_height"`
}

// TimingConfig 会话时序常量
// 这些是经验性的防误触/避竞争参数，不是协议要求，因此做成可配置默认值
type TimingConfig struct {
	// MicStartDelay 通道打开后延迟启动麦克风出站采集的宽限期，
	// 避免面试官开场白被远端误判为候选人发言
	MicStartDelay time.Duration `mapstructure:"mic_start_delay"`
	// CameraRecorderDelay 纯摄像头录制器延迟启动时间
	CameraRecorderDelay time.Duration `mapstructure:"camera_recorder_delay"`
	// FlushGrace 停止录制后等待尾部分片的宽限时间
	FlushGrace time.Duration `mapstructure:"flush_grace"`
	// ChunkInterval 录制分片时间片
	ChunkInterval time.Duration `mapstructure:"chunk_interval"`
}

// loadConfigFromFile 从配置文件加载配置（文件不存在时使用默认值）
func loadConfigFromFile(path string) (*Config, *viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("interview")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix("INTERVIEW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		// 无配置文件时全部使用默认值
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, nil, err
	}

	return &config, v, nil
}

// setDefaults 设置全部默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("collaborator.base_url", "http://localhost:18200")
	v.SetDefault("collaborator.timeout", 30*time.Second)
	v.SetDefault("collaborator.calibration_retries", 1)
	v.SetDefault("collaborator.retry_backoff", 500*time.Millisecond)

	v.SetDefault("channel.handshake_timeout", 10*time.Second)
	v.SetDefault("channel.write_timeout", 5*time.Second)
	v.SetDefault("channel.dial_retry_interval", 500*time.Millisecond)
	v.SetDefault("channel.max_dial_tries", 3)
	v.SetDefault("channel.enable_compression", true)

	v.SetDefault("audio.sample_rate", 24000)
	v.SetDefault("audio.frame_samples", 4096)

	v.SetDefault("media.min_width", 640)
	v.SetDefault("media.min_height", 480)
	v.SetDefault("media.ideal_width", 1280)
	v.SetDefault("media.ideal_height", 720)

	v.SetDefault("timing.mic_start_delay", 3*time.Second)
	v.SetDefault("timing.camera_recorder_delay", 800*time.Millisecond)
	v.SetDefault("timing.flush_grace", 1500*time.Millisecond)
	v.SetDefault("timing.chunk_interval", 1*time.Second)
}

// validateConfig 验证配置合法性
func validateConfig(config *Config) error {
	if config.Collaborator.BaseURL == "" {
		return errors.New("配置验证失败: collaborator.base_url 不能为空")
	}

	if config.Audio.SampleRate <= 0 {
		return fmt.Errorf("配置验证失败: audio.sample_rate 必须为正数, got %d", config.Audio.SampleRate)
	}

	if config.Audio.FrameSamples <= 0 {
		return fmt.Errorf("配置验证失败: audio.frame_samples 必须为正数, got %d", config.Audio.FrameSamples)
	}

	if config.Media.MinWidth <= 0 || config.Media.MinHeight <= 0 {
		return errors.New("配置验证失败: media 最小分辨率必须为正数")
	}

	for name, d := range map[string]time.Duration{
		"timing.mic_start_delay":       config.Timing.MicStartDelay,
		"timing.camera_recorder_delay": config.Timing.CameraRecorderDelay,
		"timing.flush_grace":           config.Timing.FlushGrace,
	} {
		if d < 0 {
			return fmt.Errorf("配置验证失败: %s 不能为负数", name)
		}
	}

	if config.Timing.ChunkInterval <= 0 {
		return errors.New("配置验证失败: timing.chunk_interval 必须为正数")
	}

	return nil
}
