package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadDefaults 无配置文件时全部默认值可用
func TestLoadDefaults(t *testing.T) {
	manager := NewManager()
	config, err := manager.Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:18200", config.Collaborator.BaseURL)
	assert.Equal(t, uint64(1), config.Collaborator.CalibrationRetries)

	assert.Equal(t, 24000, config.Audio.SampleRate)
	assert.Equal(t, 4096, config.Audio.FrameSamples)

	assert.Equal(t, 640, config.Media.MinWidth)
	assert.Equal(t, 1280, config.Media.IdealWidth)

	assert.Equal(t, 3*time.Second, config.Timing.MicStartDelay)
	assert.Equal(t, 800*time.Millisecond, config.Timing.CameraRecorderDelay)
	assert.Equal(t, 1500*time.Millisecond, config.Timing.FlushGrace)
	assert.Equal(t, time.Second, config.Timing.ChunkInterval)
}

// TestLoadFromFile 配置文件覆盖默认值
func TestLoadFromFile(t *testing.T) {
	content := `
collaborator:
  base_url: "http://interview.example.com"
audio:
  sample_rate: 16000
timing:
  mic_start_delay: 1s
`
	path := filepath.Join(t.TempDir(), "interview.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	manager := NewManager(WithConfigPath(path))
	config, err := manager.Load()
	require.NoError(t, err)

	assert.Equal(t, "http://interview.example.com", config.Collaborator.BaseURL)
	assert.Equal(t, 16000, config.Audio.SampleRate)
	assert.Equal(t, time.Second, config.Timing.MicStartDelay)

	// 未覆盖的键保持默认值
	assert.Equal(t, 4096, config.Audio.FrameSamples)
}

// TestLoadCached Load缓存配置，重复调用返回同一实例
func TestLoadCached(t *testing.T) {
	manager := NewManager()

	first, err := manager.Load()
	require.NoError(t, err)

	second, err := manager.Get()
	require.NoError(t, err)
	assert.Same(t, first, second)
}

// TestValidateConfig 配置验证规则
func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Collaborator: CollaboratorConfig{BaseURL: "http://localhost:18200"},
			Audio:        AudioConfig{SampleRate: 24000, FrameSamples: 4096},
			Media:        MediaConfig{MinWidth: 640, MinHeight: 480, IdealWidth: 1280, IdealHeight: 720},
			Timing: TimingConfig{
				MicStartDelay:       3 * time.Second,
				CameraRecorderDelay: 800 * time.Millisecond,
				FlushGrace:          1500 * time.Millisecond,
				ChunkInterval:       time.Second,
			},
		}
	}

	require.NoError(t, validateConfig(valid()))

	c := valid()
	c.Collaborator.BaseURL = ""
	assert.Error(t, validateConfig(c))

	c = valid()
	c.Audio.SampleRate = 0
	assert.Error(t, validateConfig(c))

	c = valid()
	c.Audio.FrameSamples = -1
	assert.Error(t, validateConfig(c))

	c = valid()
	c.Media.MinWidth = 0
	assert.Error(t, validateConfig(c))

	c = valid()
	c.Timing.MicStartDelay = -time.Second
	assert.Error(t, validateConfig(c))

	c = valid()
	c.Timing.ChunkInterval = 0
	assert.Error(t, validateConfig(c))
}

// TestInvalidConfigFileRejected 非法配置文件加载失败
func TestInvalidConfigFileRejected(t *testing.T) {
	content := `
audio:
  sample_rate: -1
`
	path := filepath.Join(t.TempDir(), "interview.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	manager := NewManager(WithConfigPath(path))
	_, err := manager.Load()
	assert.Error(t, err)
}
