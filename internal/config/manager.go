package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Manager 统一配置管理器
type Manager struct {
	mu           sync.RWMutex
	config       *Config
	viper        *viper.Viper
	configPath   string
	watchEnabled bool
}

// ManagerOption 配置管理器选项
type ManagerOption func(*Manager)

// WithConfigPath 设置配置文件路径
func WithConfigPath(path string) ManagerOption {
	return func(m *Manager) {
		m.configPath = path
	}
}

// WithWatchEnabled 启用配置文件监控
func WithWatchEnabled(enabled bool) ManagerOption {
	return func(m *Manager) {
		m.watchEnabled = enabled
	}
}

// NewManager 创建配置管理器
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Load 加载配置
func (m *Manager) Load() (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config != nil {
		return m.config, nil
	}

	config, viperInstance, err := loadConfigFromFile(m.configPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	m.config = config
	m.viper = viperInstance

	if m.watchEnabled {
		m.watchConfig()
	}

	return config, nil
}

// Get 获取配置（如果未加载则自动加载）
func (m *Manager) Get() (*Config, error) {
	m.mu.RLock()
	if m.config != nil {
		defer m.mu.RUnlock()
		return m.config, nil
	}
	m.mu.RUnlock()

	return m.Load()
}

// Reload 重新加载配置
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	config, viperInstance, err := loadConfigFromFile(m.configPath)
	if err != nil {
		return fmt.Errorf("重新加载配置失败: %w", err)
	}

	m.config = config
	m.viper = viperInstance

	return nil
}

// watchConfig 监控配置文件变化
func (m *Manager) watchConfig() {
	if m.viper == nil {
		return
	}

	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		// 配置文件变化时重新加载
		m.Reload()
	})
}

// 全局配置管理器实例
var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetGlobalManager 获取全局配置管理器
func GetGlobalManager() *Manager {
	managerOnce.Do(func() {
		globalManager = NewManager(
			WithWatchEnabled(true),
		)
	})
	return globalManager
}

// GetGlobalConfig 获取全局配置
func GetGlobalConfig() (*Config, error) {
	return GetGlobalManager().Get()
}
