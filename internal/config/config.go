package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述了 CoVault 在启动阶段需要加载的核心配置。
type Config struct {
	Server       ServerConfig       `json:"server"`
	Network      NetworkConfig      `json:"network"`
	Keystore     KeystoreConfig     `json:"keystore"`
	Storage      StorageConfig      `json:"storage"`
	Coordination CoordinationConfig `json:"coordination"`
	Notify       NotifyConfig       `json:"notify"`
	Logging      LoggingConfig      `json:"logging"`
	Runtime      RuntimeConfig      `json:"runtime"`
}

// ServerConfig 控制只读 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// NetworkConfig 选择活跃网络并允许覆盖内置网络档案。
type NetworkConfig struct {
	ChainID       uint64 `json:"chain_id"`
	ProfilesFile  string `json:"profiles_file"`
	MinFundingWei string `json:"min_funding_wei"`
	SlippageBps   int64  `json:"slippage_bps"`
}

// KeystoreConfig 描述智能体签名身份的存放位置。
// 口令优先从 PassphraseEnv 指向的环境变量读取，避免写进配置文件。
type KeystoreConfig struct {
	Dir           string `json:"dir"`
	Passphrase    string `json:"passphrase"`
	PassphraseEnv string `json:"passphrase_env"`
}

// ResolvePassphrase 返回实际使用的口令。
func (k KeystoreConfig) ResolvePassphrase() string {
	if k.PassphraseEnv != "" {
		if v := os.Getenv(k.PassphraseEnv); v != "" {
			return v
		}
	}
	return k.Passphrase
}

// StorageConfig 选择持久化后端。file 后端适用于单进程安装,
// 多实例共享一套安装时切换到 mysql。
type StorageConfig struct {
	Driver  string `json:"driver"`
	DSN     string `json:"dsn"`
	DataDir string `json:"data_dir"`
}

// CoordinationConfig 覆盖协调服务的默认地址。
type CoordinationConfig struct {
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// NotifyConfig 选择事件投递通道。
type NotifyConfig struct {
	Driver   string         `json:"driver"`
	Redis    RedisNotify    `json:"redis"`
	RabbitMQ RabbitMQNotify `json:"rabbitmq"`
}

// RedisNotify 描述 Redis 投递通道的连接参数。
type RedisNotify struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Channel  string `json:"channel"`
}

// RabbitMQNotify 描述 RabbitMQ 投递通道的连接参数。
type RabbitMQNotify struct {
	URL     string `json:"url"`
	Queue   string `json:"queue"`
	Durable bool   `json:"durable"`
}

// LoggingConfig 控制日志输出与审计日志。
type LoggingConfig struct {
	Level        string   `json:"level"`
	Format       string   `json:"format"`
	OutputPaths  []string `json:"output_paths"`
	AuditEnabled bool     `json:"audit_enabled"`
	AuditPath    string   `json:"audit_path"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// Default 返回不依赖配置文件的默认配置，baseDir 作为数据根目录。
func Default(baseDir string) *Config {
	cfg := &Config{}
	cfg.applyDefaults(baseDir)
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8090"
	}

	if c.Network.ChainID == 0 {
		c.Network.ChainID = 1
	}
	if c.Network.SlippageBps <= 0 {
		c.Network.SlippageBps = 50
	}
	if c.Network.ProfilesFile != "" && !filepath.IsAbs(c.Network.ProfilesFile) {
		c.Network.ProfilesFile = filepath.Join(baseDir, c.Network.ProfilesFile)
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.Keystore.Dir == "" {
		c.Keystore.Dir = filepath.Join(c.Runtime.DataDir, "keystore")
	} else if !filepath.IsAbs(c.Keystore.Dir) {
		c.Keystore.Dir = filepath.Join(baseDir, c.Keystore.Dir)
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "file"
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = c.Runtime.DataDir
	} else if !filepath.IsAbs(c.Storage.DataDir) {
		c.Storage.DataDir = filepath.Join(baseDir, c.Storage.DataDir)
	}

	if c.Coordination.TimeoutSeconds <= 0 {
		c.Coordination.TimeoutSeconds = 30
	}

	if c.Notify.Driver == "" {
		c.Notify.Driver = "log"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.AuditEnabled && c.Logging.AuditPath == "" {
		c.Logging.AuditPath = filepath.Join(c.Runtime.DataDir, "audit", "covault-audit.log")
	}
}
