// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	OpenAI  OpenAIConfig  `mapstructure:"openai"`
	Prompt  PromptConfig  `mapstructure:"prompt"`
	Session SessionConfig `mapstructure:"session"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// OpenAIConfig 存储 OpenAI Responses API 相关的配置。
// APIKey 与 VectorStoreID 优先从环境变量 OPENAI_API_KEY / VECTOR_STORE_ID 读取。
type OpenAIConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	VectorStoreID  string `mapstructure:"vector_store_id"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// PromptConfig 配置系统提示词（可选，缺省时使用内置的职业顾问提示词）。
type PromptConfig struct {
	Instructions string `mapstructure:"instructions"`
}

// SessionConfig 存储会话状态相关的配置。
type SessionConfig struct {
	// IdleExpireMinutes 为会话空闲过期时间（分钟），0 表示使用默认值。
	IdleExpireMinutes int `mapstructure:"idle_expire_minutes"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
// 环境变量优先于配置文件；配置文件不存在时仅依赖环境变量与默认值。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("openai.base_url", "https://api.openai.com/v1")
	viper.SetDefault("openai.model", "gpt-5-nano")
	viper.SetDefault("openai.timeout_seconds", 120)

	// 凭证从环境变量注入，与原部署方式保持一致（.env / 进程环境）。
	_ = viper.BindEnv("openai.api_key", "OPENAI_API_KEY")
	_ = viper.BindEnv("openai.vector_store_id", "VECTOR_STORE_ID")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// 配置文件缺失不是致命错误，环境变量与默认值足以启动。
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			panic(fmt.Errorf("读取配置文件失败: %w", err))
		}
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}

// Validate 校验启动所必需的配置项。
// 缺少任一凭证时返回错误，调用方应在监听端口之前直接终止启动。
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return errors.New("OPENAI_API_KEY 未设置，请在环境变量或 configs/config.yaml 中配置")
	}
	if c.OpenAI.VectorStoreID == "" {
		return errors.New("VECTOR_STORE_ID 未设置，请在环境变量或 configs/config.yaml 中配置")
	}
	return nil
}
