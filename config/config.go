package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`
	// AI 相关外部服务（叙事结构化 worker / 配音 worker）
	AI struct {
		NarrativeAPI string `yaml:"narrative_api"`
		VoiceAPI     string `yaml:"voice_api"`
		VoiceLang    string `yaml:"voice_lang"`
	} `yaml:"ai"`
	// Kling 视频生成（密钥从环境变量读取，不写进 yaml）
	Kling struct {
		BaseURL      string `yaml:"base_url"`
		PollInterval int    `yaml:"poll_interval"` // 秒
		MaxWait      int    `yaml:"max_wait"`      // 秒，轮询硬上限
		AspectRatio  string `yaml:"aspect_ratio"`
	} `yaml:"kling"`
	MinIO struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Bucket    string `yaml:"bucket"`
		UseSSL    bool   `yaml:"use_ssl"`
		Domain    string `yaml:"domain"`
	} `yaml:"minio"`
}

var AppConfig *Config

func InitConfig() {
	// .env 里放 KLING_ACCESS_KEY / KLING_SECRET_KEY 等密钥，缺失时不报错（走 mock 降级）
	_ = godotenv.Load()

	f, err := os.Open("config/config.yaml")
	if err != nil {
		log.Fatalf("配置文件读取失败: %v", err)
	}
	defer f.Close()
	decoder := yaml.NewDecoder(f)
	AppConfig = &Config{}
	if err := decoder.Decode(AppConfig); err != nil {
		log.Fatalf("配置文件解析失败: %v", err)
	}

	if AppConfig.Kling.BaseURL == "" {
		AppConfig.Kling.BaseURL = "https://api.klingai.com/v1"
	}
	if AppConfig.Kling.PollInterval <= 0 {
		AppConfig.Kling.PollInterval = 10
	}
	if AppConfig.Kling.MaxWait <= 0 {
		AppConfig.Kling.MaxWait = 3600
	}
	if AppConfig.Kling.AspectRatio == "" {
		AppConfig.Kling.AspectRatio = "16:9"
	}
	if AppConfig.AI.VoiceLang == "" {
		AppConfig.AI.VoiceLang = "en"
	}
}

// KlingAccessKey / KlingSecretKey 读取环境变量，两者任一为空时生成端会降级为 mock
func KlingAccessKey() string { return os.Getenv("KLING_ACCESS_KEY") }
func KlingSecretKey() string { return os.Getenv("KLING_SECRET_KEY") }

func KlingPollInterval() time.Duration {
	return time.Duration(AppConfig.Kling.PollInterval) * time.Second
}

func KlingMaxWait() time.Duration {
	return time.Duration(AppConfig.Kling.MaxWait) * time.Second
}
