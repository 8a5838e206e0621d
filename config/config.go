package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Data     DataConfig     `yaml:"data"`
	Workflow WorkflowConfig `yaml:"workflow"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release
}

type DatabaseConfig struct {
	Type string `yaml:"type"` // sqlite, mysql
	DSN  string `yaml:"dsn"`
}

type LLMConfig struct {
	APIURL    string `yaml:"api_url"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

type DataConfig struct {
	Dir       string `yaml:"dir"`
	UploadDir string `yaml:"upload_dir"`
	OutputDir string `yaml:"output_dir"`
}

// WorkflowConfig 生成工作流配置
type WorkflowConfig struct {
	MaxConcurrency        int           `yaml:"max_concurrency"`        // 章节生成并发上限
	MaxRetries            int           `yaml:"max_retries"`            // 校验失败后的最大重试次数
	PhaseTimeout          time.Duration `yaml:"phase_timeout"`          // 单阶段超时
	EnableValidation      bool          `yaml:"enable_validation"`      // 是否启用内容校验
	EnableDifferentiation bool          `yaml:"enable_differentiation"` // 是否启用差异化改写
	MaxWorkers            int           `yaml:"max_workers"`            // 同时执行的生成运行数
}

var (
	cfg  *Config
	once sync.Once
)

func GetConfig() *Config {
	once.Do(func() {
		cfg = loadConfig()
	})
	return cfg
}

func loadConfig() *Config {
	config := &Config{
		Server: ServerConfig{
			Port: "8080",
			Mode: "debug",
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			DSN:  "./data/app.db",
		},
		LLM: LLMConfig{
			APIURL:    "https://api.openai.com/v1",
			Model:     "gpt-4o",
			MaxTokens: 4096,
		},
		Data: DataConfig{
			Dir:       "./data",
			UploadDir: "./data/uploads",
			OutputDir: "./data/outputs",
		},
		Workflow: WorkflowConfig{
			MaxConcurrency:        4,
			MaxRetries:            2,
			PhaseTimeout:          20 * time.Minute,
			EnableValidation:      true,
			EnableDifferentiation: false,
			MaxWorkers:            2,
		},
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err == nil {
		yaml.Unmarshal(data, config)
	}

	// 环境变量优先级高于配置文件
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.LLM.APIURL = baseURL
	}
	if model := os.Getenv("OPENAI_MODEL_NAME"); model != "" {
		config.LLM.Model = model
	}

	// 数据库环境变量
	if dbType := os.Getenv("DB_TYPE"); dbType != "" {
		config.Database.Type = dbType
	}
	if dbDSN := os.Getenv("DB_DSN"); dbDSN != "" {
		config.Database.DSN = dbDSN
	}

	// 数据目录环境变量
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		config.Data.Dir = dataDir
		config.Data.UploadDir = filepath.Join(dataDir, "uploads")
		config.Data.OutputDir = filepath.Join(dataDir, "outputs")
	}
	if config.Data.UploadDir == "" {
		config.Data.UploadDir = filepath.Join(config.Data.Dir, "uploads")
	}
	if config.Data.OutputDir == "" {
		config.Data.OutputDir = filepath.Join(config.Data.Dir, "outputs")
	}

	// 工作流环境变量
	if v := os.Getenv("WORKFLOW_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Workflow.MaxConcurrency = n
		}
	}
	if v := os.Getenv("WORKFLOW_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			config.Workflow.MaxRetries = n
		}
	}

	if config.Workflow.MaxConcurrency <= 0 {
		config.Workflow.MaxConcurrency = 4
	}
	if config.Workflow.MaxWorkers <= 0 {
		config.Workflow.MaxWorkers = 2
	}

	return config
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func UpdateConfig(newCfg *Config) {
	cfg = newCfg
}
