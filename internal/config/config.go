package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

type MQConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type JWTConfig struct {
	Secret string `yaml:"secret"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

// ProviderConfig holds the OAuth client used to refresh pool account
// credentials against the mailbox provider. Secrets come from config or
// environment, never from source.
type ProviderConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
	APIBaseURL   string `yaml:"api_base_url"`
}

// SecretsConfig holds the key used to seal pool account credentials at rest.
// The key is 32 bytes, base64-encoded in config.
type SecretsConfig struct {
	CredentialKey string `yaml:"credential_key"`
}

// EngagementConfig tunes the core pipeline.
type EngagementConfig struct {
	SchedulerIntervalMinutes int `yaml:"scheduler_interval_minutes"`
	MinReuseIntervalMinutes  int `yaml:"min_reuse_interval_minutes"`
	StateRetentionHours      int `yaml:"state_retention_hours"`
	// Candidate factor for allocator store queries. 2x is a heuristic to
	// tolerate filtering losses, not a guaranteed-sufficient bound.
	CandidateFactor     int `yaml:"candidate_factor"`
	MaxTaskDelaySeconds int `yaml:"max_task_delay_seconds"`
	MessageFetchLimit   int `yaml:"message_fetch_limit"`
	MaxTaskRetries      int `yaml:"max_task_retries"`
}

type Config struct {
	DB         DBConfig         `yaml:"db"`
	MQ         MQConfig         `yaml:"mq"`
	Redis      RedisConfig      `yaml:"redis"`
	JWT        JWTConfig        `yaml:"jwt"`
	Server     ServerConfig     `yaml:"server"`
	Provider   ProviderConfig   `yaml:"provider"`
	Secrets    SecretsConfig    `yaml:"secrets"`
	Engagement EngagementConfig `yaml:"engagement"`
}

func (c EngagementConfig) SchedulerInterval() time.Duration {
	return time.Duration(c.SchedulerIntervalMinutes) * time.Minute
}

func (c EngagementConfig) MinReuseInterval() time.Duration {
	return time.Duration(c.MinReuseIntervalMinutes) * time.Minute
}

func (c EngagementConfig) StateRetention() time.Duration {
	return time.Duration(c.StateRetentionHours) * time.Hour
}

func Load() *Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}

	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open %s: %v", path, err)
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		log.Fatalf("failed to decode %s: %v", path, err)
	}

	applyDefaults(&cfg)
	overrideFromEnv(&cfg)

	return &cfg
}

func applyDefaults(cfg *Config) {
	e := &cfg.Engagement
	if e.SchedulerIntervalMinutes == 0 {
		e.SchedulerIntervalMinutes = 15
	}
	if e.MinReuseIntervalMinutes == 0 {
		e.MinReuseIntervalMinutes = 60
	}
	if e.StateRetentionHours == 0 {
		e.StateRetentionHours = 24
	}
	if e.CandidateFactor == 0 {
		e.CandidateFactor = 2
	}
	if e.MaxTaskDelaySeconds == 0 {
		e.MaxTaskDelaySeconds = 300
	}
	if e.MessageFetchLimit == 0 {
		e.MessageFetchLimit = 5
	}
	if e.MaxTaskRetries == 0 {
		e.MaxTaskRetries = 5
	}
}

func overrideFromEnv(cfg *Config) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DB.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.DB.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DB.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DB.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.DB.Name = name
	}

	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.MQ.URL = url
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.JWT.Secret = secret
	}

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Server.Port = port
	}

	if id := os.Getenv("PROVIDER_CLIENT_ID"); id != "" {
		cfg.Provider.ClientID = id
	}
	if secret := os.Getenv("PROVIDER_CLIENT_SECRET"); secret != "" {
		cfg.Provider.ClientSecret = secret
	}
	if url := os.Getenv("PROVIDER_TOKEN_URL"); url != "" {
		cfg.Provider.TokenURL = url
	}
	if url := os.Getenv("PROVIDER_API_BASE_URL"); url != "" {
		cfg.Provider.APIBaseURL = url
	}

	if key := os.Getenv("CREDENTIAL_KEY"); key != "" {
		cfg.Secrets.CredentialKey = key
	}
}
