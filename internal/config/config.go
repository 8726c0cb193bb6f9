package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"phaseplanner/pkg/config"
)

type Config struct {
	DB      config.DBConfig      `yaml:"db"`
	MQ      config.MQConfig      `yaml:"mq"`
	Redis   config.RedisConfig   `yaml:"redis"`
	JWT     config.JWTConfig     `yaml:"jwt"`
	Server  config.ServerConfig  `yaml:"server"`
	Worker  config.ServerConfig  `yaml:"worker"`
	OTel    config.OTelConfig    `yaml:"otel"`
	Planner config.PlannerConfig `yaml:"planner"`
}

// Default returns the values used when a key is absent from every layer.
func Default() *Config {
	return &Config{
		DB: config.DBConfig{
			Host:               "localhost",
			Port:               5432,
			MaxConns:           10,
			SlowQueryThreshold: 100 * time.Millisecond,
		},
		Redis:  config.RedisConfig{Addr: "localhost:6379"},
		Server: config.ServerConfig{Port: ":8085"},
		Worker: config.ServerConfig{Port: ":9091"},
		Planner: config.PlannerConfig{
			CacheTTL:           10 * time.Minute,
			FixLockTTL:         30 * time.Second,
			MaxPhases:          500,
			ConsumerMaxRetries: 3,
		},
	}
}

// Load 使用统一配置中心加载配置，环境变量优先级最高
func Load() *Config {
	cfg, err := LoadFrom(config.GetConfigEnv(), config.GetEnv("CONFIG_DIR", "config"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func LoadFrom(env, dir string) (*Config, error) {
	cfgMap, err := config.LoadConfig(env, dir)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := config.Decode(cfgMap, cfg); err != nil {
		return nil, err
	}

	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	if port := config.GetEnv("WORKER_PORT", ""); port != "" {
		cfg.Worker.Port = port
	}
	config.OverrideOTelFromEnv(&cfg.OTel)
	config.OverridePlannerFromEnv(&cfg.Planner)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("db.host is required"))
	}
	if c.Planner.MaxPhases <= 0 {
		errs = append(errs, errors.New("planner.max_phases must be positive"))
	}
	if c.Planner.CacheTTL <= 0 {
		errs = append(errs, errors.New("planner.cache_ttl must be positive"))
	}
	if c.Planner.FixLockTTL <= 0 {
		errs = append(errs, errors.New("planner.fix_lock_ttl must be positive"))
	}
	return errors.Join(errs...)
}
