package config

import (
	"fmt"
	"log/slog"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// SerializationEnv carries the serialization.format option.
type SerializationEnv struct {
	Format string `envconfig:"SERIALIZATION_FORMAT" default:"self-describing"`
}

type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".taskwire/archive"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"taskwire/"`
	S3Region string `envconfig:"S3_REGION" default:"ap-northeast-1"`
}

type BrokerEnv struct {
	OutputBuffer int64  `envconfig:"BROKER_OUTPUT_BUFFER" default:"256"`
	PoisonTopic  string `envconfig:"BROKER_POISON_TOPIC" default:"tasks.poison"`
}

type Env struct {
	BaseEnv
	SerializationEnv
	StorageEnv
	BrokerEnv
}

const namespace = "TASKWIRE"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelInfo
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func SerializationEnvFromEnv(env *Env) *SerializationEnv {
	return &env.SerializationEnv
}

func StorageEnvFromEnv(env *Env) *StorageEnv {
	return &env.StorageEnv
}

func BrokerEnvFromEnv(env *Env) *BrokerEnv {
	return &env.BrokerEnv
}
