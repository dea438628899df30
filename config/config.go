package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	fileValues   map[string]string
	fileValuesMu sync.RWMutex
)

// LoadFile 加载YAML配置文件（扁平的 KEY: value 结构），作为环境变量之外的默认值来源
// 文件不存在时直接忽略
func LoadFile(path string) error {
	if path == "" {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	values := map[string]string{}
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	fileValuesMu.Lock()
	fileValues = values
	fileValuesMu.Unlock()
	return nil
}

func lookup(key string) (string, bool) {
	if value, exists := os.LookupEnv(key); exists {
		return value, true
	}
	fileValuesMu.RLock()
	defer fileValuesMu.RUnlock()
	value, exists := fileValues[key]
	return value, exists
}

// GetEnv 获取配置值：环境变量 > 配置文件 > 默认值
func GetEnv(key, defaultValue string) string {
	if value, exists := lookup(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvInt 获取配置值（整型）
func GetEnvInt(key string, defaultValue int) int {
	if value, exists := lookup(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// GetEnvBool 获取配置值（布尔型）
func GetEnvBool(key string, defaultValue bool) bool {
	if value, exists := lookup(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// GetEnvDuration 获取配置值（时长，如 5s、15m）
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := lookup(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// GetEnvFloat 获取配置值（浮点型）
func GetEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := lookup(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
