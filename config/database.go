package config

import (
	"fmt"
	"time"

	"bookswap_go/logger"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var DB *gorm.DB

// DatabaseConfig 数据库配置结构
type DatabaseConfig struct {
	Driver       string
	Host         string
	Port         string
	User         string
	Password     string
	DBName       string
	Charset      string
	SSLMode      string
	MaxIdleConns int
	MaxOpenConns int
}

// GetDatabaseConfig 获取数据库配置
func GetDatabaseConfig() *DatabaseConfig {
	driver := GetEnv("DB_DRIVER", "mysql")
	defaultPort := "3306"
	if driver == "postgres" {
		defaultPort = "5432"
	}

	return &DatabaseConfig{
		Driver:       driver,
		Host:         GetEnv("DB_HOST", "localhost"),
		Port:         GetEnv("DB_PORT", defaultPort),
		User:         GetEnv("DB_USER", "root"),
		Password:     GetEnv("DB_PASSWORD", ""),
		DBName:       GetEnv("DB_NAME", "bookswap"),
		Charset:      GetEnv("DB_CHARSET", "utf8mb4"),
		SSLMode:      GetEnv("DB_SSLMODE", "disable"),
		MaxIdleConns: GetEnvInt("DB_MAX_IDLE_CONNS", 10),
		MaxOpenConns: GetEnvInt("DB_MAX_OPEN_CONNS", 100),
	}
}

// Dialector 根据驱动构建gorm方言
func (c *DatabaseConfig) Dialector() (gorm.Dialector, error) {
	switch c.Driver {
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=%s&parseTime=True&loc=Local",
			c.User, c.Password, c.Host, c.Port, c.DBName, c.Charset)
		return mysql.Open(dsn), nil
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", c.Driver)
	}
}

// maskPassword 掩盖密码（只显示前2个字符）
func maskPassword(pwd string) string {
	if len(pwd) == 0 {
		return "(empty)"
	}
	if len(pwd) <= 2 {
		return "***"
	}
	return pwd[:2] + "***"
}

// GormConfig 公共的gorm配置，测试也复用它
func GormConfig(debug bool) *gorm.Config {
	logLevel := gormlogger.Silent
	if debug {
		logLevel = gormlogger.Info
	}
	return &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(logLevel),
		TranslateError:                           true,
		DisableForeignKeyConstraintWhenMigrating: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// InitDatabase 初始化数据库连接
func InitDatabase() error {
	cfg := GetDatabaseConfig()

	logger.L().Info("database config loaded",
		zap.String("driver", cfg.Driver),
		zap.String("host", cfg.Host),
		zap.String("port", cfg.Port),
		zap.String("user", cfg.User),
		zap.String("db", cfg.DBName),
		zap.String("password", maskPassword(cfg.Password)),
	)

	dialector, err := cfg.Dialector()
	if err != nil {
		return err
	}

	DB, err = gorm.Open(dialector, GormConfig(GetEnv("GIN_MODE", "release") == "debug"))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	// 设置连接池参数
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	logger.L().Info("database connected")
	return nil
}

// CloseDatabase 关闭数据库连接
func CloseDatabase() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
