package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	ShopID                 string
	CatalogCacheTTLSeconds int
	AuthSecret             string
	AccessTokenTTLMinutes  int
	ManagerPIN             string
	ReturnWindowDays       int
	SaleLookupLimit        int
	LogLevel               string
	LogFormat              string
	MigrateOnStart         bool
}

// Load reads the process environment. A .env file in the working directory,
// when present, fills in keys that are not already set.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	migrate, _ := strconv.ParseBool(getEnv("MIGRATE_ON_START", "false"))

	cfg := Config{
		Port:                   getEnv("PORT", "8080"),
		AllowedOrigin:          getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                redisDB,
		ShopID:                 getEnv("DEFAULT_SHOP_ID", "main-shop"),
		CatalogCacheTTLSeconds: getPositiveInt("CATALOG_CACHE_TTL_SECONDS", 15),
		AuthSecret:             strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:  getPositiveInt("ACCESS_TOKEN_TTL_MINUTES", 480),
		ManagerPIN:             strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		ReturnWindowDays:       getPositiveInt("RETURN_WINDOW_DAYS", 7),
		SaleLookupLimit:        getPositiveInt("SALE_LOOKUP_LIMIT", 20),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		LogFormat:              getEnv("LOG_FORMAT", "json"),
		MigrateOnStart:         migrate,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getPositiveInt(key string, fallback int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < 1 {
		return fallback
	}
	return val
}
