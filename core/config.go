package core

import (
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	DatabaseConfig struct {
		Driver        string // postgres | sqlite
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		SQLitePath    string
	}

	ServerConfig struct {
		Address         string
		DebugAddress    string
		Host            string
		ShutdownTimeout time.Duration
		SecureCookies   bool
		SessionTTL      time.Duration
		// CIDRs of reverse proxies whose X-Forwarded-For is believed; empty = use the socket address
		TrustedProxies  []string
	}

	RedisConfig struct {
		Address  string
		Password string
		DB       int
	}

	LoginConfig struct {
		MaxAttempts int
		Window      time.Duration
		Lockout     time.Duration
	}

	UploadConfig struct {
		Dir     string
		MaxSize int64
	}

	Config struct {
		AppName          string
		Env              string
		Build            string
		Debug            bool
		TestMode         bool
		SecretKey        string
		WorkDir          string
		BaseURL          string
		DefaultFromEmail mail.Address
		RollbarToken     string
		SendgridApiKey   string

		Database DatabaseConfig
		Server   ServerConfig
		Redis    RedisConfig
		Login    LoginConfig
		Upload   UploadConfig
	}
)

func (c DatabaseConfig) Address() string {
	if c.Port == "" {
		return c.Host
	}
	return c.Host + ":" + c.Port
}

// NewConfig reads the configuration from the environment (and config/.env.<env> if present).
const (
	defaultLoginMaxAttempts = 5
	defaultLoginWindow      = 15 * time.Minute
	defaultLoginLockout     = 15 * time.Minute
)

// withDefaults replaces non-positive values: a zero window panics the pruning ticker
// and a zero threshold would lock a key on its first failure.
func (c LoginConfig) withDefaults() LoginConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultLoginMaxAttempts
	}
	if c.Window <= 0 {
		c.Window = defaultLoginWindow
	}
	if c.Lockout <= 0 {
		c.Lockout = defaultLoginLockout
	}
	return c
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
}

func NewConfig() *Config {
	v := viper.New()

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}
	devOrTest := env == "DEV" || env == "TEST"

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("appName", "Gradebook")
	v.SetDefault("build", "develop")
	v.SetDefault("debug", env == "DEV")
	v.SetDefault("testMode", env == "TEST")
	v.SetDefault("secretKey", "a8#kq2!vn4-lbo0=gz$w^r+7yxm(cdt_e1hj9)sp5uf%i3")
	v.SetDefault("baseURL", "http://localhost:8000")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("defaultFromName", "Gradebook")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "gradebook")
	v.SetDefault("database.user", "gradebook")
	v.SetDefault("database.password", "")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.disableTLS", devOrTest)
	v.SetDefault("database.sqlitePath", "gradebook.db")

	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugAddress", ":4000")
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.secureCookies", !devOrTest)
	v.SetDefault("server.sessionTTL", time.Hour)
	v.SetDefault("server.trustedProxies", "") // comma separated CIDRs

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("login.maxAttempts", defaultLoginMaxAttempts)
	v.SetDefault("login.window", defaultLoginWindow)
	v.SetDefault("login.lockout", defaultLoginLockout)

	v.SetDefault("upload.dir", "uploads")
	v.SetDefault("upload.maxSize", int64(10<<20))

	wd := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}

	// DEV_DATABASE_HOST -> database.host
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Config{
		AppName:   v.GetString("appName"),
		Env:       env,
		Build:     v.GetString("build"),
		Debug:     v.GetBool("debug"),
		TestMode:  v.GetBool("testMode"),
		SecretKey: v.GetString("secretKey"),
		WorkDir:   wd,
		BaseURL:   v.GetString("baseURL"),
		DefaultFromEmail: mail.Address{
			Name:    v.GetString("defaultFromName"),
			Address: v.GetString("defaultFromEmail"),
		},
		RollbarToken:   v.GetString("rollbarToken"),
		SendgridApiKey: v.GetString("sendgridApiKey"),
		Database: DatabaseConfig{
			Driver:        v.GetString("database.driver"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
			SQLitePath:    v.GetString("database.sqlitePath"),
		},
		Server: ServerConfig{
			Address:         v.GetString("server.address"),
			DebugAddress:    v.GetString("server.debugAddress"),
			Host:            v.GetString("server.host"),
			ShutdownTimeout: v.GetDuration("server.shutdownTimeout"),
			SecureCookies:   v.GetBool("server.secureCookies"),
			SessionTTL:      v.GetDuration("server.sessionTTL"),
			TrustedProxies:  splitList(v.GetString("server.trustedProxies")),
		},
		Redis: RedisConfig{
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Login: LoginConfig{
			MaxAttempts: v.GetInt("login.maxAttempts"),
			Window:      v.GetDuration("login.window"),
			Lockout:     v.GetDuration("login.lockout"),
		}.withDefaults(),
		Upload: UploadConfig{
			Dir:     v.GetString("upload.dir"),
			MaxSize: v.GetInt64("upload.maxSize"),
		},
	}
}
