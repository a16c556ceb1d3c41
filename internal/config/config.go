package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type AppCfg struct {
	Env      string
	Port     string
	LogLevel string
}

type DBCfg struct {
	// Driver is "postgres" or "memory".
	Driver      string
	DSN         string
	AutoMigrate bool
	ConnectWait time.Duration
}

type RedisCfg struct{ Addr, Password string }

type KafkaCfg struct {
	Brokers []string
	Topic   string
}

type ZaloPayCfg struct {
	AppID        int64
	Key1         string
	Key2         string
	BaseURL      string
	CallbackURL  string
	RedirectURL  string
	Timeout      time.Duration
	QueryRetries uint64
	MinAmount    int64
	MaxAmount    int64
}

type ReconcileCfg struct {
	Enabled     bool
	Schedule    string
	BatchSize   int
	Concurrency int
	ItemTimeout time.Duration
	StaleAfter  time.Duration
}

type SecurityCfg struct {
	AdminToken string
}

type IDCfg struct {
	NodeID int64
}

type Cfg struct {
	App       AppCfg
	DB        DBCfg
	Redis     RedisCfg
	Kafka     KafkaCfg
	ZaloPay   ZaloPayCfg
	Reconcile ReconcileCfg
	Sec       SecurityCfg
	IDs       IDCfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "sandbox")
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("TZ", "Asia/Ho_Chi_Minh")

	v.SetDefault("STORE_DRIVER", "postgres")
	v.SetDefault("DB_AUTO_MIGRATE", false)
	v.SetDefault("DB_CONNECT_WAIT", "30s")

	v.SetDefault("KAFKA_TOPIC", "paygate.events")

	v.SetDefault("ZALOPAY_BASE_URL", "https://sb-openapi.zalopay.vn")
	v.SetDefault("ZALOPAY_TIMEOUT", "15s")
	v.SetDefault("ZALOPAY_QUERY_RETRIES", 2)
	v.SetDefault("ZALOPAY_MIN_AMOUNT", 1000)
	v.SetDefault("ZALOPAY_MAX_AMOUNT", 1000000000)

	v.SetDefault("RECONCILE_ENABLED", true)
	v.SetDefault("RECONCILE_SCHEDULE", "@every 2m")
	v.SetDefault("RECONCILE_BATCH_SIZE", 100)
	v.SetDefault("RECONCILE_CONCURRENCY", 8)
	v.SetDefault("RECONCILE_ITEM_TIMEOUT", "15s")
	v.SetDefault("RECONCILE_STALE_AFTER", "5m")

	v.SetDefault("SNOWFLAKE_NODE_ID", 1)
}

// Load reads .env (if present) and the environment, and exits on invalid settings.
func Load() Cfg {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if tz := v.GetString("TZ"); tz != "" {
		_ = os.Setenv("TZ", tz)
	}

	cfg := FromViper(v)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	return cfg
}

// FromViper builds a Cfg without validating it.
func FromViper(v *viper.Viper) Cfg {
	return Cfg{
		App: AppCfg{
			Env:      v.GetString("APP_ENV"),
			Port:     v.GetString("APP_PORT"),
			LogLevel: v.GetString("LOG_LEVEL"),
		},
		DB: DBCfg{
			Driver:      strings.ToLower(strings.TrimSpace(v.GetString("STORE_DRIVER"))),
			DSN:         v.GetString("DB_DSN"),
			AutoMigrate: v.GetBool("DB_AUTO_MIGRATE"),
			ConnectWait: v.GetDuration("DB_CONNECT_WAIT"),
		},
		Redis: RedisCfg{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
		},
		Kafka: KafkaCfg{
			Brokers: splitList(v.GetString("KAFKA_BROKERS")),
			Topic:   v.GetString("KAFKA_TOPIC"),
		},
		ZaloPay: ZaloPayCfg{
			AppID:        v.GetInt64("ZALOPAY_APP_ID"),
			Key1:         v.GetString("ZALOPAY_KEY1"),
			Key2:         v.GetString("ZALOPAY_KEY2"),
			BaseURL:      strings.TrimRight(v.GetString("ZALOPAY_BASE_URL"), "/"),
			CallbackURL:  v.GetString("ZALOPAY_CALLBACK_URL"),
			RedirectURL:  v.GetString("ZALOPAY_REDIRECT_URL"),
			Timeout:      v.GetDuration("ZALOPAY_TIMEOUT"),
			QueryRetries: v.GetUint64("ZALOPAY_QUERY_RETRIES"),
			MinAmount:    v.GetInt64("ZALOPAY_MIN_AMOUNT"),
			MaxAmount:    v.GetInt64("ZALOPAY_MAX_AMOUNT"),
		},
		Reconcile: ReconcileCfg{
			Enabled:     v.GetBool("RECONCILE_ENABLED"),
			Schedule:    v.GetString("RECONCILE_SCHEDULE"),
			BatchSize:   v.GetInt("RECONCILE_BATCH_SIZE"),
			Concurrency: v.GetInt("RECONCILE_CONCURRENCY"),
			ItemTimeout: v.GetDuration("RECONCILE_ITEM_TIMEOUT"),
			StaleAfter:  v.GetDuration("RECONCILE_STALE_AFTER"),
		},
		Sec: SecurityCfg{
			AdminToken: strings.TrimSpace(v.GetString("ADMIN_TOKEN")),
		},
		IDs: IDCfg{NodeID: v.GetInt64("SNOWFLAKE_NODE_ID")},
	}
}

// Validate fails fast on settings the service cannot run without.
func (c Cfg) Validate() error {
	var errs []error
	switch c.DB.Driver {
	case "postgres":
		if c.DB.DSN == "" {
			errs = append(errs, errors.New("DB_DSN is required when STORE_DRIVER=postgres"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", c.DB.Driver))
	}

	if c.ZaloPay.AppID <= 0 {
		errs = append(errs, errors.New("ZALOPAY_APP_ID is required"))
	}
	if c.ZaloPay.Key1 == "" || c.ZaloPay.Key2 == "" {
		errs = append(errs, errors.New("ZALOPAY_KEY1 and ZALOPAY_KEY2 are required"))
	} else if c.ZaloPay.Key1 == c.ZaloPay.Key2 {
		errs = append(errs, errors.New("ZALOPAY_KEY1 and ZALOPAY_KEY2 must differ"))
	}
	if c.ZaloPay.MinAmount <= 0 || c.ZaloPay.MaxAmount < c.ZaloPay.MinAmount {
		errs = append(errs, errors.New("ZALOPAY_MIN_AMOUNT and ZALOPAY_MAX_AMOUNT must form a positive range"))
	}
	if c.ZaloPay.Timeout <= 0 {
		errs = append(errs, errors.New("ZALOPAY_TIMEOUT must be positive"))
	}
	// A PENDING refund belongs to its own request until the call can no longer be running.
	if c.Reconcile.Enabled && c.Reconcile.StaleAfter <= c.ZaloPay.Timeout {
		errs = append(errs, fmt.Errorf("RECONCILE_STALE_AFTER (%s) must exceed ZALOPAY_TIMEOUT (%s)", c.Reconcile.StaleAfter, c.ZaloPay.Timeout))
	}
	if c.IDs.NodeID < 0 || c.IDs.NodeID > 1023 {
		errs = append(errs, errors.New("SNOWFLAKE_NODE_ID must be between 0 and 1023"))
	}
	if c.Sec.AdminToken == "" && c.App.Env != "sandbox" {
		errs = append(errs, errors.New("ADMIN_TOKEN is required outside sandbox"))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
