package config

import (
	"log"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppEnv        string `env:"APP_ENV" envDefault:"production"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`
	HealthAddr    string `env:"HEALTH_ADDR" envDefault:":8090"`
	PostgresDSN   string `env:"POSTGRES_DSN,notEmpty"`
	RedisAddr     string `env:"REDIS_ADDR,notEmpty"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	TempDir     string `env:"TEMP_DIR" envDefault:"/tmp/frameward"`
	StorageKind string `env:"STORAGE_BACKEND" envDefault:"local"` // local|supabase
	StorageRoot string `env:"STORAGE_ROOT" envDefault:"/var/lib/frameward/media"`

	SupabaseURL    string `env:"SUPABASE_URL"`
	SupabaseKey    string `env:"SUPABASE_SERVICE_KEY"`
	SupabaseBucket string `env:"SUPABASE_BUCKET" envDefault:"media"`

	SMTPAddr string `env:"SMTP_ADDR"`
	SMTPUser string `env:"SMTP_USER"`
	SMTPPass string `env:"SMTP_PASS"`
	MailFrom string `env:"MAIL_FROM" envDefault:"no-reply@frameward.app"`

	FFmpegBin  string `env:"FFMPEG_BIN" envDefault:"ffmpeg"`
	FFprobeBin string `env:"FFPROBE_BIN" envDefault:"ffprobe"`
	Sprites    bool   `env:"TIMELINE_SPRITES" envDefault:"true"`

	LeaseTTLSec  int `env:"LEASE_TTL_SEC" envDefault:"90"`
	DrainTimeout int `env:"DRAIN_TIMEOUT_SEC" envDefault:"30"`
}

func Load() Config {
	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}
	return c
}
