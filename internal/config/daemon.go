package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Daemon is the top-level operational configuration:
// listen endpoints plus the tunables that were constants in the original
// deployments and are now configurable via viper (env vars prefixed
// SEARCHD_, a YAML file, or explicit overrides for tests).
type Daemon struct {
	Listen []string `mapstructure:"listen"`

	KarmaPeriod   time.Duration `mapstructure:"karma_period"`
	RetryCount    int           `mapstructure:"retry_count"`
	MaxPacketSize uint32        `mapstructure:"max_packet_size"`

	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	SendTimeout    time.Duration `mapstructure:"send_timeout"`
	ReceiveTimeout time.Duration `mapstructure:"receive_timeout"`

	PersistentPoolSize int `mapstructure:"persistent_pool_size"`

	WorkerConcurrency int `mapstructure:"worker_concurrency"`

	AdminAddr      string `mapstructure:"admin_addr"`
	AdminJWTSecret string `mapstructure:"admin_jwt_secret"`

	// AcceptRatePerSecond and AcceptBurst bound the accept rate on non-VIP
	// listeners (golang.org/x/time/rate); zero means unlimited.
	AcceptRatePerSecond float64 `mapstructure:"accept_rate_per_second"`
	AcceptBurst         int     `mapstructure:"accept_burst"`
}

func defaults() Daemon {
	return Daemon{
		KarmaPeriod:         60 * time.Second,
		RetryCount:          3,
		MaxPacketSize:       8 << 20,
		ConnectTimeout:      3 * time.Second,
		SendTimeout:         5 * time.Second,
		ReceiveTimeout:      10 * time.Second,
		PersistentPoolSize:  4,
		WorkerConcurrency:   64,
		AdminAddr:           ":9313",
		AcceptRatePerSecond: 0,
		AcceptBurst:         0,
	}
}

// Load builds a Daemon config from (in increasing priority) built-in
// defaults, an optional YAML file at path (skipped if path is empty or the
// file is absent), and SEARCHD_-prefixed environment variables.
func Load(path string) (Daemon, error) {
	v := viper.New()
	d := defaults()

	v.SetDefault("listen", d.Listen)
	v.SetDefault("karma_period", d.KarmaPeriod)
	v.SetDefault("retry_count", d.RetryCount)
	v.SetDefault("max_packet_size", d.MaxPacketSize)
	v.SetDefault("connect_timeout", d.ConnectTimeout)
	v.SetDefault("send_timeout", d.SendTimeout)
	v.SetDefault("receive_timeout", d.ReceiveTimeout)
	v.SetDefault("persistent_pool_size", d.PersistentPoolSize)
	v.SetDefault("worker_concurrency", d.WorkerConcurrency)
	v.SetDefault("admin_addr", d.AdminAddr)
	v.SetDefault("admin_jwt_secret", d.AdminJWTSecret)
	v.SetDefault("accept_rate_per_second", d.AcceptRatePerSecond)
	v.SetDefault("accept_burst", d.AcceptBurst)

	v.SetEnvPrefix("searchd")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return Daemon{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	var out Daemon
	if err := v.Unmarshal(&out); err != nil {
		return Daemon{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return out, nil
}

// Endpoints parses d.Listen through ParseEndpoints, surfacing any grammar
// violation before the daemon attempts to bind anything.
func (d Daemon) Endpoints() ([]Endpoint, error) {
	return ParseEndpoints(d.Listen)
}
