// Package config loads process configuration from the environment using
// caarlos0/env struct tags, the same loader the teacher collector uses.
package config

import (
	env "github.com/caarlos0/env/v11"
)

// Env holds every environment-based configuration key the system exposes.
// cors.origins and the HTTP-surface keys are parsed so the config surface is
// complete, but nothing in this module reads them: request routing is out
// of scope.
type Env struct {
	KVURL string `env:"KV_URL,required,notEmpty"`
	DBURL string `env:"DB_URL,required,notEmpty"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`

	SchedulerEnabled             bool `env:"SCHEDULER_ENABLED" envDefault:"true"`
	SchedulerRealtimeIntervalSec int  `env:"SCHEDULER_REALTIME_INTERVAL_SEC" envDefault:"60"`
	SchedulerPopularIntervalSec  int  `env:"SCHEDULER_POPULAR_INTERVAL_SEC" envDefault:"300"`
	SchedulerMaxBatchSize        int  `env:"SCHEDULER_MAX_BATCH_SIZE" envDefault:"20"`
	SchedulerActiveSymbolTTLSec  int  `env:"SCHEDULER_ACTIVE_SYMBOL_TTL_SEC" envDefault:"180"`
	SchedulerDailyBatchHour      int  `env:"SCHEDULER_DAILY_BATCH_HOUR" envDefault:"16"`
	SchedulerDailyBatchMinute    int  `env:"SCHEDULER_DAILY_BATCH_MINUTE" envDefault:"0"`

	SyncDefaultHistoryDays int `env:"SYNC_DEFAULT_HISTORY_DAYS" envDefault:"365"`
	SyncMaxHistoryYears    int `env:"SYNC_MAX_HISTORY_YEARS" envDefault:"10"`

	KISAppKey    string `env:"KIS_APP_KEY"`
	KISAppSecret string `env:"KIS_APP_SECRET"`
	KISBaseURL   string `env:"KIS_BASE_URL" envDefault:"https://openapi.koreainvestment.com:9443"`

	KRXFallbackBaseURL string `env:"KRX_FALLBACK_BASE_URL,required,notEmpty"`
	FrankfurterBaseURL string `env:"FRANKFURTER_BASE_URL" envDefault:"https://api.frankfurter.app"`
}

// LoadEnv parses Env from the process environment.
func LoadEnv() (Env, error) {
	return env.ParseAs[Env]()
}
