package config

import (
	"github.com/knadh/koanf/providers/confmap"
)

func DefaultConfig() map[string]interface{} {
	return map[string]interface{}{
		"timezone": "Asia/Bangkok",
		"http": map[string]interface{}{
			"addr": ":8080",
		},
		"store": map[string]interface{}{
			"driver":         DriverSQLite,
			"sqlite_path":    "data/care_reminders.db",
			"mongo_uri":      "",
			"mongo_database": "care",
			"in_query_limit": 10,
		},
		"schedule": map[string]interface{}{
			"upcoming_interval": "5m",
			"missed_interval":   "15m",
			"daily_at":          "08:00",
			"job_timeout":       "2m",
		},
		"ledger": map[string]interface{}{
			"claim_lease": "10m",
		},
		"push": map[string]interface{}{
			"gateway_url": "",
			"api_key":     "",
			"batch_size":  500,
			"timeout":     "15s",
		},
		"telegram": map[string]interface{}{
			"token": "",
		},
		"log": map[string]interface{}{
			"level":  "info",
			"format": "text",
			"file":   "",
		},
	}
}

func NewDefaultProvider() *confmap.Confmap {
	return confmap.Provider(DefaultConfig(), ".")
}
