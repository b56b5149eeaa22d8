package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/flagx"
	"github.com/dmitrijs2005/ledgersync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
type JsonConfig struct {
	ServerEndpointAddr  string         `json:"server_endpoint_addr"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval"`
	DBPath              string         `json:"db_path"`
	APIKey              string         `json:"api_key"`
	LogFile             string         `json:"log_file"`
	SyncInterval        timex.Duration `json:"sync_interval"`
	BatchSize           int            `json:"batch_size"`
	PushTimeout         timex.Duration `json:"push_timeout"`
	PullTimeout         timex.Duration `json:"pull_timeout"`
	BackoffMin          timex.Duration `json:"backoff_min"`
	BackoffMax          timex.Duration `json:"backoff_max"`
	ResyncInterval      timex.Duration `json:"resync_interval"`
	S3Endpoint          string         `json:"s3_endpoint"`
	S3Region            string         `json:"s3_region"`
	S3Bucket            string         `json:"s3_bucket"`
	S3AccessKey         string         `json:"s3_access_key"`
	S3SecretKey         string         `json:"s3_secret_key"`
}

// parseJson overlays Config with values loaded from the JSON file named by
// -c or -config. Without that flag nothing happens. Read or decode errors
// panic.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString(&cfg.ServerEndpointAddr, jc.ServerEndpointAddr)
	setDuration(&cfg.OnlineCheckInterval, jc.OnlineCheckInterval)
	setString(&cfg.DBPath, jc.DBPath)
	setString(&cfg.APIKey, jc.APIKey)
	setString(&cfg.LogFile, jc.LogFile)
	setDuration(&cfg.SyncInterval, jc.SyncInterval)
	if jc.BatchSize > 0 {
		cfg.BatchSize = jc.BatchSize
	}
	setDuration(&cfg.PushTimeout, jc.PushTimeout)
	setDuration(&cfg.PullTimeout, jc.PullTimeout)
	setDuration(&cfg.BackoffMin, jc.BackoffMin)
	setDuration(&cfg.BackoffMax, jc.BackoffMax)
	setDuration(&cfg.ResyncInterval, jc.ResyncInterval)
	setString(&cfg.S3Endpoint, jc.S3Endpoint)
	setString(&cfg.S3Region, jc.S3Region)
	setString(&cfg.S3Bucket, jc.S3Bucket)
	setString(&cfg.S3AccessKey, jc.S3AccessKey)
	setString(&cfg.S3SecretKey, jc.S3SecretKey)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
