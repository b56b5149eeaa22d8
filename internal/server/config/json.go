package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/ledgersync/internal/flagx"
	"github.com/dmitrijs2005/ledgersync/internal/timex"
)

// JsonConfig is the JSON shape of Config. Durations accept "1m" or
// integer nanoseconds.
type JsonConfig struct {
	EndpointAddrGRPC      string         `json:"endpoint_addr_grpc"`
	EndpointAddrHTTP      string         `json:"endpoint_addr_http"`
	DatabaseDSN           string         `json:"database_dsn"`
	SecretKey             string         `json:"secret_key"`
	APIKey                string         `json:"api_key"`
	TokenValidityDuration timex.Duration `json:"token_validity_duration"`
	Logger                string         `json:"logger"`
	SubscriberBuffer      int            `json:"subscriber_buffer"`
}

// parseJson loads the JSON file named by -c/-config into config. Keys that
// are absent keep their current values. Read or decode errors panic.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.EndpointAddrGRPC != "" {
		config.EndpointAddrGRPC = c.EndpointAddrGRPC
	}
	if c.EndpointAddrHTTP != "" {
		config.EndpointAddrHTTP = c.EndpointAddrHTTP
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.SecretKey != "" {
		config.SecretKey = c.SecretKey
	}
	if c.APIKey != "" {
		config.APIKey = c.APIKey
	}
	if c.TokenValidityDuration.Duration != 0 {
		config.TokenValidityDuration = c.TokenValidityDuration.Duration
	}
	if c.Logger != "" {
		config.Logger = c.Logger
	}
	if c.SubscriberBuffer > 0 {
		config.SubscriberBuffer = c.SubscriberBuffer
	}
}
