/*
Copyright 2025 Veriflow Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5469"

	// DEFAULT_TOLERANCE_SECONDS bounds how far a webhook's signed timestamp
	// may drift from the receiver clock, in either direction.
	DEFAULT_TOLERANCE_SECONDS = 300
)

var ConfigStore atomic.Value

// GatewayConfig points the client at the remote verification gateway.
type GatewayConfig struct {
	BaseURL        string `json:"base_url" envconfig:"VERIFLOW_GATEWAY_BASE_URL"`
	RequestTimeout int    `json:"request_timeout_seconds" envconfig:"VERIFLOW_GATEWAY_REQUEST_TIMEOUT"`
}

// SubscriberConfig tunes both status channels. Durations are milliseconds so
// tests can shrink them without a second code path.
type SubscriberConfig struct {
	InitialBackoffMS     int `json:"initial_backoff_ms" envconfig:"VERIFLOW_SUB_INITIAL_BACKOFF_MS"`
	MaxBackoffMS         int `json:"max_backoff_ms" envconfig:"VERIFLOW_SUB_MAX_BACKOFF_MS"`
	MaxReconnectAttempts int `json:"max_reconnect_attempts" envconfig:"VERIFLOW_SUB_MAX_RECONNECT_ATTEMPTS"`
	PollMaxDurationMS    int `json:"poll_max_duration_ms" envconfig:"VERIFLOW_SUB_POLL_MAX_DURATION_MS"`
	PollRequestTimeoutMS int `json:"poll_request_timeout_ms" envconfig:"VERIFLOW_SUB_POLL_REQUEST_TIMEOUT_MS"`
	// DisablePollingFallback turns off the push-to-poll failover; the zero
	// value keeps it on.
	DisablePollingFallback bool `json:"disable_polling_fallback" envconfig:"VERIFLOW_SUB_DISABLE_POLLING_FALLBACK"`
}

// WebhookConfig configures inbound callback verification.
type WebhookConfig struct {
	SigningSecret    string `json:"signing_secret" envconfig:"VERIFLOW_WEBHOOK_SIGNING_SECRET"`
	ToleranceSeconds int    `json:"tolerance_seconds" envconfig:"VERIFLOW_WEBHOOK_TOLERANCE_SECONDS"`
	// DeliveryTTLHours bounds how long seen delivery ids are remembered for
	// replay defense beyond the timestamp window.
	DeliveryTTLHours int `json:"delivery_ttl_hours" envconfig:"VERIFLOW_WEBHOOK_DELIVERY_TTL_HOURS"`
}

// RedisConfig holds the connection string for the status store and the queue.
type RedisConfig struct {
	Dns string `json:"dns" envconfig:"VERIFLOW_REDIS_DNS"`
}

// ServerConfig configures the webhook receiver daemon.
type ServerConfig struct {
	Port      string `json:"port" envconfig:"VERIFLOW_SERVER_PORT"`
	Secure    bool   `json:"secure" envconfig:"VERIFLOW_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"VERIFLOW_SERVER_SECRET_KEY"`
}

// QueueConfig names the asynq queue webhook deliveries land on.
type QueueConfig struct {
	WebhookQueue     string `json:"webhook_queue" envconfig:"VERIFLOW_QUEUE_WEBHOOK_QUEUE"`
	NumberOfQueues   int    `json:"number_of_queues" envconfig:"VERIFLOW_QUEUE_NUMBER_OF_QUEUES"`
	MaxRetryAttempts int    `json:"max_retry_attempts" envconfig:"VERIFLOW_QUEUE_MAX_RETRY_ATTEMPTS"`
}

// RateLimitConfig configures request throttling on the receiver.
type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"VERIFLOW_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"VERIFLOW_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"VERIFLOW_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type Configuration struct {
	ProjectName string           `json:"project_name" envconfig:"VERIFLOW_PROJECT_NAME"`
	Gateway     GatewayConfig    `json:"gateway"`
	Subscriber  SubscriberConfig `json:"subscriber"`
	Webhook     WebhookConfig    `json:"webhook"`
	Redis       RedisConfig      `json:"redis"`
	Server      ServerConfig     `json:"server"`
	Queue       QueueConfig      `json:"queue"`
	RateLimit   RateLimitConfig  `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer func() {
			if err := f.Close(); err != nil {
				logrus.Error(err)
			}
		}()
		if err := json.NewDecoder(f).Decode(&cnf); err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	if err := envconfig.Process("veriflow", &cnf); err != nil {
		return err
	}

	if err := cnf.validateAndAddDefaults(); err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return nil
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called veriflow.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Veriflow Client"
	}

	if cnf.Gateway.BaseURL == "" {
		log.Println("Error: Gateway base URL is empty. It's a required field.")
		return errors.New("gateway base URL is required")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Gateway.BaseURL = strings.TrimSuffix(strings.TrimSpace(cnf.Gateway.BaseURL), "/")
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)

	if cnf.Gateway.RequestTimeout <= 0 {
		cnf.Gateway.RequestTimeout = 30
	}
	if cnf.Subscriber.InitialBackoffMS <= 0 {
		cnf.Subscriber.InitialBackoffMS = 1000
	}
	if cnf.Subscriber.MaxBackoffMS <= 0 {
		cnf.Subscriber.MaxBackoffMS = 30000
	}
	if cnf.Subscriber.MaxReconnectAttempts <= 0 {
		cnf.Subscriber.MaxReconnectAttempts = 5
	}
	if cnf.Subscriber.PollMaxDurationMS <= 0 {
		cnf.Subscriber.PollMaxDurationMS = 300000 // 5 minutes
	}
	if cnf.Subscriber.PollRequestTimeoutMS <= 0 {
		cnf.Subscriber.PollRequestTimeoutMS = 30000
	}
	if cnf.Webhook.ToleranceSeconds <= 0 {
		cnf.Webhook.ToleranceSeconds = DEFAULT_TOLERANCE_SECONDS
	}
	if cnf.Webhook.DeliveryTTLHours <= 0 {
		cnf.Webhook.DeliveryTTLHours = 24
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "veriflow_webhook_queue"
	}
	if cnf.Queue.NumberOfQueues <= 0 {
		cnf.Queue.NumberOfQueues = 1
	}
	if cnf.Queue.MaxRetryAttempts <= 0 {
		cnf.Queue.MaxRetryAttempts = 5
	}

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	if err := mockConfig.validateAndAddDefaults(); err != nil {
		logrus.Warn(err)
	}
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
