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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "veriflow.json")
	content := `{
		"project_name": "veriflow test",
		"gateway": {"base_url": "https://gateway.test/"},
		"webhook": {"signing_secret": "whsec_test"},
		"server": {"port": "6100"}
	}`
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))

	require.NoError(t, InitConfig(file))
	cnf, err := Fetch()
	require.NoError(t, err)

	assert.Equal(t, "veriflow test", cnf.ProjectName)
	assert.Equal(t, "https://gateway.test", cnf.Gateway.BaseURL, "trailing slash is trimmed")
	assert.Equal(t, "whsec_test", cnf.Webhook.SigningSecret)
	assert.Equal(t, "6100", cnf.Server.Port)
}

func TestInitConfigAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "veriflow.json")
	content := `{"gateway": {"base_url": "https://gateway.test"}}`
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))

	require.NoError(t, InitConfig(file))
	cnf, err := Fetch()
	require.NoError(t, err)

	assert.Equal(t, "Veriflow Client", cnf.ProjectName)
	assert.Equal(t, DEFAULT_PORT, cnf.Server.Port)
	assert.Equal(t, 1000, cnf.Subscriber.InitialBackoffMS)
	assert.Equal(t, 30000, cnf.Subscriber.MaxBackoffMS)
	assert.Equal(t, 5, cnf.Subscriber.MaxReconnectAttempts)
	assert.Equal(t, 300000, cnf.Subscriber.PollMaxDurationMS)
	assert.Equal(t, 30000, cnf.Subscriber.PollRequestTimeoutMS)
	assert.Equal(t, DEFAULT_TOLERANCE_SECONDS, cnf.Webhook.ToleranceSeconds)
	assert.Equal(t, 24, cnf.Webhook.DeliveryTTLHours)
	assert.Equal(t, "veriflow_webhook_queue", cnf.Queue.WebhookQueue)
	assert.Equal(t, 5, cnf.Queue.MaxRetryAttempts)
}

func TestInitConfigRequiresGatewayBaseURL(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "veriflow.json")
	require.NoError(t, os.WriteFile(file, []byte(`{}`), 0o644))

	assert.Error(t, InitConfig(file))
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "veriflow.json")
	content := `{"gateway": {"base_url": "https://gateway.test"}, "server": {"port": "6100"}}`
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))

	t.Setenv("VERIFLOW_SERVER_PORT", "7200")
	t.Setenv("VERIFLOW_WEBHOOK_TOLERANCE_SECONDS", "120")

	require.NoError(t, InitConfig(file))
	cnf, err := Fetch()
	require.NoError(t, err)

	assert.Equal(t, "7200", cnf.Server.Port)
	assert.Equal(t, 120, cnf.Webhook.ToleranceSeconds)
}

func TestRateLimitDefaults(t *testing.T) {
	rps := 10.0
	cnf := &Configuration{
		Gateway:   GatewayConfig{BaseURL: "https://gateway.test"},
		RateLimit: RateLimitConfig{RequestsPerSecond: &rps},
	}
	require.NoError(t, cnf.validateAndAddDefaults())

	require.NotNil(t, cnf.RateLimit.Burst)
	assert.Equal(t, 20, *cnf.RateLimit.Burst)
	require.NotNil(t, cnf.RateLimit.CleanupIntervalSec)
	assert.Equal(t, 10800, *cnf.RateLimit.CleanupIntervalSec)
}

func TestMockConfig(t *testing.T) {
	MockConfig(&Configuration{Gateway: GatewayConfig{BaseURL: "https://gateway.test"}})
	cnf, err := Fetch()
	require.NoError(t, err)
	assert.Equal(t, "https://gateway.test", cnf.Gateway.BaseURL)
}
