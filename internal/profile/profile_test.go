package profile

import (
	"os"
	"testing"
)

func TestFromEnvDefaults(t *testing.T) {
	clearEnvVars()

	profile := &Profile{}
	profile.FromEnv()

	tests := []struct {
		name     string
		expected string
		actual   string
	}{
		{"LLMProvider default", "openai", profile.LLMProvider},
		{"LLMBaseURL default", "https://api.openai.com/v1", profile.LLMBaseURL},
		{"LLMModel default", "gpt-4o-mini", profile.LLMModel},
		{"LLMAPIKey default", "", profile.LLMAPIKey},
		{"CacheDriver default", "memory", profile.CacheDriver},
		{"RedisAddr default", "localhost:6379", profile.RedisAddr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, tt.actual)
			}
		})
	}

	if profile.LLMTimeout != 30 {
		t.Errorf("LLMTimeout default: expected 30, got %d", profile.LLMTimeout)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	tests := []struct {
		name     string
		envVar   string
		envValue string
		field    func(*Profile) string
		expected string
	}{
		{
			name:     "api key",
			envVar:   "PULSE_LLM_API_KEY",
			envValue: "test-key",
			field:    func(p *Profile) string { return p.LLMAPIKey },
			expected: "test-key",
		},
		{
			name:     "deepseek provider picks deepseek defaults",
			envVar:   "PULSE_LLM_PROVIDER",
			envValue: "deepseek",
			field:    func(p *Profile) string { return p.LLMBaseURL },
			expected: "https://api.deepseek.com",
		},
		{
			name:     "unknown provider falls back to openai",
			envVar:   "PULSE_LLM_PROVIDER",
			envValue: "no-such-provider",
			field:    func(p *Profile) string { return p.LLMProvider },
			expected: "openai",
		},
		{
			name:     "explicit base url wins over provider default",
			envVar:   "PULSE_LLM_BASE_URL",
			envValue: "http://localhost:8080/v1",
			field:    func(p *Profile) string { return p.LLMBaseURL },
			expected: "http://localhost:8080/v1",
		},
		{
			name:     "redis cache driver",
			envVar:   "PULSE_CACHE_DRIVER",
			envValue: "redis",
			field:    func(p *Profile) string { return p.CacheDriver },
			expected: "redis",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars()
			os.Setenv(tt.envVar, tt.envValue)
			defer clearEnvVars()

			profile := &Profile{}
			profile.FromEnv()

			actual := tt.field(profile)
			if actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, actual)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		profile Profile
		wantErr bool
	}{
		{
			name:    "sqlite with data dir",
			profile: Profile{Mode: "dev", Data: tmpDir, Driver: "sqlite", CacheDriver: "memory"},
			wantErr: false,
		},
		{
			name:    "postgres without dsn",
			profile: Profile{Mode: "dev", Data: tmpDir, Driver: "postgres", CacheDriver: "memory"},
			wantErr: true,
		},
		{
			name:    "unsupported driver",
			profile: Profile{Mode: "dev", Data: tmpDir, Driver: "mysql", CacheDriver: "memory"},
			wantErr: true,
		},
		{
			name:    "unsupported cache driver",
			profile: Profile{Mode: "dev", Data: tmpDir, Driver: "sqlite", CacheDriver: "memcached"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.profile.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDefaultsSqliteDSN(t *testing.T) {
	tmpDir := t.TempDir()
	profile := &Profile{Mode: "dev", Data: tmpDir, Driver: "sqlite", CacheDriver: "memory"}
	if err := profile.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
	if profile.DSN == "" {
		t.Error("expected sqlite DSN to default from data dir")
	}
}

func TestIsLLMEnabled(t *testing.T) {
	p := &Profile{}
	if p.IsLLMEnabled() {
		t.Error("expected IsLLMEnabled to be false without an API key")
	}
	p.LLMAPIKey = "k"
	if !p.IsLLMEnabled() {
		t.Error("expected IsLLMEnabled to be true with an API key")
	}
}

func clearEnvVars() {
	for _, key := range []string{
		"PULSE_LLM_PROVIDER",
		"PULSE_LLM_API_KEY",
		"PULSE_LLM_BASE_URL",
		"PULSE_LLM_MODEL",
		"PULSE_LLM_TIMEOUT_SECONDS",
		"PULSE_CACHE_DRIVER",
		"PULSE_REDIS_ADDR",
		"PULSE_REDIS_PASSWORD",
		"PULSE_REDIS_DB",
		"PULSE_SCHEDULER_CONFIG",
	} {
		os.Unsetenv(key)
	}
}
