package hardening

import (
	"strings"
	"testing"
)

func secureOptions() Options {
	return Options{
		Service:            "accessd",
		Environment:        "production",
		DatabaseRequireTLS: "true",
		RedisAddr:          "redis.internal:6380",
		RedisRequireTLS:    "true",
		CORSAllowedOrigins: "https://dashboard.example.com",
		ProviderToken:      "tok-123",
		ProviderBaseURL:    "https://api.provider.example",
	}
}

func TestValidateProductionSecure(t *testing.T) {
	if err := ValidateProduction(secureOptions()); err != nil {
		t.Fatalf("secure config must pass: %v", err)
	}
}

func TestValidateProductionSkipsNonProd(t *testing.T) {
	o := Options{Environment: "development"}
	if err := ValidateProduction(o); err != nil {
		t.Fatalf("non-production must always pass: %v", err)
	}
}

func TestValidateProductionOptOut(t *testing.T) {
	o := Options{Environment: "production", StrictProdSecurity: "false"}
	if err := ValidateProduction(o); err != nil {
		t.Fatalf("explicit opt-out must pass: %v", err)
	}
}

func TestValidateProductionFailures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Options)
		want   string
	}{
		{"missing provider token", func(o *Options) { o.ProviderToken = "" }, "PROVIDER_API_TOKEN"},
		{"plain http provider url", func(o *Options) { o.ProviderBaseURL = "http://api.provider.example" }, "HTTPS PROVIDER_BASE_URL"},
		{"db tls off", func(o *Options) { o.DatabaseRequireTLS = "" }, "DATABASE_REQUIRE_TLS"},
		{"redis tls off", func(o *Options) { o.RedisRequireTLS = "" }, "REDIS_REQUIRE_TLS"},
		{"redis tls insecure", func(o *Options) { o.RedisTLSInsecure = "true" }, "REDIS_TLS_INSECURE"},
		{"cors wildcard", func(o *Options) { o.CORSAllowedOrigins = "*" }, "wildcard"},
		{"cors localhost", func(o *Options) { o.CORSAllowedOrigins = "https://localhost:3000" }, "localhost"},
		{"cors http", func(o *Options) { o.CORSAllowedOrigins = "http://dash.example.com" }, "HTTPS CORS origin"},
		{"cors empty", func(o *Options) { o.CORSAllowedOrigins = " , " }, "CORS_ALLOWED_ORIGINS"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := secureOptions()
			tc.mutate(&o)
			err := ValidateProduction(o)
			if err == nil {
				t.Fatal("expected validation failure")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestValidateProductionStagingCounts(t *testing.T) {
	o := secureOptions()
	o.Environment = "staging"
	o.ProviderToken = ""
	if err := ValidateProduction(o); err == nil {
		t.Fatal("staging must be held to production rules")
	}
}

func TestValidateProductionNoRedisSkipsRedisChecks(t *testing.T) {
	o := secureOptions()
	o.RedisAddr = ""
	o.RedisRequireTLS = ""
	if err := ValidateProduction(o); err != nil {
		t.Fatalf("redis checks only apply when redis is configured: %v", err)
	}
}
