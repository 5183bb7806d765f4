package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Identity provider backends.
const (
	ProviderLocal    = "local"
	ProviderFirebase = "firebase"
)

type Config struct {
	HTTP struct {
		Addr string
	}
	DB struct {
		Driver string
		DSN    string
	}
	Identity struct {
		Provider string
	}
	Firebase struct {
		APIKey    string
		ProjectID string
	}
	Local struct {
		JWTSecret  string
		SessionTTL time.Duration
		ResetTTL   time.Duration
	}
	Email struct {
		Provider     string
		ResendAPIKey string
		From         string
	}
	Redis struct {
		Addr     string
		Password string
	}
	Reset struct {
		MaxRequests int
		Window      time.Duration
	}
	Flow struct {
		RedirectTo     string
		SignupRedirect time.Duration
		LoginRedirect  time.Duration
		ResetRedirect  time.Duration
	}
	OTel struct {
		Endpoint string
	}
	PublicURL       string
	SessionLifetime time.Duration
	InsecureCookies bool
}

// Load reads config from environment (VETRIC_ prefix) and optional vetric.yaml.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VETRIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigName("vetric")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional config file

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("public_url", "http://localhost:8080")
	v.SetDefault("session.lifetime", "720h")
	v.SetDefault("identity.provider", ProviderLocal)
	v.SetDefault("local.session_ttl", "168h")
	v.SetDefault("local.reset_ttl", "1h")
	v.SetDefault("email.provider", "log")
	v.SetDefault("email.from", "Vetric <no-reply@vetric.dev>")
	v.SetDefault("reset.max_requests", 5)
	v.SetDefault("reset.window", "1h")
	v.SetDefault("flow.redirect_to", "/")
	v.SetDefault("flow.signup_redirect", "2s")
	v.SetDefault("flow.login_redirect", "1500ms")
	v.SetDefault("flow.reset_redirect", "1500ms")

	cfg := &Config{}
	cfg.HTTP.Addr = v.GetString("http.addr")
	cfg.PublicURL = strings.TrimRight(v.GetString("public_url"), "/")
	cfg.DB.Driver = v.GetString("db.driver")
	cfg.DB.DSN = v.GetString("db.dsn")
	cfg.Identity.Provider = strings.ToLower(v.GetString("identity.provider"))
	cfg.Firebase.APIKey = v.GetString("firebase.api_key")
	cfg.Firebase.ProjectID = v.GetString("firebase.project_id")
	cfg.Local.JWTSecret = v.GetString("local.jwt_secret")
	cfg.Email.Provider = strings.ToLower(v.GetString("email.provider"))
	cfg.Email.ResendAPIKey = v.GetString("email.resend_api_key")
	cfg.Email.From = v.GetString("email.from")
	cfg.Redis.Addr = v.GetString("redis.addr")
	cfg.Redis.Password = v.GetString("redis.password")
	cfg.Reset.MaxRequests = v.GetInt("reset.max_requests")
	cfg.Flow.RedirectTo = v.GetString("flow.redirect_to")
	cfg.OTel.Endpoint = v.GetString("otel.endpoint")
	cfg.InsecureCookies = v.GetBool("insecure_cookies")

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"session.lifetime", &cfg.SessionLifetime},
		{"local.session_ttl", &cfg.Local.SessionTTL},
		{"local.reset_ttl", &cfg.Local.ResetTTL},
		{"reset.window", &cfg.Reset.Window},
		{"flow.signup_redirect", &cfg.Flow.SignupRedirect},
		{"flow.login_redirect", &cfg.Flow.LoginRedirect},
		{"flow.reset_redirect", &cfg.Flow.ResetRedirect},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(v.GetString(d.key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", envName(d.key), err)
		}
		*d.dst = parsed
	}

	if cfg.DB.Driver == "" {
		return nil, fmt.Errorf("VETRIC_DB_DRIVER is required (sqlite3, mysql, postgres)")
	}
	if cfg.DB.DSN == "" {
		return nil, fmt.Errorf("VETRIC_DB_DSN is required")
	}

	switch cfg.Identity.Provider {
	case ProviderLocal:
		if cfg.Local.JWTSecret == "" {
			return nil, fmt.Errorf("VETRIC_LOCAL_JWT_SECRET is required for the local identity provider")
		}
	case ProviderFirebase:
		if cfg.Firebase.APIKey == "" {
			return nil, fmt.Errorf("VETRIC_FIREBASE_API_KEY is required for the firebase identity provider")
		}
		if cfg.Firebase.ProjectID == "" {
			return nil, fmt.Errorf("VETRIC_FIREBASE_PROJECT_ID is required for the firebase identity provider")
		}
	default:
		return nil, fmt.Errorf("unsupported VETRIC_IDENTITY_PROVIDER %q: must be local or firebase", cfg.Identity.Provider)
	}

	switch cfg.Email.Provider {
	case "log":
	case "resend":
		if cfg.Email.ResendAPIKey == "" {
			return nil, fmt.Errorf("VETRIC_EMAIL_RESEND_API_KEY is required when VETRIC_EMAIL_PROVIDER=resend")
		}
	default:
		return nil, fmt.Errorf("unsupported VETRIC_EMAIL_PROVIDER %q: must be log or resend", cfg.Email.Provider)
	}

	if cfg.Reset.MaxRequests < 1 {
		return nil, fmt.Errorf("VETRIC_RESET_MAX_REQUESTS must be at least 1")
	}

	return cfg, nil
}

func envName(key string) string {
	return "VETRIC_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
