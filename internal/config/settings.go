package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	sandboxbridge "github.com/opengovern/sandbox-bridge"
	"github.com/opengovern/sandbox-bridge/adapters"
)

// EnvPrefix scopes environment overrides, e.g. SANDBOXCTL_SANDBOXES_LAB_API_KEY.
const EnvPrefix = "SANDBOXCTL"

type SandboxSettings struct {
	Type          string            `mapstructure:"type"`
	URL           string            `mapstructure:"url"`
	APIKey        string            `mapstructure:"api_key"`
	Username      string            `mapstructure:"username"`
	Password      string            `mapstructure:"password"`
	Profile       string            `mapstructure:"profile"`
	EnvironmentID int               `mapstructure:"environment_id"`
	LegacyAPI     bool              `mapstructure:"legacy_api"`
	AcceptTAC     bool              `mapstructure:"accept_tac"`
	APIPath       string            `mapstructure:"api_path"`
	Port          int               `mapstructure:"port"`
	VerifySSL     *bool             `mapstructure:"verify_ssl"`
	Proxies       map[string]string `mapstructure:"proxies"`
	Timeout       time.Duration     `mapstructure:"timeout"`
	MaxAttempts   int               `mapstructure:"max_attempts"`

	Private         bool   `mapstructure:"private"`
	ArchivePassword string `mapstructure:"archive_password"`

	ClientPKCS12         string `mapstructure:"client_pkcs12"` // path to a .p12 bundle
	ClientPKCS12Password string `mapstructure:"client_pkcs12_password"`
}

type Settings struct {
	Debug     bool                       `mapstructure:"debug"`
	Sandboxes map[string]SandboxSettings `mapstructure:"sandboxes"`
}

// Load reads settings from a YAML file. Keys present in the file can be
// overridden from the environment.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("debug"); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &settings, nil
}

// Build constructs one adapter per configured sandbox and registers it
// under its configuration key.
func Build(settings *Settings, logger *zap.Logger) (*sandboxbridge.SandboxBridge, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sdk := sandboxbridge.NewSandboxBridge()
	sdk.Debug = settings.Debug
	sdk.SetLogger(logger)

	names := make([]string, 0, len(settings.Sandboxes))
	for name := range settings.Sandboxes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sb, err := NewSandbox(settings.Sandboxes[name], logger.With(zap.String("instance", name)))
		if err != nil {
			return nil, fmt.Errorf("sandbox %q: %w", name, err)
		}
		sdk.RegisterSandbox(name, sb)
	}
	return sdk, nil
}

// NewSandbox constructs the adapter described by s.
func NewSandbox(s SandboxSettings, logger *zap.Logger) (sandboxbridge.Sandbox, error) {
	cfg, err := s.providerConfig(logger)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(s.Type) {
	case adapters.CuckooName:
		port := s.Port
		if port == 0 {
			port = adapters.CuckooDefaultPort
		}
		apiPath := s.APIPath
		if apiPath == "" {
			apiPath = "/"
		}
		return checked(adapters.NewCuckooHostAdapter(s.URL, port, apiPath, cfg))
	case adapters.FireEyeName:
		return checked(adapters.NewFireEyeAdapter(s.Username, s.Password, s.URL, s.Profile, s.LegacyAPI, cfg))
	case adapters.FalconName:
		return checked(adapters.NewFalconAdapter(s.APIKey, s.URL, s.EnvironmentID, cfg))
	case adapters.JoeName:
		return checked(adapters.NewJoeAdapter(s.APIKey, s.URL, s.AcceptTAC, cfg))
	case adapters.VMRayName:
		return checked(adapters.NewVMRayAdapter(s.APIKey, s.URL, cfg))
	case adapters.WildFireName:
		return checked(adapters.NewWildFireAdapter(s.APIKey, s.URL, cfg))
	case adapters.TriageName:
		return checked(adapters.NewTriageAdapter(s.APIKey, s.URL, s.APIPath, cfg))
	case adapters.OPSWATName:
		o, err := adapters.NewOPSWATAdapter(s.APIKey, s.URL, cfg)
		if err != nil {
			return nil, err
		}
		o.Private = s.Private
		o.ArchivePassword = s.ArchivePassword
		return o, nil
	}
	return nil, fmt.Errorf("unknown sandbox type %q", s.Type)
}

// checked keeps a failed constructor from yielding a non-nil interface.
func checked[T sandboxbridge.Sandbox](sb T, err error) (sandboxbridge.Sandbox, error) {
	if err != nil {
		return nil, err
	}
	return sb, nil
}

// providerConfig maps the transport settings. Cuckoo skips certificate
// verification unless verify_ssl is set; every other backend verifies.
func (s SandboxSettings) providerConfig(logger *zap.Logger) (*sandboxbridge.ProviderConfig, error) {
	verify := !strings.EqualFold(s.Type, adapters.CuckooName)
	if s.VerifySSL != nil {
		verify = *s.VerifySSL
	}
	cfg := &sandboxbridge.ProviderConfig{
		InsecureSkipVerify:   !verify,
		Proxies:              s.Proxies,
		Timeout:              s.Timeout,
		MaxAttempts:          s.MaxAttempts,
		ClientPKCS12Password: s.ClientPKCS12Password,
		Logger:               logger,
	}
	if s.ClientPKCS12 != "" {
		data, err := os.ReadFile(s.ClientPKCS12)
		if err != nil {
			return nil, fmt.Errorf("read client certificate: %w", err)
		}
		cfg.ClientPKCS12 = data
	}
	return cfg, nil
}
