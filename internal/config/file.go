package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes YAML scalars such as "15m" or "2s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

type fileConfig struct {
	Session  sessionFile  `yaml:"session"`
	Upstream upstreamFile `yaml:"upstream"`
}

type sessionFile struct {
	RefreshInterval   Duration `yaml:"refresh_interval"`
	VerifyInterval    Duration `yaml:"verify_interval"`
	InactivityTimeout Duration `yaml:"inactivity_timeout"`
	ActivityThrottle  Duration `yaml:"activity_throttle"`
	LongAbsence       Duration `yaml:"long_absence"`
	CrossTabDebounce  Duration `yaml:"crosstab_debounce"`
	ReconnectTTL      Duration `yaml:"reconnect_ttl"`
	WarningLead       Duration `yaml:"warning_lead"`
	RefreshSkew       Duration `yaml:"refresh_skew"`
	CallTimeout       Duration `yaml:"call_timeout"`
}

type upstreamFile struct {
	IssuerURL    string   `yaml:"issuer_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

func readFile(path string) (fileConfig, error) {
	var f fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("[config.Load] read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("[config.Load] parse %s: %w", path, err)
	}
	return f, nil
}
