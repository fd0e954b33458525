package config

type Config interface {
	EnvConfig
	CorsConfig
	SessionConfig
	UpstreamConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetDataFolder() string
	GetBaseURL() string
	GetLogLevel() string
	GetEnv() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	Session
	Upstream
}

// New returns the configuration built from environment variables and
// built-in defaults only.
func New() Config {
	return mainConfig{}
}

// Load returns the configuration with the YAML file at path layered between
// the built-in defaults and environment variables. An empty path behaves
// like New.
func Load(path string) (Config, error) {
	if path == "" {
		return New(), nil
	}
	f, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return mainConfig{
		Session:  Session{file: f.Session},
		Upstream: Upstream{file: f.Upstream},
	}, nil
}
