package internal

// Option configures a replica process before it starts.
type Option func(*application)

type application struct {
	config *Config
}

// WithConfig supplies the replica configuration. Required.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}
