package memory

// Config holds the in-memory connector options. The adapter needs no
// connection settings; the type exists so the factory registry can treat
// every backend uniformly.
type Config struct{}

func (c *Config) Validate() error {
	return nil
}

func (c *Config) GetType() string {
	return "memory"
}

func DefaultConfig() *Config {
	return &Config{}
}
