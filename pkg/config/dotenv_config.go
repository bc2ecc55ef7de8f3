package config

import (
	"os"

	"github.com/subosito/gotenv"
)

// DotenvConfig loads a dotenv file into the process environment and then reads keys from the environment.
type DotenvConfig struct {
	keys
	DotenvPath string
}

func NewDotenvConfig(path string) *DotenvConfig {
	return &DotenvConfig{keys: keys{lookup: os.Getenv}, DotenvPath: path}
}

func (c *DotenvConfig) LoadFromPath(path string) error {
	c.DotenvPath = path
	return c.Load()
}

func (c *DotenvConfig) Load() error {
	if c.DotenvPath == "" {
		// Nothing to load, the environment alone is used.
		return nil
	}

	return gotenv.Load(c.DotenvPath)
}
