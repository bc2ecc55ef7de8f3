package config

import (
	"strings"

	"github.com/spf13/viper"
)

// ViperConfig reads keys from a yaml/toml/json config file. Environment variables override file values.
type ViperConfig struct {
	keys
	v *viper.Viper
}

func NewViperConfig() *ViperConfig {
	v := viper.New()
	v.AutomaticEnv()
	c := &ViperConfig{v: v}
	c.keys = keys{lookup: c.lookup}
	return c
}

func (c *ViperConfig) LoadFromPath(path string) error {
	c.v.SetConfigFile(path)
	return c.Load()
}

func (c *ViperConfig) Load() error {
	if c.v.ConfigFileUsed() == "" {
		return nil
	}

	return c.v.ReadInConfig()
}

// lookup accepts both the env style key (MODS_TEMP_DIR) and its lower case form used in config files.
func (c *ViperConfig) lookup(key string) string {
	if val := c.v.GetString(key); val != "" {
		return val
	}

	return c.v.GetString(strings.ToLower(key))
}
