package config

import (
	"os"

	"github.com/apex/log"
)

var configer Configer = NewDotenvConfig("")

func SetConfig(c Configer) {
	configer = c
}

func GetConfig() Configer {
	return configer
}

// MustLoadFromDotenv loads the dotenv file named by MODUPD_DOTENV_PATH (if set) and makes it the
// package config. It exits the process when the file can't be loaded.
func MustLoadFromDotenv() Configer {
	c := NewDotenvConfig(os.Getenv("MODUPD_DOTENV_PATH"))
	if err := c.Load(); err != nil {
		log.Fatalf("Failed loading configuration file %s: %s", c.DotenvPath, err)
	}

	SetConfig(c)
	return c
}

// MustLoadFromFile loads a viper supported config file and makes it the package config.
func MustLoadFromFile(path string) Configer {
	c := NewViperConfig()
	if err := c.LoadFromPath(path); err != nil {
		log.Fatalf("Failed loading configuration file %s: %s", path, err)
	}

	SetConfig(c)
	return c
}

func GetKey(key string) string {
	return configer.GetKey(key)
}

func MustGetKey(key string) string {
	return configer.MustGetKey(key)
}

func GetKeyWithDefault(key, defaultValue string) string {
	return configer.GetKeyWithDefault(key, defaultValue)
}

func GetIntKeyWithDefault(key string, defaultValue int) int {
	return configer.GetIntKeyWithDefault(key, defaultValue)
}
