package config

import (
	"strconv"

	"github.com/apex/log"
)

// keys implements the typed getters of Configer over a raw string lookup.
type keys struct {
	lookup func(key string) string
}

func (k keys) GetKey(key string) string {
	return k.lookup(key)
}

func (k keys) MustGetKey(key string) string {
	val := k.lookup(key)
	if val == "" {
		log.Fatalf("No such required config key: '%s'", key)
	}

	return val
}

func (k keys) GetKeyWithDefault(key, defaultValue string) string {
	val := k.lookup(key)
	if val == "" {
		return defaultValue
	}

	return val
}

func (k keys) GetIntKey(key string) int {
	intVal, err := strconv.Atoi(k.lookup(key))
	if err != nil {
		return 0
	}

	return intVal
}

func (k keys) MustGetIntKey(key string) int {
	intVal, err := strconv.Atoi(k.lookup(key))
	if err != nil {
		log.Fatalf("Required config key either doesn't exist or isn't an int: '%s': %s", key, err)
	}

	return intVal
}

func (k keys) GetIntKeyWithDefault(key string, defaultValue int) int {
	intVal, err := strconv.Atoi(k.lookup(key))
	if err != nil {
		return defaultValue
	}

	return intVal
}

func (k keys) GetInt64KeyWithDefault(key string, defaultValue int64) int64 {
	intVal, err := strconv.ParseInt(k.lookup(key), 10, 64)
	if err != nil {
		return defaultValue
	}

	return intVal
}

// GetOctalKeyWithDefault parses values such as "0755" or "755" as file modes.
func (k keys) GetOctalKeyWithDefault(key string, defaultValue uint32) uint32 {
	val, err := strconv.ParseUint(k.lookup(key), 8, 32)
	if err != nil {
		return defaultValue
	}

	return uint32(val)
}
