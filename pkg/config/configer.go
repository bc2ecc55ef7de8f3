package config

// Configer is the configuration surface every daemon and library in this module reads from.
// Implementations only have to supply raw string lookups; typed access is layered on top by keys.
type Configer interface {
	LoadFromPath(path string) error
	Load() error
	GetKey(key string) string
	MustGetKey(key string) string
	GetKeyWithDefault(key, defaultValue string) string
	GetIntKey(key string) int
	MustGetIntKey(key string) int
	GetIntKeyWithDefault(key string, defaultValue int) int
	GetInt64KeyWithDefault(key string, defaultValue int64) int64
	GetOctalKeyWithDefault(key string, defaultValue uint32) uint32
}
