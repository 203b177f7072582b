package cmd

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/CodeMonkeyCybersecurity/surface/internal/config"
)

const envPrefix = "SURFACE"

// loadConfig layers flags, SURFACE_* environment variables and an optional
// YAML file over the built-in defaults, then validates the result.
func loadConfig(v *viper.Viper, path string) (*config.Config, error) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	registerDefaults(v, "", reflect.ValueOf(*config.DefaultConfig()))

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	loaded := &config.Config{}
	if err := v.Unmarshal(loaded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := loaded.Validate(); err != nil {
		return nil, err
	}
	return loaded, nil
}

// registerDefaults makes every config key known to viper so environment
// variables can override keys absent from the config file.
func registerDefaults(v *viper.Viper, prefix string, value reflect.Value) {
	t := value.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := field.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		fv := value.Field(i)
		if fv.Kind() == reflect.Struct {
			registerDefaults(v, key, fv)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}
