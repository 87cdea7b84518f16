package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const envPrefix = "JWT_FWA_"

// Load reads the configuration document at path, overlays JWT_FWA_*
// environment variables, and resolves it into a runtime Config.
//
// Precedence: environment variables override the file. Use LoadWithFlags
// to additionally layer command-line flags on top.
func Load(path string) (*Config, error) {
	return LoadWithFlags(path, nil)
}

// LoadWithFlags is Load with an additional, highest-precedence layer of
// command-line flags.
func LoadWithFlags(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config file %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment overrides: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			return f.Name, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("load command-line flags: %w", err)
		}
	}

	var file File
	if err := k.Unmarshal("", &file); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return Resolve(&file)
}

// envTransform maps JWT_FWA_AUTHORITIES__IDP__JWKS_URL to
// authorities.idp.jwks_url: double underscore nests, single underscore is
// part of the key.
func envTransform(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "__", ".")
}
