package conf

import (
	"strings"

	"github.com/arach/talkie-sub016/util/cliflags"
	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// Defaults is a flat map of config keys to default values.
type Defaults map[string]any

type ParseOptions struct {
	// Cli is the cli.Context from urfave/cli
	Cli *cli.Context

	// CliMap is a map of cli flag names to config keys
	CliMap map[string]string

	// Defaults is a map of default values
	Defaults Defaults

	// EnvPrefix is the prefix for env vars
	EnvPrefix string

	// FileName is the name of the JSON configuration file to load
	FileName string

	// EnvFileName is the name of a dotenv file to load. Its keys are
	// interpreted like environment variables.
	EnvFileName string

	// Log is the logger to use
	Log *zap.Logger
}

// Parse loads C from defaults, the config file, the dotenv file, the
// environment and cli flags, in increasing order of precedence.
func Parse[C any](opt ParseOptions) (C, error) {
	var log *zap.Logger
	if opt.Log != nil {
		log = opt.Log
	} else {
		log = zap.NewNop()
	}

	var config C

	k := koanf.New(".")

	if opt.Defaults != nil {
		if err := k.Load(confmap.Provider(opt.Defaults, "."), nil); err != nil {
			log.Error("error loading defaults", zap.Error(err))
			return config, err
		}
	}

	if opt.FileName != "" {
		if err := k.Load(file.Provider(opt.FileName), json.Parser()); err != nil {
			log.Error("error parsing file",
				zap.Error(err),
				zap.String("file", opt.FileName),
			)
			return config, err
		}
	}

	transformPrefixedEnv := func(s string) string {
		return transformEnv(s, opt.EnvPrefix)
	}

	if opt.EnvFileName != "" {
		parser := dotenv.ParserEnv(opt.EnvPrefix, ".", transformPrefixedEnv)
		if err := k.Load(file.Provider(opt.EnvFileName), parser); err != nil {
			log.Error("error parsing env file",
				zap.Error(err),
				zap.String("file", opt.EnvFileName),
			)
			return config, err
		}
	}

	if err := k.Load(env.Provider(opt.EnvPrefix, ".", transformPrefixedEnv), nil); err != nil {
		log.Error("error parsing env vars", zap.Error(err))
		return config, err
	}

	if opt.Cli != nil {
		transformFlag := func(s string) string {
			if opt.CliMap != nil {
				if name, ok := opt.CliMap[s]; ok {
					return name
				}
			}

			// replace - with _
			return strings.ReplaceAll(strings.ToLower(s), "-", "_")
		}

		if err := k.Load(cliflags.Provider(opt.Cli, ".", transformFlag), nil); err != nil {
			log.Error("error parsing cli flags", zap.Error(err))
			return config, err
		}
	}

	if err := k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{Tag: "conf"}); err != nil {
		log.Error("error unmarshalling config", zap.Error(err))
		return config, err
	}

	return config, nil
}

func transformEnv(s, prefix string) string {
	normalized := strings.ToLower(s)
	// drop the prefix if it is set
	normalized = strings.TrimPrefix(normalized, strings.ToLower(prefix))
	// allow specifying nested env vars w/ __
	return strings.ReplaceAll(normalized, "__", ".")
}
