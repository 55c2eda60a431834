// Package cliflags implements a koanf.Provider that exposes the flags set
// on a cli.Context, so they can override other config sources.
package cliflags

import (
	"errors"
	"fmt"

	"github.com/knadh/koanf/maps"
	"github.com/urfave/cli/v2"
)

// CLIFlags implements a raw map[string]any provider.
type CLIFlags struct {
	mp map[string]any
}

// Provider returns a provider for the flags that were set on ctx or any of
// its parent contexts, either on the command line or through their env
// vars. Flags left at their default are omitted. cb maps flag names to
// config keys; if delim is set, the resulting keys are unflattened by it.
func Provider(ctx *cli.Context, delim string, cb func(string) string) *CLIFlags {
	flags := map[string]cli.Flag{}
	for _, c := range ctx.Lineage() {
		if c.Command != nil {
			for _, flag := range c.Command.VisibleFlags() {
				addFlag(flags, flag)
			}
		}
	}
	for _, flag := range ctx.App.VisibleFlags() {
		addFlag(flags, flag)
	}

	mp := make(map[string]any)

	for _, used := range ctx.FlagNames() {
		flag, ok := flags[used]
		if !ok {
			continue
		}

		name := flag.Names()[0]

		value, err := getFlagValue(ctx, flag)
		if err != nil {
			continue
		}

		key := name
		if cb != nil {
			key = cb(name)
		}
		mp[key] = value
	}

	// `cb` may return nested keys
	if delim != "" {
		mp = maps.Unflatten(mp, delim)
	}

	return &CLIFlags{mp: mp}
}

// ReadBytes is not supported by the cliflags provider.
func (e *CLIFlags) ReadBytes() ([]byte, error) {
	return nil, errors.New("cli provider does not support this method")
}

// Read returns the loaded map[string]any.
func (e *CLIFlags) Read() (map[string]any, error) {
	return e.mp, nil
}

// addFlag registers flag under all of its names, so it is found whichever
// alias was used.
func addFlag(flags map[string]cli.Flag, flag cli.Flag) {
	for _, name := range flag.Names() {
		if _, ok := flags[name]; !ok {
			flags[name] = flag
		}
	}
}

func getFlagValue(ctx *cli.Context, flag cli.Flag) (any, error) {
	name := flag.Names()[0]

	switch flag.(type) {
	case *cli.StringFlag:
		return ctx.String(name), nil
	case *cli.StringSliceFlag:
		return ctx.StringSlice(name), nil
	case *cli.PathFlag:
		return ctx.Path(name), nil
	case *cli.IntFlag:
		return ctx.Int(name), nil
	case *cli.IntSliceFlag:
		return ctx.IntSlice(name), nil
	case *cli.Int64Flag:
		return ctx.Int64(name), nil
	case *cli.BoolFlag:
		return ctx.Bool(name), nil
	case *cli.Float64Flag:
		return ctx.Float64(name), nil
	case *cli.DurationFlag:
		return ctx.Duration(name), nil
	}

	return nil, fmt.Errorf("unsupported flag type %T", flag)
}
