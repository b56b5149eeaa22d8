// Package flagx contains helpers for parsing a subset of os.Args so several
// loaders (JSON path lookup, component flags) can share one command line.
package flagx

import (
	"flag"
	"os"
	"strings"
)

// FilterArgs returns the arguments from args that belong to allowedFlags,
// together with their values.
//
// Supported formats:
//  1. Flag and value as separate arguments:  -c conf.json
//  2. Flag and value combined with '=':      --config=conf.json
//
// A bare allowed flag followed by another flag is kept without a value.
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]struct{}, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = struct{}{}
	}

	filtered := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name := strings.SplitN(arg, "=", 2)[0]
			if _, ok := allowed[name]; ok {
				filtered = append(filtered, arg)
			}
			continue
		}

		if _, ok := allowed[arg]; ok {
			filtered = append(filtered, arg)
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				filtered = append(filtered, args[i+1])
				i++
			}
		}
	}

	return filtered
}

// NewFlagSet returns a ContinueOnError FlagSet and the subset of os.Args[1:]
// it should parse. Names are given without the leading dash.
func NewFlagSet(name string, names ...string) (*flag.FlagSet, []string) {
	allowed := make([]string, 0, len(names)*2)
	for _, n := range names {
		allowed = append(allowed, "-"+n, "--"+n)
	}
	return flag.NewFlagSet(name, flag.ContinueOnError), FilterArgs(os.Args[1:], allowed)
}

// JsonConfigFlags extracts the config file path given via -c or -config.
// Other arguments are ignored. An empty string means no file was requested.
func JsonConfigFlags() string {
	var config string

	fs, args := NewFlagSet("json", "c", "config")
	fs.StringVar(&config, "config", "", "Path to config file")
	fs.StringVar(&config, "c", "", "Path to config file (short)")
	_ = fs.Parse(args)

	return config
}
