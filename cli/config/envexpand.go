// Package config loads testpipe.yaml and resolves validated run options.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"go.uber.org/multierr"
)

// envRef matches ${VAR}, ${VAR:-default} and ${VAR:?message}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?:(:[-?])([^}]*))?\}`)

// ExpandEnv expands variable references in input from the process
// environment. See ExpandEnvFunc.
func ExpandEnv(input string) (string, error) {
	return ExpandEnvFunc(input, os.LookupEnv)
}

// ExpandEnvFunc expands variable references in input using lookup.
//
// An unset or empty ${VAR} expands to "" and ${VAR:-default} to default.
// ${VAR:?message} fails when VAR is unset or empty; every missing
// required variable is reported.
func ExpandEnvFunc(input string, lookup func(string) (string, bool)) (string, error) {
	var errs error
	out := envRef.ReplaceAllStringFunc(input, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		name, op, arg := m[1], m[2], m[3]
		if v, ok := lookup(name); ok && v != "" {
			return v
		}
		switch op {
		case ":-":
			return arg
		case ":?":
			msg := strings.TrimSpace(arg)
			if msg == "" {
				msg = "required"
			}
			errs = multierr.Append(errs, fmt.Errorf("${%s}: %s", name, msg))
		}
		return ""
	})
	return out, errs
}
