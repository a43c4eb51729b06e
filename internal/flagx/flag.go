// Package flagx lets several components parse their own flags out of the
// same command line without tripping over each other's.
package flagx

import (
	"flag"
	"os"
	"slices"
	"strings"
)

// FilterArgs returns the arguments that belong to the flags in allowed.
// Both "-f value" and "-f=value" forms are kept; a following token that
// starts with "-" is never taken as a value. Parsing stops at "--".
// The result is never nil.
func FilterArgs(args []string, allowed []string) []string {
	filtered := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		if !strings.HasPrefix(arg, "-") {
			continue
		}

		if name, _, ok := strings.Cut(arg, "="); ok {
			if slices.Contains(allowed, name) {
				filtered = append(filtered, arg)
			}
			continue
		}

		if !slices.Contains(allowed, arg) {
			continue
		}
		filtered = append(filtered, arg)
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			i++
			filtered = append(filtered, args[i])
		}
	}

	return filtered
}

// ConfigFile returns the JSON config path given with -c or -config, or "".
// When both appear the last one wins.
func ConfigFile() string {
	var path string

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.StringVar(&path, "config", "", "path to config file")
	fs.StringVar(&path, "c", "", "path to config file (short)")
	_ = fs.Parse(FilterArgs(os.Args[1:], []string{"-c", "-config"}))

	return path
}
