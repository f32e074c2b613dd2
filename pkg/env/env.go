package env

import (
	"os"
	"strings"
)

// Prefix namespaces every setting this service reads.
const Prefix = "BOOKSHOP"

// Get reads PREFIX_key, then key, and falls back when both are unset or blank.
func Get(key, fallback string) string {
	for _, k := range []string{Prefix + "_" + key, key} {
		if val := strings.TrimSpace(os.Getenv(k)); val != "" {
			return val
		}
	}
	return fallback
}
