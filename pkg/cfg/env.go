package cfg

import (
	"os"
	"strings"
)

// String returns the trimmed value of key, or def when it is unset or blank.
func String(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

// Env is APP_ENV lower-cased, "dev" when unset.
func Env() string {
	return strings.ToLower(String("APP_ENV", "dev"))
}

func IsDev() bool { return Env() == "dev" }
