package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MDPREP_"

func envString(key string, def string) string {
	if v, ok := os.LookupEnv(EnvPrefix + key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

func envBool(key string, def bool) (bool, error) {
	if v, ok := os.LookupEnv(EnvPrefix + key); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, fmt.Errorf("parse %s%s: %w", EnvPrefix, key, err)
		}
		return b, nil
	}
	return def, nil
}

func envInt(key string, def int) (int, bool, error) {
	if v, ok := os.LookupEnv(EnvPrefix + key); ok {
		i, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false, fmt.Errorf("parse %s%s: %w", EnvPrefix, key, err)
		}
		return i, true, nil
	}
	return def, false, nil
}
