package config

import (
	"os"
	"strconv"
	"strings"
)

// getEnvAsBool parses a boolean environment variable with a default.
func getEnvAsBool(key string, defaultVal bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultVal
	}
}

func getEnvAsInt(name string, defaultVal int) int {
	if valStr := os.Getenv(name); valStr != "" {
		if val, err := strconv.Atoi(strings.TrimSpace(valStr)); err == nil {
			return val
		}
	}
	return defaultVal
}

func getEnvAsInt64(name string, defaultVal int64) int64 {
	if valStr := os.Getenv(name); valStr != "" {
		if val, err := strconv.ParseInt(strings.TrimSpace(valStr), 10, 64); err == nil {
			return val
		}
	}
	return defaultVal
}

func getEnvAsFloat(name string, defaultVal float64) float64 {
	if valStr := os.Getenv(name); valStr != "" {
		if val, err := strconv.ParseFloat(strings.TrimSpace(valStr), 64); err == nil {
			return val
		}
	}
	return defaultVal
}

func getEnvAsString(name, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		return val
	}
	return defaultVal
}

// getEnvAsSlice splits a variable on sep, dropping blank entries.
func getEnvAsSlice(name string, defaultVal []string, sep string) []string {
	valStr := os.Getenv(name)
	if strings.TrimSpace(valStr) == "" {
		return defaultVal
	}
	var out []string
	for _, s := range strings.Split(valStr, sep) {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
