package util

import (
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "afip.util")

func DebugEnabled() bool {
	return etb("AFIP_DEBUG")
}

func HttpTraceEnabled() bool {
	return etb("AFIP_HTTP_TRACE")
}

func etb(envName string) bool {
	v, ok := os.LookupEnv(envName)
	if !ok {
		return false
	}

	bv, err := strconv.ParseBool(v)

	return err == nil && bv
}

func GetEnvOrFailed(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		logger.Fatal(key, " environment variable is not set")
	}
	return v
}

func GetEnvOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// GetEnvBool returns def when the variable is unset or not a valid boolean.
func GetEnvBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	bv, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warnf("%s=%q is not a boolean, using %v", key, v, def)
		return def
	}
	return bv
}

func GetEnvDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warnf("%s=%q is not a duration, using %s", key, v, def)
		return def
	}
	return d
}
