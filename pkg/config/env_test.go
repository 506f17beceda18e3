package config

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("TELLER_TEST_STR", "")
	if got := GetEnv("TELLER_TEST_STR", "fallback"); got != "fallback" {
		t.Errorf("empty variable: got %q, want fallback", got)
	}

	t.Setenv("TELLER_TEST_STR", "set")
	if got := GetEnv("TELLER_TEST_STR", "fallback"); got != "set" {
		t.Errorf("set variable: got %q, want set", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		fallback int
		want     int
	}{
		{"unset", "", 42, 42},
		{"parseable", "100", 42, 100},
		{"garbage keeps fallback", "not-a-number", 7, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TELLER_TEST_INT", tt.value)
			if got := GetEnvInt("TELLER_TEST_INT", tt.fallback); got != tt.want {
				t.Errorf("GetEnvInt(%q) = %d, want %d", tt.value, got, tt.want)
			}
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("TELLER_TEST_BOOL", "")
	if !GetEnvBool("TELLER_TEST_BOOL", true) {
		t.Error("unset variable must return the fallback")
	}

	t.Setenv("TELLER_TEST_BOOL", "false")
	if GetEnvBool("TELLER_TEST_BOOL", true) {
		t.Error("explicit false must override the fallback")
	}
}

func TestGetLogLevel(t *testing.T) {
	levels := map[string]logrus.Level{
		"debug": logrus.DebugLevel,
		"warn":  logrus.WarnLevel,
		"error": logrus.ErrorLevel,
		"":      logrus.InfoLevel,
		"bogus": logrus.InfoLevel,
	}

	for value, want := range levels {
		t.Setenv("LOG_LEVEL", value)
		if got := GetLogLevel(); got != want {
			t.Errorf("LOG_LEVEL=%q: got %v, want %v", value, got, want)
		}
	}
}

func TestLoadEnvWithoutFiles(t *testing.T) {
	// No .env in the test working directory; LoadEnv must be a quiet no-op.
	LoadEnv(logrus.New())
}
