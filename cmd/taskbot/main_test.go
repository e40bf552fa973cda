package main

import (
	"testing"

	"github.com/spf13/viper"
)

func TestClip(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"two\nlines", 20, "two lines"},
		{"abcdefghij", 5, "abcd…"},
	}
	for _, tc := range cases {
		if got := clip(tc.in, tc.n); got != tc.want {
			t.Fatalf("clip(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestOverridesFromEnv(t *testing.T) {
	t.Setenv("TASKBOT_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("TASKBOT_HTTP_ADDR", "127.0.0.1:9999")
	initConfig()
	defer viper.Reset()

	o := overrides()
	if o.TelegramToken != "123:abc" || o.HTTPAddr != "127.0.0.1:9999" {
		t.Fatalf("overrides = %+v", o)
	}
}
