package main

import (
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"taskboard/internal/config"
)

func serveFlags(t *testing.T, args []string) (*pflag.FlagSet, *viper.Viper) {
	t.Helper()
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	fs.String("addr", "127.0.0.1:8080", "")
	fs.Bool("allow-reset", false, "")
	fs.String("base-path", "/v0", "")
	v := viper.New()
	v.SetEnvPrefix("TASKBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlag("base-path", fs.Lookup("base-path")); err != nil {
		t.Fatal(err)
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse %v: %v", args, err)
	}
	return fs, v
}

func TestApplyServeFlags(t *testing.T) {
	cases := []struct {
		name       string
		args       []string
		env        string
		addr       string
		basePath   string
		allowReset bool
	}{
		{name: "file values kept", addr: "0.0.0.0:9000", basePath: "/api", allowReset: true},
		{name: "addr", args: []string{"--addr", "127.0.0.1:0"}, addr: "127.0.0.1:0", basePath: "/api", allowReset: true},
		{name: "allow-reset off", args: []string{"--allow-reset=false"}, addr: "0.0.0.0:9000", basePath: "/api"},
		{name: "base-path flag", args: []string{"--base-path", "/v1"}, addr: "0.0.0.0:9000", basePath: "/v1", allowReset: true},
		{name: "base-path env", env: "/env", addr: "0.0.0.0:9000", basePath: "/env", allowReset: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.env != "" {
				t.Setenv("TASKBOARD_BASE_PATH", tc.env)
			}
			cfg := config.Default()
			cfg.Server.Addr = "0.0.0.0:9000"
			cfg.Server.BasePath = "/api"
			cfg.Server.AllowReset = true

			fs, v := serveFlags(t, tc.args)
			applyServeFlags(cfg, fs, v)
			if cfg.Server.Addr != tc.addr || cfg.Server.BasePath != tc.basePath || cfg.Server.AllowReset != tc.allowReset {
				t.Fatalf("got addr=%s base=%s reset=%v", cfg.Server.Addr, cfg.Server.BasePath, cfg.Server.AllowReset)
			}
		})
	}
}

func TestServeCmdFlags(t *testing.T) {
	cmd := serveCmd()
	for _, name := range []string{"addr", "allow-reset"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Fatalf("serve is missing --%s", name)
		}
	}
}
