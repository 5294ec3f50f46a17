package migrate

import (
	"context"
	"testing"

	"github.com/angelmondragon/fulfillment-engine/pkg/config"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
)

func TestAutoRunEnabled(t *testing.T) {
	cases := []struct {
		name string
		env  string
		flag bool
		want bool
	}{
		{"dev with flag", config.AppEnvDev, true, true},
		{"dev without flag", config.AppEnvDev, false, false},
		{"prod with flag", config.AppEnvProd, true, false},
	}
	for _, tc := range cases {
		cfg := &config.Config{}
		cfg.App.Env = tc.env
		cfg.FeatureFlags.AutoMigrate = tc.flag
		if got := autoRunEnabled(cfg); got != tc.want {
			t.Fatalf("%s: want %v got %v", tc.name, tc.want, got)
		}
	}
	if autoRunEnabled(nil) {
		t.Fatalf("nil config must not auto-run")
	}
}

func TestMaybeRunDevSkipsOutsideDev(t *testing.T) {
	cfg := &config.Config{}
	cfg.App.Env = config.AppEnvProd
	cfg.FeatureFlags.AutoMigrate = true
	if err := MaybeRunDev(context.Background(), cfg, logger.Nop(), nil); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}
