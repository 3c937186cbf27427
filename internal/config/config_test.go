package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	c := Default()

	if c.Fetch.Days != 90 {
		t.Errorf("expected 90 lookback days, got %d", c.Fetch.Days)
	}
	if c.Clean.PercentKeep != 0.03 {
		t.Errorf("expected percent_keep 0.03, got %g", c.Clean.PercentKeep)
	}
	if c.Cluster.KMax != 15 || c.Cluster.Metric != "silhouette" || c.Cluster.Seed != 0 {
		t.Errorf("unexpected cluster defaults: %+v", c.Cluster)
	}
	if c.Regression.Family != "gaussian" || c.Regression.Scale {
		t.Errorf("unexpected regression defaults: %+v", c.Regression)
	}
	if c.Database.Driver != "sqlite" {
		t.Errorf("expected sqlite driver, got %s", c.Database.Driver)
	}
	if len(c.Server.CORSAllowedOrigins) != 2 {
		t.Errorf("expected 2 default CORS origins, got %v", c.Server.CORSAllowedOrigins)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plebmtg.yaml")
	yaml := "cluster:\n  k_max: 8\n  metric: davies_bouldin\nregression:\n  scale: true\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PLEBMTG_FETCH_DAYS", "30")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Cluster.KMax != 8 {
		t.Errorf("expected k_max from file, got %d", c.Cluster.KMax)
	}
	if c.Cluster.Metric != "davies_bouldin" {
		t.Errorf("expected metric from file, got %s", c.Cluster.Metric)
	}
	if !c.Regression.Scale {
		t.Error("expected scale true from file")
	}
	if c.Fetch.Days != 30 {
		t.Errorf("expected days from env, got %d", c.Fetch.Days)
	}
	if c.Clean.PercentKeep != 0.03 {
		t.Errorf("expected default percent_keep, got %g", c.Clean.PercentKeep)
	}
}

func TestLoadEnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plebmtg.yaml")
	if err := os.WriteFile(path, []byte("cluster:\n  k_max: 8\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PLEBMTG_CLUSTER_K_MAX", "4")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Cluster.KMax != 4 {
		t.Errorf("expected env k_max 4, got %d", c.Cluster.KMax)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for a missing explicit config file")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "plebmtg.yaml")
	c := Default()
	c.Cluster.KMax = 6
	c.Regression.VIFThreshold = 5
	c.Server.RefreshInterval = "6h"

	if err := Save(c, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "k_max: 6") {
		t.Errorf("expected snake_case yaml keys, got:\n%s", b)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Cluster.KMax != 6 || loaded.Regression.VIFThreshold != 5 {
		t.Errorf("round trip lost values: %+v %+v", loaded.Cluster, loaded.Regression)
	}
	every, err := loaded.RefreshEvery()
	if err != nil || every != 6*time.Hour {
		t.Errorf("expected 6h refresh, got %v (%v)", every, err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero days", func(c *Config) { c.Fetch.Days = 0 }},
		{"percent keep above one", func(c *Config) { c.Clean.PercentKeep = 1.5 }},
		{"k max one", func(c *Config) { c.Cluster.KMax = 1 }},
		{"significance one", func(c *Config) { c.Regression.SignificanceLevel = 1 }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "postgres" }},
		{"bad interval", func(c *Config) { c.Server.RefreshInterval = "daily" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestRefreshEveryDisabled(t *testing.T) {
	for _, s := range []string{"", "0"} {
		c := Default()
		c.Server.RefreshInterval = s
		d, err := c.RefreshEvery()
		if err != nil || d != 0 {
			t.Errorf("%q: expected disabled, got %v (%v)", s, d, err)
		}
	}
}

func TestConfigureLogging(t *testing.T) {
	c := Default()
	c.LogLevel = "debug"
	if err := c.ConfigureLogging(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	c.LogLevel = "loud"
	if err := c.ConfigureLogging(); err == nil {
		t.Error("expected error for unknown level")
	}
}
