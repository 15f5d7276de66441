package config

import (
	"os"
	"testing"
)

func TestLoadFromBytesAppliesDefaults(t *testing.T) {
	c, err := LoadFromBytes(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Host != "127.0.0.1" || c.Port != 9876 {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.RequestTimeoutMs != 30000 || c.WriteQueueCapacity != 64 {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestLoadFromBytesExpandsEnv(t *testing.T) {
	os.Setenv("CDPRELAY_TEST_TOKEN", "sekrit")
	defer os.Unsetenv("CDPRELAY_TEST_TOKEN")

	data := []byte("bearerToken: ${CDPRELAY_TEST_TOKEN}\nport: 8080\n")
	c, err := LoadFromBytes(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.BearerToken != "sekrit" {
		t.Fatalf("expected env-expanded token, got %q", c.BearerToken)
	}
	if c.Port != 8080 {
		t.Fatalf("explicit port should override default, got %d", c.Port)
	}
}

func TestReloadableOnlyCarriesHotFields(t *testing.T) {
	c := Config{Host: "0.0.0.0", Port: 1, BearerToken: "tok", ExtensionOriginAllowList: []string{"chrome-extension://x"}}
	r := c.Reloadable()
	if r.BearerToken != "tok" || len(r.ExtensionOriginAllowList) != 1 {
		t.Fatalf("unexpected reloadable subset: %+v", r)
	}
}
