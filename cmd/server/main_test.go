package main

import (
	"testing"

	"elektromart/backend/internal/config"
)

const strongSecret = "0123456789abcdef0123456789abcdef"

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	cases := map[string]config.Config{
		"short secret":        {AuthSecret: "short"},
		"short bootstrap pwd": {AuthSecret: strongSecret, BootstrapAdminPassword: "admin"},
		"migrations no db":    {AuthSecret: strongSecret, RunMigrations: true},
	}
	for name, cfg := range cases {
		if err := validateSecurityConfig(cfg); err == nil {
			t.Fatalf("%s: expected config to be rejected", name)
		}
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{
		AuthSecret:             strongSecret,
		BootstrapAdminPassword: "long-enough-password",
		DatabaseURL:            "postgres://elektromart@localhost/elektromart",
		RunMigrations:          true,
	})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}
