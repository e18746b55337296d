package main

import "testing"

func TestSchemaCommandsSkipTokenSettings(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := newApp(); err == nil {
		t.Fatal("serve config without JWT_SECRET should fail")
	}
	a, err := newSchemaApp()
	if err != nil {
		t.Fatalf("newSchemaApp: %v", err)
	}
	defer a.close()
	if a.cfg.Database().DSN == "" {
		t.Error("database settings should be loaded")
	}
}
