package main

import "testing"

func TestMaskValue(t *testing.T) {
	if got := maskValue("short"); got != "****" {
		t.Fatalf("short values must be fully masked, got %q", got)
	}
	if got := maskValue("gsk_1234567890abcd"); got != "gsk_****abcd" {
		t.Fatalf("unexpected mask: %q", got)
	}
}

func TestMaskDatabaseURL(t *testing.T) {
	cases := map[string]string{
		"postgres://soul:hunter2@db:5432/soullink": "postgres://soul:****@db:5432/soullink",
		"postgres://soul:p@ss@db/soullink":         "postgres://soul:****@db/soullink",
		"postgres://db:5432/soullink":              "postgres://db:5432/soullink",
		"sqlite:./soullink.db":                     "sqlite:./soullink.db",
	}
	for in, want := range cases {
		if got := maskDatabaseURL(in); got != want {
			t.Fatalf("maskDatabaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}
