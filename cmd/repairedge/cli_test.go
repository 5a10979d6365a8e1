package main

import (
	"testing"

	"repairedge/config"
	"repairedge/controller"
)

func TestParseItems(t *testing.T) {
	got, err := parseItems(" 120, 340,,7 ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 3 || got[0] != 120 || got[1] != 340 || got[2] != 7 {
		t.Errorf("items = %v", got)
	}
	for _, bad := range []string{"x", "-1", "65536"} {
		if _, err := parseItems(bad); err == nil {
			t.Errorf("parseItems(%q) accepted", bad)
		}
	}
}

func TestResolveAddress(t *testing.T) {
	cfg := config.Defaults()

	a, err := resolveAddress(cfg, "item_position")
	if err != nil || a.Space != controller.Register || a.Offset != 100 {
		t.Errorf("named = %+v err %v", a, err)
	}
	a, err = resolveAddress(cfg, "M500")
	if err != nil || a.Space != controller.Coil || a.Offset != 500 {
		t.Errorf("raw = %+v err %v", a, err)
	}
	if _, err := resolveAddress(cfg, "no_such_name"); err == nil {
		t.Error("unknown name accepted")
	}
}
