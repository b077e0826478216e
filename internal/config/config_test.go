package config

import (
	"reflect"
	"testing"
)

func testConfig() Config {
	return Config{
		AudioCosts: map[int]int{128: 20, 192: 30, 320: 40},
		VideoCosts: map[int]int{144: 30, 360: 50, 720: 80, 1080: 120},
	}
}

func TestCostFor(t *testing.T) {
	cfg := testConfig()

	if got := cfg.CostFor("audio", 128); got != 20 {
		t.Fatalf("audio 128: got %d, want 20", got)
	}
	if got := cfg.CostFor("video", 1080); got != 120 {
		t.Fatalf("video 1080: got %d, want 120", got)
	}
	// Unknown tiers charge the most expensive configured one.
	if got := cfg.CostFor("audio", 999); got != 40 {
		t.Fatalf("unknown audio tier: got %d, want 40", got)
	}
	if got := cfg.CostFor("video", 999); got != 120 {
		t.Fatalf("unknown video tier: got %d, want 120", got)
	}
}

func TestQualitiesSorted(t *testing.T) {
	cfg := testConfig()

	if got := cfg.Qualities("audio"); !reflect.DeepEqual(got, []int{128, 192, 320}) {
		t.Fatalf("audio qualities: %v", got)
	}
	if got := cfg.Qualities("video"); !reflect.DeepEqual(got, []int{144, 360, 720, 1080}) {
		t.Fatalf("video qualities: %v", got)
	}
}

func TestGetEnvCosts(t *testing.T) {
	def := map[int]int{128: 20}

	t.Setenv("TEST_COSTS", "128:25, 256:50")
	if got := getEnvCosts("TEST_COSTS", def); !reflect.DeepEqual(got, map[int]int{128: 25, 256: 50}) {
		t.Fatalf("parsed costs: %v", got)
	}

	t.Setenv("TEST_COSTS", "garbage")
	if got := getEnvCosts("TEST_COSTS", def); !reflect.DeepEqual(got, def) {
		t.Fatalf("malformed value should fall back to default, got %v", got)
	}

	t.Setenv("TEST_COSTS", "")
	if got := getEnvCosts("TEST_COSTS", def); !reflect.DeepEqual(got, def) {
		t.Fatalf("empty value should fall back to default, got %v", got)
	}
}
