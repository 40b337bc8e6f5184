package duco

import "testing"

func TestLevelFromOverrule(t *testing.T) {
	tests := []struct {
		code  int
		level VentilationLevel
		ok    bool
	}{
		{100, LevelHigh, true},
		{50, LevelMedium, true},
		{0, LevelLow, true},
		{255, LevelAuto, true},
		{75, "", false},
		{-1, "", false},
		{254, "", false},
	}

	for _, tt := range tests {
		level, ok := LevelFromOverrule(tt.code)
		if level != tt.level || ok != tt.ok {
			t.Errorf("LevelFromOverrule(%d) = %q, %v; want %q, %v", tt.code, level, ok, tt.level, tt.ok)
		}

		if tt.ok {
			if code, ok := level.Overrule(); !ok || code != tt.code {
				t.Errorf("%v.Overrule() = %d, %v; want %d, true", level, code, ok, tt.code)
			}
		}
	}

	if _, ok := VentilationLevel("TURBO").Overrule(); ok {
		t.Error("unknown level should have no overrule code")
	}
}

func TestDeviceTypeSupported(t *testing.T) {
	for _, supported := range []DeviceType{DeviceTypeBox, DeviceTypeVLVRH, DeviceTypeVLVCO2} {
		if !supported.Supported() {
			t.Errorf("%v.Supported() = false", supported)
		}
	}

	for _, other := range []DeviceType{"UCCO2", "SWITCH", ""} {
		if other.Supported() {
			t.Errorf("%q.Supported() = true", other)
		}
	}

	if got := DeviceTypeVLVRH.Label(); got != "Humidity Control Valve" {
		t.Errorf("Label() = %q", got)
	}
}
