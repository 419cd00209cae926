package rlm

import "testing"

func TestLayerTable(t *testing.T) {
	tests := []struct {
		layer    Layer
		name     string
		span     int
		capacity int
	}{
		{LayerRaw, "raw", 24, 100},
		{LayerDay, "day", 24, 30},
		{LayerWeek, "week", 168, 52},
		{LayerMonth, "month", 720, 24},
		{LayerYear, "year", 8760, 10},
	}

	for _, tt := range tests {
		if got := tt.layer.String(); got != tt.name {
			t.Errorf("%v.String() = %q, want %q", tt.layer, got, tt.name)
		}
		if got := tt.layer.SpanHours(); got != tt.span {
			t.Errorf("%s.SpanHours() = %d, want %d", tt.name, got, tt.span)
		}
		if got := tt.layer.Capacity(); got != tt.capacity {
			t.Errorf("%s.Capacity() = %d, want %d", tt.name, got, tt.capacity)
		}
	}
}

func TestSourceLayer(t *testing.T) {
	tests := []struct {
		target Layer
		source Layer
		ok     bool
	}{
		{LayerDay, LayerRaw, true},
		{LayerWeek, LayerDay, true},
		{LayerMonth, LayerWeek, true},
		{LayerYear, LayerMonth, true},
		{LayerRaw, 0, false},
	}

	for _, tt := range tests {
		source, ok := sourceLayer(tt.target)
		if ok != tt.ok {
			t.Errorf("sourceLayer(%s) ok = %v, want %v", tt.target, ok, tt.ok)
			continue
		}
		if ok && source != tt.source {
			t.Errorf("sourceLayer(%s) = %s, want %s", tt.target, source, tt.source)
		}
	}
}
