package rlm

// Layer is one of the five fixed time-resolution tiers of the context
// hierarchy. Raw holds recent events verbatim; the higher layers hold
// period summaries derived from the layer below.
type Layer int

const (
	LayerRaw Layer = iota
	LayerDay
	LayerWeek
	LayerMonth
	LayerYear
)

// Layers lists every tier in priority order, most detailed first. Query
// retrieval and summarization both walk this order.
var Layers = []Layer{LayerRaw, LayerDay, LayerWeek, LayerMonth, LayerYear}

var layerNames = map[Layer]string{
	LayerRaw:   "raw",
	LayerDay:   "day",
	LayerWeek:  "week",
	LayerMonth: "month",
	LayerYear:  "year",
}

var layerSpanHours = map[Layer]int{
	LayerRaw:   24,
	LayerDay:   24,
	LayerWeek:  168,
	LayerMonth: 720,
	LayerYear:  8760,
}

var layerCapacities = map[Layer]int{
	LayerRaw:   100,
	LayerDay:   30,
	LayerWeek:  52,
	LayerMonth: 24,
	LayerYear:  10,
}

func (l Layer) String() string {
	if name, ok := layerNames[l]; ok {
		return name
	}
	return "unknown"
}

// SpanHours is the time span this layer covers, in hours.
func (l Layer) SpanHours() int {
	return layerSpanHours[l]
}

// Capacity is the maximum number of entries this layer holds.
func (l Layer) Capacity() int {
	return layerCapacities[l]
}

// sourceLayer returns the next more-detailed layer that feeds target when
// summarizing. Raw has no source.
func sourceLayer(target Layer) (Layer, bool) {
	switch target {
	case LayerDay:
		return LayerRaw, true
	case LayerWeek:
		return LayerDay, true
	case LayerMonth:
		return LayerWeek, true
	case LayerYear:
		return LayerMonth, true
	default:
		return 0, false
	}
}
