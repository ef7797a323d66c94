package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/nodekeeper/internal/node"
)

// Measurements written by NodeKeeper.
const (
	MeasurementLifecycle = "node_lifecycle"
	MeasurementReadiness = "node_readiness"
)

// HandleEvent records ev as lifecycle telemetry. It is a node.EventHandler
// and never blocks: points are batched by the write API.
func (c *Client) HandleEvent(ev node.Event) {
	for _, p := range eventPoints(ev) {
		c.writePoint(p)
	}
}

// eventPoints maps a node event onto one lifecycle point, plus a readiness
// point for events that carry a readiness duration.
//
//	node_lifecycle,event=ready,node=shinkai-node count=1i,failed=false
//	node_readiness,node=shinkai-node,outcome=ready elapsed_ms=182i
func eventPoints(ev node.Event) []*write.Point {
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	fields := map[string]any{
		"count":  int64(1),
		"failed": ev.Error != "",
	}
	if code, ok := ev.Details["exit_code"].(int); ok {
		fields["exit_code"] = int64(code)
	}

	points := []*write.Point{
		write.NewPoint(MeasurementLifecycle,
			map[string]string{"node": ev.Node, "event": string(ev.Type)},
			fields, ts),
	}

	switch ev.Type {
	case node.EventReady, node.EventReadyTimeout:
		points = append(points, write.NewPoint(MeasurementReadiness,
			map[string]string{"node": ev.Node, "outcome": string(ev.Type)},
			map[string]any{"elapsed_ms": ev.Elapsed.Milliseconds()}, ts))
	}

	return points
}

// WritePoint writes a custom point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.writePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func (c *Client) writePoint(p *write.Point) {
	if c.writeAPI == nil || !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}
