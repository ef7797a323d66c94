// Package influxdb records node lifecycle telemetry in InfluxDB 2.x.
//
// The Client is registered as a node event handler. Every event becomes a
// node_lifecycle point tagged with the node name and event type; ready and
// ready_timeout events also produce a node_readiness point carrying the
// readiness wait in milliseconds.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil && !errors.Is(err, influxdb.ErrDisabled) {
//	    return err
//	}
//	if client != nil {
//	    defer client.Close()
//	    supervisor.OnEvent(client.HandleEvent)
//	}
package influxdb
