// Package mqtt connects NodeKeeper to an MQTT broker.
//
// It handles connection management with auto-reconnect, publishing with
// QoS, wildcard subscriptions restored after reconnects, and a retained
// online/offline status on nodekeeper/system/status with a Last Will so
// subscribers notice a crash.
//
// Topic layout:
//
//	nodekeeper/system/status           retained, NodeKeeper online/offline
//	nodekeeper/node/{name}/status      retained, node status report
//	nodekeeper/node/{name}/events      lifecycle events
//	nodekeeper/node/{name}/command     {"action":"spawn"|"kill"}
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.NodeCommand("shinkai-node"), 1, handler)
//
// TLS should be enabled whenever the broker is not on loopback.
package mqtt
