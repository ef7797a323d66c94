// Package remote exposes a supervised node over MQTT.
//
// A Bridge publishes every node event to nodekeeper/node/{name}/events,
// keeps a retained status report on nodekeeper/node/{name}/status, and
// accepts {"action":"spawn"|"kill"} commands on
// nodekeeper/node/{name}/command, acknowledging each one on
// nodekeeper/node/{name}/ack.
package remote
