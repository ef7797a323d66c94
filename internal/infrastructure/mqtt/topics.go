package mqtt

// TopicPrefix is the root of every NodeKeeper topic.
const TopicPrefix = "nodekeeper"

// Topics builds NodeKeeper topic names.
//
//	Topics{}.NodeStatus("shinkai-node") // "nodekeeper/node/shinkai-node/status"
type Topics struct{}

// SystemStatus carries NodeKeeper's own online/offline state (retained,
// also the LWT topic).
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// NodeStatus carries the retained status report of a node.
func (Topics) NodeStatus(name string) string {
	return TopicPrefix + "/node/" + name + "/status"
}

// NodeEvents carries lifecycle events of a node.
func (Topics) NodeEvents(name string) string {
	return TopicPrefix + "/node/" + name + "/events"
}

// NodeCommand receives {"action":"spawn"|"kill"} for a node.
func (Topics) NodeCommand(name string) string {
	return TopicPrefix + "/node/" + name + "/command"
}

// AllNodeEvents matches the events topic of every node.
func (Topics) AllNodeEvents() string {
	return TopicPrefix + "/node/+/events"
}

// NodeAck carries the result of each command received on NodeCommand.
func (Topics) NodeAck(name string) string {
	return TopicPrefix + "/node/" + name + "/ack"
}
