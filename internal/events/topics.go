package events

// Topics used by the gateway client.
const (
	TopicConnected    = "gateway.connected"
	TopicDisconnected = "gateway.disconnected"
	TopicError        = "gateway.error"
	TopicConfirm      = "gateway.confirm"
	TopicSkillExecute = "gateway.skill.execute"
	TopicEvent        = "gateway.event" // all other server pushes
)
