package core

type EventType string

const (
	EventRegister  EventType = "agent.register"
	EventOnline    EventType = "agent.online"
	EventAnnounce  EventType = "update.announce"
	EventBroadcast EventType = "update.broadcast"
	EventStatus    EventType = "update.status"
)
