package logging

type Category string
type SubCategory string
type ExtraKey string

const (
	General         Category = "General"
	Internal        Category = "Internal"
	RabbitMQ        Category = "RabbitMQ"
	MongoDB         Category = "MongoDB"
	Validation      Category = "Validation"
	RequestResponse Category = "RequestResponse"
	Room            Category = "Room"
	Sync            Category = "Sync"
	Chat            Category = "Chat"
	Auth            Category = "Auth"
	WebSocket       Category = "WebSocket"
	Storage         Category = "Storage"
)

const (
	// General
	Startup         SubCategory = "Startup"
	Shutdown        SubCategory = "Shutdown"
	RateLimiting    SubCategory = "RateLimiting"
	ExternalService SubCategory = "ExternalService"

	// Room
	Lifecycle SubCategory = "Lifecycle"
	Presence  SubCategory = "Presence"

	// Sync
	NotHost SubCategory = "NotHost"
	Dropped SubCategory = "Dropped"

	// WebSocket
	Connection SubCategory = "Connection"
	Frame      SubCategory = "Frame"

	// Storage
	Insert SubCategory = "Insert"
	Select SubCategory = "Select"
	Delete SubCategory = "Delete"
)

const (
	AppName      ExtraKey = "AppName"
	LoggerName   ExtraKey = "Logger"
	ClientIp     ExtraKey = "ClientIp"
	Method       ExtraKey = "Method"
	StatusCode   ExtraKey = "StatusCode"
	BodySize     ExtraKey = "BodySize"
	Path         ExtraKey = "Path"
	Latency      ExtraKey = "Latency"
	RequestID    ExtraKey = "RequestId"
	ErrorMessage ExtraKey = "ErrorMessage"
	RoomCode     ExtraKey = "RoomCode"
	UserID       ExtraKey = "UserId"
	SessionID    ExtraKey = "SessionId"
	EventType    ExtraKey = "EventType"
	RetryAfter   ExtraKey = "RetryAfter"
	Count        ExtraKey = "Count"
	Reason       ExtraKey = "Reason"
)
