package logging

type Category string
type SubCategory string
type ExtraKey string

const (
	General       Category = "General"
	Socket        Category = "Socket"
	Reconcile     Category = "Reconcile"
	Room          Category = "Room"
	Conversations Category = "Conversations"
	API           Category = "API"
	Session       Category = "Session"
	Config        Category = "Config"
	Tracing       Category = "Tracing"
	Prometheus    Category = "Prometheus"
	LocalServer   Category = "LocalServer"
)

const (
	Startup         SubCategory = "Startup"
	Shutdown        SubCategory = "Shutdown"
	Reconnect       SubCategory = "Reconnect"
	Frame           SubCategory = "Frame"
	Typing          SubCategory = "Typing"
	Poll            SubCategory = "Poll"
	ExternalService SubCategory = "ExternalService"
	Validation      SubCategory = "Validation"
)

const (
	AppName      ExtraKey = "AppName"
	RoomID       ExtraKey = "RoomId"
	MessageID    ExtraKey = "MessageId"
	EventType    ExtraKey = "EventType"
	State        ExtraKey = "State"
	Attempt      ExtraKey = "Attempt"
	Delay        ExtraKey = "Delay"
	Method       ExtraKey = "Method"
	Path         ExtraKey = "Path"
	StatusCode   ExtraKey = "StatusCode"
	Latency      ExtraKey = "Latency"
	ErrorMessage ExtraKey = "ErrorMessage"
)
