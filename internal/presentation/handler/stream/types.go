package stream

type frameType string

const (
	roomFrame          frameType = "room"
	conversationsFrame frameType = "conversations"
)

type frame struct {
	Type frameType `json:"type"`
	Data any       `json:"data"`
}
