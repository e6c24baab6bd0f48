package domain

type Room struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsGroup bool   `json:"isGroup"`
}

type ConversationSummary struct {
	RoomID       string   `json:"roomId"`
	Name         string   `json:"name"`
	IsGroup      bool     `json:"isGroup"`
	PeerID       string   `json:"peerId,omitempty"`
	PeerOnline   bool     `json:"peerOnline"`
	LastMessage  *Message `json:"lastMessage,omitempty"`
	UnreadCount  int      `json:"unreadCount"`
	Participants []User   `json:"participants"`
}

// DisplayName picks the group name for group rooms and the other participant's
// username for direct rooms.
func DisplayName(room Room, participants []User, currentUserID string) (name, peerID string) {
	if room.IsGroup {
		return room.Name, ""
	}
	for _, p := range participants {
		if p.ID != currentUserID {
			return p.Username, p.ID
		}
	}
	return room.Name, ""
}
