package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/tidwall/gjson"
)

type RoomService struct {
	client *Client
}

type CreateRoomParams struct {
	Name    string `json:"name" validate:"required,max=100"`
	IsGroup bool   `json:"is_group"`
}

// Mine lists the rooms the current user participates in.
func (s *RoomService) Mine(ctx context.Context) ([]domain.Room, error) {
	body, err := s.client.do(ctx, request{method: http.MethodGet, path: "/chat-rooms/my-rooms"})
	if err != nil {
		return nil, err
	}
	return decodeList(body, decodeRoom), nil
}

func (s *RoomService) Get(ctx context.Context, id string) (domain.Room, error) {
	if err := requireID(id); err != nil {
		return domain.Room{}, err
	}
	body, err := s.client.do(ctx, request{method: http.MethodGet, path: fmt.Sprintf("/chat-rooms/%s", id)})
	if err != nil {
		return domain.Room{}, err
	}
	return decodeRoom(gjson.ParseBytes(body)), nil
}

func (s *RoomService) Create(ctx context.Context, params CreateRoomParams) (domain.Room, error) {
	body, err := s.client.do(ctx, request{method: http.MethodPost, path: "/chat-rooms/", body: params})
	if err != nil {
		return domain.Room{}, err
	}
	return decodeRoom(gjson.ParseBytes(body)), nil
}

func (s *RoomService) AddParticipant(ctx context.Context, roomID, userID string) (Participant, error) {
	if err := requireID(roomID, userID); err != nil {
		return Participant{}, err
	}
	body, err := s.client.do(ctx, request{
		method: http.MethodPost,
		path:   fmt.Sprintf("/chat-rooms/%s/participants", roomID),
		query:  url.Values{"user_id": {userID}},
	})
	if err != nil {
		return Participant{}, err
	}
	return decodeParticipant(gjson.ParseBytes(body)), nil
}

func (s *RoomService) Participants(ctx context.Context, roomID string) ([]Participant, error) {
	if err := requireID(roomID); err != nil {
		return nil, err
	}
	body, err := s.client.do(ctx, request{method: http.MethodGet, path: fmt.Sprintf("/chat-rooms/%s/participants", roomID)})
	if err != nil {
		return nil, err
	}
	return decodeList(body, decodeParticipant), nil
}
