package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/tidwall/gjson"
)

type UserService struct {
	client *Client
}

type LoginParams struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type RegisterParams struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type UpdateUserParams struct {
	Password *string `json:"password,omitempty"`
	IsPublic *bool   `json:"is_public,omitempty"`
	Email    *string `json:"email,omitempty"`
}

// Login exchanges credentials for a bearer token. Username may also be an email.
func (s *UserService) Login(ctx context.Context, params LoginParams) (domain.Session, error) {
	body, err := s.client.do(ctx, request{
		method:    http.MethodPost,
		path:      "/users/login",
		body:      params,
		anonymous: true,
	})
	if err != nil {
		return domain.Session{}, err
	}

	r := gjson.ParseBytes(body)
	token := r.Get("access_token").String()
	if token == "" {
		token = r.Get("token").String()
	}
	user := r.Get("user")
	if !user.IsObject() {
		user = r
	}

	session := domain.Session{Token: token, User: decodeUser(user)}
	if !session.Valid() {
		return domain.Session{}, errors.New("login response carried no token")
	}
	return session, nil
}

func (s *UserService) Register(ctx context.Context, params RegisterParams) (domain.User, error) {
	body, err := s.client.do(ctx, request{
		method:    http.MethodPost,
		path:      "/users/",
		body:      params,
		anonymous: true,
	})
	if err != nil {
		return domain.User{}, err
	}
	return decodeUser(gjson.ParseBytes(body)), nil
}

func (s *UserService) Get(ctx context.Context, id string) (domain.User, error) {
	if err := requireID(id); err != nil {
		return domain.User{}, err
	}
	body, err := s.client.do(ctx, request{method: http.MethodGet, path: fmt.Sprintf("/users/%s", id)})
	if err != nil {
		return domain.User{}, err
	}
	return decodeUser(gjson.ParseBytes(body)), nil
}

func (s *UserService) List(ctx context.Context) ([]domain.User, error) {
	return s.list(ctx, "/users/")
}

func (s *UserService) Update(ctx context.Context, id string, params UpdateUserParams) (domain.User, error) {
	if err := requireID(id); err != nil {
		return domain.User{}, err
	}
	body, err := s.client.do(ctx, request{method: http.MethodPut, path: fmt.Sprintf("/users/%s", id), body: params})
	if err != nil {
		return domain.User{}, err
	}
	return decodeUser(gjson.ParseBytes(body)), nil
}

func (s *UserService) AvailableForChat(ctx context.Context) ([]domain.User, error) {
	return s.list(ctx, "/users/available-for-chat")
}

func (s *UserService) AvailableForRoom(ctx context.Context, roomID string) ([]domain.User, error) {
	if err := requireID(roomID); err != nil {
		return nil, err
	}
	return s.list(ctx, fmt.Sprintf("/users/available-for-room/%s", roomID))
}

func (s *UserService) list(ctx context.Context, path string) ([]domain.User, error) {
	body, err := s.client.do(ctx, request{method: http.MethodGet, path: path})
	if err != nil {
		return nil, err
	}
	return decodeList(body, decodeUser), nil
}
