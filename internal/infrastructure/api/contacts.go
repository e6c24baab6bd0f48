package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/tidwall/gjson"
)

type ContactService struct {
	client *Client
}

func (s *ContactService) Mine(ctx context.Context) ([]Contact, error) {
	return s.list(ctx, "/contacts/my-contacts")
}

// Pending lists requests other users sent to the current user.
func (s *ContactService) Pending(ctx context.Context) ([]Contact, error) {
	return s.list(ctx, "/contacts/pending")
}

func (s *ContactService) Sent(ctx context.Context) ([]Contact, error) {
	return s.list(ctx, "/contacts/sent")
}

type contactRequestBody struct {
	ContactID any `json:"contact_id"`
}

func (s *ContactService) Request(ctx context.Context, contactID string) (Contact, error) {
	if err := requireID(contactID); err != nil {
		return Contact{}, err
	}
	body, err := s.client.do(ctx, request{
		method: http.MethodPost,
		path:   "/contacts/",
		body:   contactRequestBody{ContactID: idValue(contactID)},
	})
	if err != nil {
		return Contact{}, err
	}
	return decodeContact(gjson.ParseBytes(body)), nil
}

type contactStatusBody struct {
	Status ContactStatus `json:"status"`
}

func (s *ContactService) UpdateStatus(ctx context.Context, id string, status ContactStatus) (Contact, error) {
	if err := requireID(id); err != nil {
		return Contact{}, err
	}
	body, err := s.client.do(ctx, request{
		method: http.MethodPut,
		path:   fmt.Sprintf("/contacts/%s", id),
		body:   contactStatusBody{Status: status},
	})
	if err != nil {
		return Contact{}, err
	}
	return decodeContact(gjson.ParseBytes(body)), nil
}

func (s *ContactService) Delete(ctx context.Context, id string) error {
	if err := requireID(id); err != nil {
		return err
	}
	_, err := s.client.do(ctx, request{method: http.MethodDelete, path: fmt.Sprintf("/contacts/%s", id)})
	return err
}

func (s *ContactService) SearchPublic(ctx context.Context, query string) ([]domain.User, error) {
	body, err := s.client.do(ctx, request{
		method: http.MethodGet,
		path:   "/contacts/search-public-users",
		query:  url.Values{"query": {query}},
	})
	if err != nil {
		return nil, err
	}
	return decodeList(body, decodeUser), nil
}

func (s *ContactService) list(ctx context.Context, path string) ([]Contact, error) {
	body, err := s.client.do(ctx, request{method: http.MethodGet, path: path})
	if err != nil {
		return nil, err
	}
	return decodeList(body, decodeContact), nil
}
