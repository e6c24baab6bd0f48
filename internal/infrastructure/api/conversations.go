package api

import (
	"context"
	"sync"

	"github.com/hilthontt/roomsync/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const loadConcurrency = 8

// LoadConversations builds one summary per room of the current user: the
// participants with their user records and the latest message. A room whose
// latest message cannot be fetched still gets a summary without one.
func (c *Client) LoadConversations(ctx context.Context, currentUserID string) ([]domain.ConversationSummary, error) {
	rooms, err := c.Rooms.Mine(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]domain.ConversationSummary, len(rooms))
	users := &userCache{client: c, users: make(map[string]domain.User)}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)

	for i, room := range rooms {
		g.Go(func() error {
			summary, err := c.loadConversation(gctx, room, currentUserID, users)
			if err != nil {
				return err
			}
			summaries[i] = summary
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (c *Client) loadConversation(ctx context.Context, room domain.Room, currentUserID string, users *userCache) (domain.ConversationSummary, error) {
	var (
		participants []Participant
		latest       []domain.Message
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		participants, err = c.Rooms.Participants(gctx, room.ID)
		return err
	})
	g.Go(func() error {
		var err error
		latest, err = c.Messages.Latest(gctx, room.ID, 1)
		if err != nil {
			c.logger.Debug("latest message unavailable", zap.String("roomId", room.ID), zap.Error(err))
			latest = nil
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.ConversationSummary{}, err
	}

	members := make([]domain.User, 0, len(participants))
	for _, p := range participants {
		u, err := users.get(ctx, p.UserID)
		if err != nil {
			return domain.ConversationSummary{}, err
		}
		members = append(members, u)
	}

	name, peerID := domain.DisplayName(room, members, currentUserID)
	summary := domain.ConversationSummary{
		RoomID:       room.ID,
		Name:         name,
		IsGroup:      room.IsGroup,
		PeerID:       peerID,
		Participants: members,
	}
	if len(latest) > 0 {
		last := latest[len(latest)-1]
		summary.LastMessage = &last
	}
	return summary, nil
}

// userCache dedupes user lookups within one load.
type userCache struct {
	client *Client
	users  map[string]domain.User
	mu     sync.Mutex
}

func (u *userCache) get(ctx context.Context, id string) (domain.User, error) {
	u.mu.Lock()
	user, ok := u.users[id]
	u.mu.Unlock()
	if ok {
		return user, nil
	}

	user, err := u.client.Users.Get(ctx, id)
	if err != nil {
		return domain.User{}, err
	}

	u.mu.Lock()
	u.users[id] = user
	u.mu.Unlock()
	return user, nil
}
