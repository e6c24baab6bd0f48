package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestClient(t *testing.T, r chi.Router, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	opts = append([]Option{
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithTokenSource(StaticToken("tok")),
	}, opts...)
	return NewClient(opts...)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func TestClient_ErrorMessages(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"message field", http.StatusBadRequest, `{"message":"room is full"}`, "room is full"},
		{"detail field", http.StatusUnauthorized, `{"detail":"Invalid credentials"}`, "Invalid credentials"},
		{"validation detail", http.StatusUnprocessableEntity, `{"detail":[{"loc":["body","content"],"msg":"field required"}]}`, "field required"},
		{"json without message", http.StatusNotFound, `{}`, "HTTP 404"},
		{"not json", http.StatusBadGateway, `<html>bad gateway</html>`, "unknown error"},
		{"empty body", http.StatusInternalServerError, ``, "unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := chi.NewRouter()
			r.Get("/chat-rooms/{id}", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})
			c := newTestClient(t, r)

			_, err := c.Rooms.Get(context.Background(), "1")

			var apiErr *Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.want, apiErr.Error())
		})
	}
}

func TestClient_BearerToken(t *testing.T) {
	var authHeaders []string
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeaders = append(authHeaders, r.Header.Get("Authorization"))
			next.ServeHTTP(w, r)
		})
	})
	r.Post("/users/login", func(w http.ResponseWriter, r *http.Request) {
		var params LoginParams
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		assert.Equal(t, "alice@example.com", params.Username)
		writeJSON(w, http.StatusOK, `{"access_token":"jwt","token_type":"bearer","user":{"id":1,"username":"alice","email":"alice@example.com","is_active":true}}`)
	})
	r.Get("/chat-rooms/my-rooms", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `[{"id":7,"name":"general","is_group":true}]`)
	})
	c := newTestClient(t, r)

	session, err := c.Users.Login(context.Background(), LoginParams{Username: "alice@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "jwt", session.Token)
	assert.Equal(t, "1", session.User.ID)

	rooms, err := c.Rooms.Mine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.Room{{ID: "7", Name: "general", IsGroup: true}}, rooms)

	assert.Equal(t, []string{"", "Bearer tok"}, authHeaders)
}

func TestMessages_LatestIsChronological(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/messages/room/{roomId}/latest", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", chi.URLParam(r, "roomId"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, `[
			{"id":3,"room_id":7,"user_id":1,"content":"c","created_at":"2024-05-01T12:00:03","is_deleted":false},
			{"id":2,"room_id":7,"user_id":2,"content":"b","created_at":"2024-05-01T12:00:02","is_deleted":false},
			{"id":1,"room_id":7,"user_id":1,"content":"a","created_at":"2024-05-01T12:00:01","is_deleted":false}
		]`)
	})
	c := newTestClient(t, r)

	msgs, err := c.Messages.Latest(context.Background(), "7", 50)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "1", msgs[0].ID)
	assert.Equal(t, "3", msgs[2].ID)
}

func TestMessages_EditDeleteRestore(t *testing.T) {
	var deleteQueries []string
	r := chi.NewRouter()
	r.Put("/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, http.StatusOK, `{"id":5,"room_id":7,"user_id":1,"content":"`+body["content"]+`","created_at":"2024-05-01T12:00:00","updated_at":"2024-05-01T12:05:00","is_deleted":false}`)
	})
	r.Delete("/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		deleteQueries = append(deleteQueries, r.URL.RawQuery)
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/messages/{id}/restore", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"id":5,"room_id":7,"user_id":1,"content":"back","created_at":"2024-05-01T12:00:00","is_deleted":false}`)
	})
	c := newTestClient(t, r)
	ctx := context.Background()

	edited, err := c.Messages.Edit(ctx, "5", "fixed")
	require.NoError(t, err)
	assert.Equal(t, "fixed", edited.Content)
	require.NotNil(t, edited.UpdatedAt)

	require.NoError(t, c.Messages.Delete(ctx, "5", false))
	require.NoError(t, c.Messages.Delete(ctx, "5", true))
	assert.Equal(t, []string{"", "soft_delete=false"}, deleteQueries)

	restored, err := c.Messages.Restore(ctx, "5")
	require.NoError(t, err)
	assert.Equal(t, "back", restored.Content)

	_, err = c.Messages.Edit(ctx, "5", "  ")
	assert.ErrorIs(t, err, ErrMissingContent)
	assert.ErrorIs(t, c.Messages.Delete(ctx, "", false), ErrMissingID)
}

func TestMessages_SendUsesNumericRoomID(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/messages/", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"room_id":7,"content":"hola"}`, string(data))
		writeJSON(w, http.StatusCreated, `{"id":9,"room_id":7,"user_id":1,"content":"hola","created_at":"2024-05-01T12:00:00","is_deleted":false}`)
	})
	c := newTestClient(t, r)

	msg, err := c.Messages.Send(context.Background(), "7", "hola")
	require.NoError(t, err)
	assert.Equal(t, "9", msg.ID)
}

func TestClient_RetriesIdempotentRequests(t *testing.T) {
	var gets, posts atomic.Int32
	r := chi.NewRouter()
	r.Get("/users/", func(w http.ResponseWriter, r *http.Request) {
		if gets.Add(1) < 3 {
			writeJSON(w, http.StatusServiceUnavailable, `{"detail":"warming up"}`)
			return
		}
		writeJSON(w, http.StatusOK, `[{"id":1,"username":"alice"}]`)
	})
	r.Get("/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		gets.Add(1)
		writeJSON(w, http.StatusNotFound, `{"detail":"User not found"}`)
	})
	r.Post("/chat-rooms/", func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		writeJSON(w, http.StatusServiceUnavailable, `{}`)
	})
	c := newTestClient(t, r, WithMaxRetries(3, time.Millisecond))
	ctx := context.Background()

	users, err := c.Users.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.EqualValues(t, 3, gets.Load())

	_, err = c.Users.Get(ctx, "9")
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
	assert.EqualValues(t, 4, gets.Load(), "4xx is not retried")

	_, err = c.Rooms.Create(ctx, CreateRoomParams{Name: "x"})
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
	assert.EqualValues(t, 1, posts.Load(), "non-GET is not retried")
}

func TestAttachments_Upload(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/upload", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "9", r.FormValue("receiverId"))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "cat.png", header.Filename)
		assert.Equal(t, "image/png", header.Header.Get("Content-Type"))
		assert.Equal(t, "png-bytes", string(data))
		writeJSON(w, http.StatusOK, `{"message":"ok","fileUrl":"/uploads/1-cat.png","fileName":"cat.png","fileType":"image/png","fileSize":9}`)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	c := NewClient(WithBaseURL(srv.URL), WithUploadURL(srv.URL+"/api/upload"), WithMaxUploadBytes(16))

	up, err := c.Attachments.Upload(context.Background(), File{
		Name:        "/tmp/cat.png",
		ContentType: "image/png",
		Content:     strings.NewReader("png-bytes"),
	}, map[string]string{"receiverId": "9"})
	require.NoError(t, err)
	assert.Equal(t, "/uploads/1-cat.png", up.FileURL)
	assert.Equal(t, int64(9), up.FileSize)

	_, err = c.Attachments.Upload(context.Background(), File{Name: "big.bin", Content: bytes.NewReader(make([]byte, 17))}, nil)
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, err = NewClient().Attachments.Upload(context.Background(), File{Name: "x"}, nil)
	assert.ErrorIs(t, err, ErrNoUploadURL)
}

func TestContacts(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/contacts/my-contacts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `[{"id":1,"user_id":1,"contact_id":2,"status":"accepted","created_at":"2024-05-01T12:00:00","contact":{"id":2,"username":"bob"}}]`)
	})
	r.Put("/contacts/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "blocked", body["status"])
		writeJSON(w, http.StatusOK, `{"id":1,"user_id":1,"contact_id":2,"status":"blocked"}`)
	})
	r.Get("/contacts/search-public-users", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bo b", r.URL.Query().Get("query"))
		writeJSON(w, http.StatusOK, `[{"id":2,"username":"bob"}]`)
	})
	c := newTestClient(t, r)
	ctx := context.Background()

	contacts, err := c.Contacts.Mine(ctx)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	require.NotNil(t, contacts[0].Contact)
	assert.Equal(t, "bob", contacts[0].Contact.Username)
	assert.Equal(t, ContactAccepted, contacts[0].Status)

	updated, err := c.Contacts.UpdateStatus(ctx, "1", ContactBlocked)
	require.NoError(t, err)
	assert.Equal(t, ContactBlocked, updated.Status)

	users, err := c.Contacts.SearchPublic(ctx, "bo b")
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestClient_LoadConversations(t *testing.T) {
	var userLookups atomic.Int32
	r := chi.NewRouter()
	r.Get("/chat-rooms/my-rooms", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `[{"id":1,"name":"dm","is_group":false},{"id":2,"name":"team","is_group":true}]`)
	})
	r.Get("/chat-rooms/{id}/participants", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") == "1" {
			writeJSON(w, http.StatusOK, `[{"id":1,"room_id":1,"user_id":1},{"id":2,"room_id":1,"user_id":2}]`)
			return
		}
		writeJSON(w, http.StatusOK, `[{"id":3,"room_id":2,"user_id":1},{"id":4,"room_id":2,"user_id":2},{"id":5,"room_id":2,"user_id":3}]`)
	})
	r.Get("/messages/room/{id}/latest", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") == "2" {
			writeJSON(w, http.StatusInternalServerError, `{"detail":"boom"}`)
			return
		}
		writeJSON(w, http.StatusOK, `[{"id":10,"room_id":1,"user_id":2,"content":"hey","created_at":"2024-05-01T12:00:00","is_deleted":false}]`)
	})
	r.Get("/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		userLookups.Add(1)
		id := chi.URLParam(r, "id")
		writeJSON(w, http.StatusOK, `{"id":`+id+`,"username":"user`+id+`"}`)
	})
	c := newTestClient(t, r)

	summaries, err := c.LoadConversations(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	dm := summaries[0]
	assert.Equal(t, "user2", dm.Name)
	assert.Equal(t, "2", dm.PeerID)
	require.NotNil(t, dm.LastMessage)
	assert.Equal(t, "hey", dm.LastMessage.Content)

	team := summaries[1]
	assert.Equal(t, "team", team.Name)
	assert.Empty(t, team.PeerID)
	assert.Nil(t, team.LastMessage)
	assert.Len(t, team.Participants, 3)

	assert.LessOrEqual(t, userLookups.Load(), int32(5))
}

func TestClient_LoadConversationsFailsWhenRoomsFail(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/chat-rooms/my-rooms", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, `{"detail":"Not authenticated"}`)
	})
	c := newTestClient(t, r)

	_, err := c.LoadConversations(context.Background(), "1")
	assert.True(t, IsUnauthorized(err))
}

func TestWithDebugLog_RedactsCredentials(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	r := chi.NewRouter()
	r.Get("/users/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `[]`)
	})
	c := newTestClient(t, r, WithDebugLog(zap.New(core)))

	_, err := c.Users.List(context.Background())
	require.NoError(t, err)

	var dumps []string
	for _, entry := range logs.All() {
		if dump, ok := entry.ContextMap()["dump"].(string); ok {
			dumps = append(dumps, dump)
		}
	}
	require.NotEmpty(t, dumps)
	assert.Contains(t, dumps[0], "Authorization: [REDACTED]")
	assert.NotContains(t, dumps[0], "Bearer tok")
}
