package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/hilthontt/roomsync/internal/presentation/api"
	"github.com/hilthontt/roomsync/internal/room"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func runServe(ctx context.Context, a *app) error {
	defer a.close()

	eng := a.components.Engine
	server := api.NewApplication(a.cfg.Server, eng, a.metrics, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	g.Go(func() error {
		return server.Run(gctx, server.Mount())
	})
	return g.Wait()
}

func runLogin(ctx context.Context, a *app, out io.Writer, username, password string) error {
	defer a.close()

	if password == "" {
		password = os.Getenv("ROOMSYNC_PASSWORD")
	}
	if password == "" {
		return errors.New("password is required (--password or ROOMSYNC_PASSWORD)")
	}

	sess, err := a.components.Engine.Login(ctx, username, password)
	if err != nil {
		return err
	}
	list, _ := a.components.Engine.Conversations().Summaries()
	fmt.Fprintf(out, "Signed in as %s (%d conversations)\n", sess.User.Username, len(list))
	return nil
}

func runLogout(a *app, out io.Writer) error {
	defer a.close()

	if err := a.components.Engine.Logout(); err != nil {
		return err
	}
	fmt.Fprintln(out, "Signed out")
	return nil
}

func runRooms(ctx context.Context, a *app, out io.Writer) error {
	defer a.close()

	convs := a.components.Engine.Conversations()
	if err := convs.Refresh(ctx); err != nil {
		return err
	}
	list, _ := convs.Summaries()
	if len(list) == 0 {
		fmt.Fprintln(out, "No conversations")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROOM\tNAME\tKIND\tLAST MESSAGE")
	for _, s := range list {
		kind := "direct"
		if s.IsGroup {
			kind = "group"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.RoomID, s.Name, kind, preview(s.LastMessage))
	}
	return tw.Flush()
}

func runTail(ctx context.Context, a *app, in io.Reader, out io.Writer, roomID string) error {
	defer a.close()

	eng := a.components.Engine
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Refresh first so a direct room knows its peer for typing frames.
	if err := eng.Conversations().Refresh(ctx); err != nil {
		a.logger.Warn("conversation list unavailable", zap.Error(err))
	}

	p := newTailPrinter(out)
	unsubscribe := eng.OnRoomChange(p.render)
	defer unsubscribe()

	switch err := eng.OpenRoom(ctx, roomID); {
	case errors.Is(err, room.ErrHistoryUnavailable):
		fmt.Fprintln(out, "! history unavailable:", err)
	case err != nil:
		return err
	}
	p.render(eng.Room().View())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleTailLine(eng.Room(), out, line); quit {
				return nil
			}
		}
	}
}

func handleTailLine(r *room.Controller, out io.Writer, line string) (quit bool) {
	switch strings.TrimSpace(line) {
	case "":
		return false
	case "/quit":
		return true
	case "/reconnect":
		if err := r.Reconnect(); err != nil {
			fmt.Fprintln(out, "! reconnect:", err)
		}
		return false
	}

	_ = r.InputChanged()
	if _, err := r.Send(context.Background(), line); err != nil {
		fmt.Fprintln(out, "! not sent:", err)
	}
	return false
}

// tailPrinter writes each confirmed message once, plus connection and typing
// changes. Pending entries are skipped; they print when the echo confirms them.
type tailPrinter struct {
	out io.Writer

	mu         sync.Mutex
	printed    map[string]struct{}
	connection string
	typing     bool
	dropped    bool
}

func newTailPrinter(out io.Writer) *tailPrinter {
	return &tailPrinter{out: out, printed: make(map[string]struct{})}
}

func (p *tailPrinter) render(v room.View) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if v.Connection != p.connection {
		p.connection = v.Connection
		fmt.Fprintf(p.out, "-- %s\n", v.Connection)
	}
	if v.Disconnected && !p.dropped {
		fmt.Fprintln(p.out, "-- connection lost, type /reconnect to retry")
	}
	p.dropped = v.Disconnected

	for _, m := range v.Messages {
		if m.Pending() {
			continue
		}
		if _, ok := p.printed[m.ID]; ok {
			continue
		}
		p.printed[m.ID] = struct{}{}
		fmt.Fprintf(p.out, "[%s] %s: %s\n", m.CreatedAt.Local().Format(time.Kitchen), sender(m), body(m))
	}

	if v.PeerTyping != p.typing {
		p.typing = v.PeerTyping
		if v.PeerTyping {
			fmt.Fprintln(p.out, "-- typing...")
		}
	}
}

func sender(m domain.Message) string {
	if m.SenderName != "" {
		return m.SenderName
	}
	return m.SenderID
}

func body(m domain.Message) string {
	switch {
	case m.Deleted:
		return "(deleted)"
	case m.FileURL != "":
		return fmt.Sprintf("%s <%s>", m.Content, m.FileURL)
	default:
		return m.Content
	}
}

func preview(m *domain.Message) string {
	if m == nil {
		return "-"
	}
	text := body(*m)
	if r := []rune(text); len(r) > 40 {
		text = string(r[:39]) + "…"
	}
	return sender(*m) + ": " + text
}
