package chatclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/christopherjohns/groupchat/internal/ws"
	"nhooyr.io/websocket"
)

// printMessage writes one chat line as "[15:04:05] user: text".
func printMessage(w io.Writer, m ws.ChatMessage) {
	fmt.Fprintf(w, "[%s] %s: %s\n", m.Time.Local().Format("15:04:05"), m.User, m.Text)
}

// RunSession prints server events to out and sends every non-empty line
// read from in. It returns when in is exhausted, ctx ends or the server
// closes the connection. The client must already be connected.
func RunSession(ctx context.Context, c *Client, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	recvErr := make(chan error, 1)
	go func() {
		recvErr <- receiveLoop(ctx, c, out)
		cancel()
	}()

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
			return <-recvErr
		case line, ok := <-lines:
			if !ok {
				cancel()
				<-recvErr
				return nil
			}
			text := strings.TrimRight(line, "\r")
			if strings.TrimSpace(text) == "" {
				continue
			}
			if err := c.Send(ctx, text); err != nil {
				return fmt.Errorf("send: %w", err)
			}
		}
	}
}

func receiveLoop(ctx context.Context, c *Client, out io.Writer) error {
	for {
		ev, err := c.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			if status := websocket.CloseStatus(err); status != -1 {
				return fmt.Errorf("connection closed by server: %v", status)
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		switch ev.Type {
		case ws.EventLoadHistory:
			if len(ev.History) == 0 {
				fmt.Fprintln(out, "-- no messages yet --")
			}
			for _, m := range ev.History {
				printMessage(out, m)
			}
			fmt.Fprintln(out, "-- end of history --")
		case ws.EventChatMessage:
			printMessage(out, ev.Message)
		case ws.EventError:
			fmt.Fprintf(out, "! %s\n", ev.Error)
		}
	}
}
