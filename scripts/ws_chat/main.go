package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/tg11/boundless/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	base := flag.String("addr", "ws://localhost:8080", "server base address")
	route := flag.String("route", "", "channel route, /ws/servers/<server>/<category>/<channel>")
	token := flag.String("token", os.Getenv("BOUNDLESS_TOKEN"), "access token")
	flag.Parse()

	if *route == "" || *token == "" {
		return errors.New("-route and -token are required")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+*token)
	conn, resp, err := websocket.Dial(ctx, strings.TrimRight(*base, "/")+*route, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	fmt.Printf("Connected to %s\n", *route)
	fmt.Println("Type messages and press Enter to send. /edit <id> <text>, /delete <id>. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var outbound proto.Outbound
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		switch outbound.Event {
		case proto.EventHistory:
			for _, m := range outbound.Messages {
				fmt.Printf("%s #%d %s: %s\n", clock(m.TS), m.ID, m.User, m.Message)
			}
		case proto.EventMessage:
			fmt.Printf("%s #%d %s: %s\n", clock(outbound.TS), outbound.ID, outbound.User, outbound.Message)
		case proto.EventEdited:
			fmt.Printf("%s #%d %s (edited): %s\n", clock(outbound.EditedTS), outbound.ID, outbound.User, outbound.Message)
		case proto.EventDeleted:
			fmt.Printf("#%d deleted\n", outbound.ID)
		case proto.EventError:
			if outbound.Error != nil {
				fmt.Printf("error %s: %s\n", outbound.Error.Code, outbound.Error.Msg)
			}
		default:
			fmt.Printf("event=%s\n", outbound.Event)
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			inbound, err := parseLine(text)
			if err != nil {
				fmt.Println(err)
				continue
			}
			if err := wsjson.Write(ctx, conn, inbound); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}

func parseLine(text string) (proto.Inbound, error) {
	fields := strings.SplitN(text, " ", 3)
	switch fields[0] {
	case "/edit":
		if len(fields) < 3 {
			return proto.Inbound{}, errors.New("usage: /edit <id> <text>")
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return proto.Inbound{}, fmt.Errorf("bad id %q", fields[1])
		}
		return proto.Inbound{Action: proto.ActionEdit, ID: id, Message: fields[2]}, nil
	case "/delete":
		if len(fields) < 2 {
			return proto.Inbound{}, errors.New("usage: /delete <id>")
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return proto.Inbound{}, fmt.Errorf("bad id %q", fields[1])
		}
		return proto.Inbound{Action: proto.ActionDelete, ID: id}, nil
	default:
		return proto.Inbound{Message: text}, nil
	}
}

func clock(ms int64) string {
	return time.UnixMilli(ms).Format("15:04:05")
}
