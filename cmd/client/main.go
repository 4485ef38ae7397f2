// Command client is a small terminal client: it joins a room, publishes
// every stdin line into it, and prints what the room broadcasts back.
// Useful for poking at a running server and for demonstrating reconnects.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pscheid92/roomcast/internal/adapter/websocket"
	"github.com/pscheid92/roomcast/internal/client"
	"github.com/pscheid92/roomcast/internal/domain"
)

func main() {
	var (
		addr    = flag.String("addr", "ws://localhost:8080/ws", "Websocket endpoint")
		room    = flag.String("room", "lobby", "Room to join")
		verbose = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	logLevel := slog.LevelWarn
	if *verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))

	c := client.New(websocket.NewDialer(), *addr, client.Options{})
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	if err := c.Join(*room); err != nil {
		log.Fatalf("Failed to join room: %v", err)
	}
	fmt.Printf("joined %q on %s\n", *room, *addr)

	go printIncoming(c)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	lines := make(chan string)
	go readLines(lines)

	for {
		select {
		case <-sigChan:
			fmt.Println("bye")
			return
		case err := <-runErr:
			if err != nil {
				log.Fatalf("Connection lost for good: %v", err)
			}
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			payload, err := json.Marshal(line)
			if err != nil {
				continue
			}
			if err := c.Publish(*room, payload); err != nil {
				fmt.Fprintf(os.Stderr, "publish failed: %v\n", err)
			}
		}
	}
}

func printIncoming(c *client.Client) {
	for {
		select {
		case env, ok := <-c.Messages():
			if !ok {
				return
			}
			printEnvelope(env)
		case err, ok := <-c.Errors():
			if !ok {
				return
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func printEnvelope(env domain.Envelope) {
	switch env.Type {
	case domain.MessagePublish:
		var text string
		if err := json.Unmarshal(env.Payload, &text); err == nil {
			fmt.Printf("[%s] %s\n", env.RoomID, text)
			return
		}
		fmt.Printf("[%s] %s\n", env.RoomID, string(env.Payload))
	case domain.MessageAck:
		// Joins and leaves confirm themselves; nothing to show.
	default:
		fmt.Printf("[%s] %s %s\n", env.RoomID, env.Type, string(env.Payload))
	}
}

func readLines(out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}
