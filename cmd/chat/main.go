package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/murmur/chat-client/internal/chat"
	"github.com/murmur/chat-client/internal/client"
	"github.com/murmur/chat-client/internal/connection"
	"github.com/murmur/chat-client/internal/history"
	"github.com/murmur/chat-client/internal/metrics"
)

func main() {
	serverURL := "ws://localhost:8080/ws"
	if v := os.Getenv("SERVER_URL"); v != "" {
		serverURL = v
	}
	apiURL := "http://localhost:8080"
	if v := os.Getenv("API_URL"); v != "" {
		apiURL = v
	}
	token := os.Getenv("CHAT_TOKEN")
	if token == "" {
		log.Fatal("CHAT_TOKEN is required")
	}
	userID := os.Getenv("CHAT_USER_ID")
	if userID == "" {
		log.Fatal("CHAT_USER_ID is required")
	}
	userName := os.Getenv("CHAT_USER_NAME")
	if userName == "" {
		userName = userID
	}

	// Transport selection: WebSocket by default, NATS when the client
	// runs inside a deployment that bridges the chat fabric over NATS.
	var dialer connection.Dialer
	switch os.Getenv("TRANSPORT") {
	case "", "ws":
		dialer = connection.WebSocketDialer(serverURL)
	case "nats":
		natsConfig := connection.DefaultNATSConfig()
		if v := os.Getenv("NATS_URL"); v != "" {
			natsConfig.URL = v
		}
		dialer = connection.DialNATS(natsConfig)
	default:
		log.Fatalf("unknown TRANSPORT %q (want ws or nats)", os.Getenv("TRANSPORT"))
	}

	// Metrics endpoint is opt-in for a desktop client.
	if addr := os.Getenv("METRICS_ADDR"); addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			log.Printf("metrics listening on %s", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	user := chat.User{ID: userID, Name: userName}
	core := client.New(client.Config{
		Dialer: dialer,
		Store:  history.NewClient(apiURL, token),
	})
	defer core.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	err := core.Connect(ctx, connection.Identity{User: user, Token: token})
	cancel()
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}

	p := tea.NewProgram(newModel(core, newRoster(apiURL, token), user), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("ui: %v", err)
	}
}
