package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/park285/Cheese-Arena/internal/auth"
	"github.com/park285/Cheese-Arena/internal/conn"
	"github.com/park285/Cheese-Arena/internal/protocol"
)

// arenacheck dials the game server, prints status changes and the kinds of
// inbound frames for a short window.
func main() {
	_ = godotenv.Load()

	window := flag.Duration("window", 10*time.Second, "how long to observe")
	syncID := flag.String("sync", "", "send sync_game for this session id after connecting")
	flag.Parse()

	wsURL := os.Getenv("ARENA_WS_URL")
	if wsURL == "" {
		log.Fatal("ARENA_WS_URL is required")
	}
	token := os.Getenv("ARENA_AUTH_TOKEN")
	if token != "" {
		if exp, ok := auth.ExpiresAt(token); ok {
			log.Printf("token expires at %s (expired=%v)", exp.Format(time.RFC3339), auth.Expired(token, time.Now()))
		}
	}

	m := conn.New(conn.Options{URL: wsURL, MaxReconnect: 0})
	m.SetAuthToken(token)
	m.OnStatusChange(func(s conn.Status) {
		log.Printf("WS state: %s", s)
	})
	m.OnMessage(func(raw []byte) {
		msg, err := protocol.Decode(raw)
		if err != nil {
			log.Printf("WS frame rejected: %v (%d bytes)", err, len(raw))
			return
		}
		log.Printf("WS msg kind=%s", msg.Kind())
	})

	cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.Connect(cctx); err != nil {
		log.Printf("WS connect error: %v", err)
		return
	}
	log.Printf("connected as client %s", m.ClientID())

	if *syncID != "" && !m.Send(protocol.SyncGame(*syncID)) {
		log.Printf("sync_game send failed")
	}

	t := time.NewTimer(*window)
	<-t.C

	closeCtx, ccancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer ccancel()
	_ = m.Close(closeCtx)
	for _, f := range m.RecentSendFailures() {
		log.Printf("send failure: %s %s", f.Kind, f.Reason)
	}
}
