package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/Abhiram-108/minitrello/domain"
)

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

type frame struct {
	Event string         `json:"event"`
	ID    string         `json:"id,omitempty"`
	Data  map[string]any `json:"data"`
}

type counters struct {
	attempts atomic.Uint64
	failures atomic.Uint64
	events   atomic.Uint64
}

// Opens WS_CONNECTIONS sockets on one board; the first one emits a typing
// signal every TYPING_INTERVAL_MS so every other socket has traffic to count.
func main() {
	wsURL := getenv("WS_URL", "ws://localhost:8080/ws")
	boardID := getenv("BOARD_ID", "demo-board")
	cardID := getenv("CARD_ID", "demo-todo-1")
	conns := getenvInt("WS_CONNECTIONS", 200)
	duration := time.Duration(getenvInt("DURATION_SEC", 120)) * time.Second
	interval := time.Duration(getenvInt("TYPING_INTERVAL_MS", 500)) * time.Millisecond
	bearer := os.Getenv("TEST_BEARER")
	if bearer == "" {
		log.Fatal("TEST_BEARER must be set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var c counters
	var wg sync.WaitGroup
	wg.Add(conns)
	for i := range conns {
		go func(driver bool) {
			defer wg.Done()
			backoff := time.Second
			for ctx.Err() == nil {
				c.attempts.Add(1)
				if err := session(ctx, wsURL+"?token="+bearer, boardID, cardID, driver, interval, &c); err != nil && ctx.Err() == nil {
					c.failures.Add(1)
					log.WithError(err).Debug("session ended")
					time.Sleep(backoff)
					backoff = min(backoff*2, 5*time.Second)
					continue
				}
				backoff = time.Second
			}
		}(i == 0)
	}
	wg.Wait()

	attempts, failures, events := c.attempts.Load(), c.failures.Load(), c.events.Load()
	failureRate := 0.0
	if attempts > 0 {
		failureRate = float64(failures) / float64(attempts)
	}
	fmt.Printf("connections=%d duration_sec=%d events_received=%d connection_failures=%d\n", conns, int(duration.Seconds()), events, failures)
	if events == 0 || failureRate > 0.01 {
		os.Exit(1)
	}
}

func session(ctx context.Context, url, boardID, cardID string, driver bool, interval time.Duration, c *counters) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	if err := conn.WriteJSON(frame{Event: domain.EventJoinBoard, ID: "join", Data: map[string]any{"boardId": boardID}}); err != nil {
		return err
	}
	if driver {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			typing := false
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					typing = !typing
					msg := frame{Event: domain.EventUserTyping, Data: map[string]any{"boardId": boardID, "cardId": cardID, "isTyping": typing}}
					if err := conn.WriteJSON(msg); err != nil {
						return
					}
				}
			}
		}()
	}
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		switch f.Event {
		case domain.EventError:
			return fmt.Errorf("server error: %v", f.Data)
		case domain.EventAck:
		default:
			c.events.Add(1)
		}
	}
}
