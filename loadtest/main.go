package main

import (
	"flag"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

// Stress tool for the conversation socket. The server has no signup endpoint,
// so tokens are minted here with the same HMAC secret and the conversations
// must already exist in the database.
//
// Usage:
//
//	go run ./loadtest -secret dev-secret \
//	  -pairs "friendshipID:userA:userB,friendshipID2:userC:userD"
var (
	wsURL    = flag.String("ws", "ws://localhost:8080/ws", "websocket endpoint")
	secret   = flag.String("secret", "", "jwt signing secret (must match the server)")
	pairs    = flag.String("pairs", "", "comma-separated friendshipID:userA:userB triples")
	msgCount = flag.Int("n", 20, "messages per participant")
)

type pair struct {
	friendshipID string
	userA, userB string
}

var (
	sent     atomic.Int64
	received atomic.Int64
)

func main() {
	flag.Parse()
	if *secret == "" || *pairs == "" {
		log.Fatal("❌ -secret and -pairs are required")
	}

	var targets []pair
	for _, raw := range strings.Split(*pairs, ",") {
		parts := strings.Split(strings.TrimSpace(raw), ":")
		if len(parts) != 3 {
			log.Fatalf("❌ Bad pair %q, want friendshipID:userA:userB", raw)
		}
		targets = append(targets, pair{friendshipID: parts[0], userA: parts[1], userB: parts[2]})
	}

	log.Printf("🔥 STARTING STRESS TEST: %d conversations, %d messages per side...",
		len(targets), *msgCount)
	start := time.Now()

	var wg sync.WaitGroup
	for _, p := range targets {
		wg.Add(1)
		go func(p pair) {
			defer wg.Done()
			runPair(p)
		}(p)
	}
	wg.Wait()

	log.Printf("✅ LOAD TEST COMPLETE in %s: sent=%d received=%d",
		time.Since(start).Round(time.Millisecond), sent.Load(), received.Load())
}

func runPair(p pair) {
	var wg sync.WaitGroup
	wg.Add(2)
	go spam(&wg, p.friendshipID, p.userA)
	go spam(&wg, p.friendshipID, p.userB)
	wg.Wait()
}

func spam(wg *sync.WaitGroup, friendshipID, userID string) {
	defer wg.Done()

	token, err := mintToken(userID)
	if err != nil {
		log.Printf("❌ Token mint failed [%s]: %v", userID, err)
		return
	}

	url := fmt.Sprintf("%s?token=%s&friendship_id=%s", *wsURL, token, friendshipID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Printf("❌ WS Connect Fail [%s]: %v", userID, err)
		return
	}
	defer conn.Close()

	// Drain incoming frames so the server never sees us as a slow viewer.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			received.Add(1)
		}
	}()

	for i := 0; i < *msgCount; i++ {
		cmd := map[string]string{
			"type":    "send",
			"content": fmt.Sprintf("LoadTest Msg %d from %s", i, userID),
		}
		if err := conn.WriteJSON(cmd); err != nil {
			log.Printf("❌ Send Fail [%s]: %v", userID, err)
			break
		}
		sent.Add(1)
		// Small sleep to prevent instant localhost bottleneck (simulate real network)
		time.Sleep(10 * time.Millisecond)
	}

	// Linger to collect the partner's echoes before hanging up.
	select {
	case <-done:
	case <-time.After(3 * time.Second):
	}
	log.Printf("✅ %s finished sending %d msgs", userID, *msgCount)
}

func mintToken(userID string) (string, error) {
	claims := jwt.MapClaims{
		"id":       userID,
		"username": userID,
		"exp":      time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(*secret))
}
