package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

// AttemptSubmission mirrors the message the ingestion consumer expects
type AttemptSubmission struct {
	AttemptID   string    `json:"attempt_id,omitempty"`
	PeriodID    string    `json:"period_id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name,omitempty"`
	TimeMs      int64     `json:"time_ms"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

var playerPrefixes = []string{
	"Gumdrop", "Taffy", "Caramel", "Truffle", "Sherbet", "Licorice", "Praline", "Nougat", "Fudge", "Bonbon",
	"Jelly", "Toffee", "Marshmallow", "Lollipop", "Brittle", "Marzipan", "Gummy", "Candy", "Sugar", "Honey",
	"Mint", "Cocoa", "Sorbet", "Wafer", "Sprinkle", "Glaze", "Chew", "Drop", "Swirl", "Crunch",
}

func getPlayerName(idx int) string {
	prefixIdx := idx % len(playerPrefixes)
	suffix := idx/len(playerPrefixes) + 1
	return fmt.Sprintf("%s%d", playerPrefixes[prefixIdx], suffix)
}

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "candyclash-attempts", "Kafka topic")
	periodID := flag.String("period", "", "Tournament period ID (required)")
	totalPlayers := flag.Int("players", 500, "Number of distinct players submitting attempts")
	attemptsPerSecond := flag.Int("rate", 50, "Attempts per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	minTime := flag.Int("min-time", 20000, "Fastest possible run in milliseconds")
	maxTime := flag.Int("max-time", 180000, "Slowest possible run in milliseconds")
	flag.Parse()

	if *periodID == "" {
		log.Fatal("-period is required")
	}

	brokerList := strings.Split(*brokers, ",")

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  🍬 Candy Clash Attempt Producer")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Brokers:          %s\n", *brokers)
	fmt.Printf("  Topic:            %s\n", *topic)
	fmt.Printf("  Period:           %s\n", *periodID)
	fmt.Printf("  Players:          %d\n", *totalPlayers)
	fmt.Printf("  Attempts/sec:     %d\n", *attemptsPerSecond)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	// Configure Sarama producer
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	// Create producer
	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}
	defer producer.Close()

	// Handle producer errors and successes
	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	// Send message helper
	sendAttempt := func(sub AttemptSubmission) {
		data, err := json.Marshal(sub)
		if err != nil {
			log.Printf("Failed to marshal message: %v", err)
			return
		}

		msg := &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(sub.UserID),
			Value: sarama.ByteEncoder(data),
		}

		select {
		case producer.Input() <- msg:
		case <-done:
			return
		}
	}

	// Per-player skill: a player's runs cluster around their own pace so
	// the leaderboard develops a stable top instead of pure noise.
	basePace := make([]int64, *totalPlayers)
	timeSpread := *maxTime - *minTime
	for i := range basePace {
		basePace[i] = int64(*minTime + rand.Intn(timeSpread))
	}

	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	interval := time.Second / time.Duration(*attemptsPerSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var endTime time.Time
	if *duration > 0 {
		endTime = time.Now().Add(*duration)
	}

	var attemptCount int64

	shutdown := func(reason string) {
		fmt.Printf("\n\n%s\n", reason)
		close(done)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("\n✓ Completed. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	for {
		select {
		case <-sigChan:
			shutdown("Shutting down...")
			return

		case <-ticker.C:
			if *duration > 0 && time.Now().After(endTime) {
				shutdown("Duration reached, shutting down...")
				return
			}

			playerIdx := rand.Intn(*totalPlayers)
			name := getPlayerName(playerIdx)

			// Jitter around the player's pace, occasionally a lucky run
			jitter := int64(rand.Intn(20000)) - 10000
			timeMs := basePace[playerIdx] + jitter
			if rand.Intn(100) < 5 {
				timeMs -= int64(rand.Intn(15000))
			}
			if timeMs < int64(*minTime) {
				timeMs = int64(*minTime)
			}

			sendAttempt(AttemptSubmission{
				AttemptID:   uuid.NewString(),
				PeriodID:    *periodID,
				UserID:      name,
				DisplayName: name,
				TimeMs:      timeMs,
				CompletedAt: time.Now().UTC(),
			})
			atomic.AddInt64(&attemptCount, 1)

		case <-statsTicker.C:
			attempts := atomic.LoadInt64(&attemptCount)
			success := atomic.LoadInt64(&successCount)
			errors := atomic.LoadInt64(&errorCount)
			fmt.Printf("[%s] Attempts: %d | Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				attempts,
				success,
				errors,
			)
		}
	}
}
