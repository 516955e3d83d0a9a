package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"gateway/pkg/producer"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

func main() {
	addr := flag.String("addr", ":8082", "HTTP server address")
	broker := flag.String("broker", "kafka", "broker type: kafka or redis")
	brokers := flag.String("brokers", "localhost:9092", "comma separated Kafka brokers")
	redisAddr := flag.String("redis", "localhost:6379", "Redis address")
	flag.Parse()

	p, err := newProducer(*broker, *brokers, *redisAddr)
	if err != nil {
		log.Fatalf("failed to create producer: %v", err)
	}
	defer p.Close()

	var (
		mu  sync.Mutex
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	)

	// POST /emit?topic=combat_logs&player_id=7&faction_id=3
	http.HandleFunc("/emit", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		q := r.URL.Query()
		topic := q.Get("topic")
		if topic == "" {
			http.Error(w, "topic is required", http.StatusBadRequest)
			return
		}
		player, _ := strconv.ParseInt(q.Get("player_id"), 10, 64)
		faction, _ := strconv.ParseInt(q.Get("faction_id"), 10, 64)

		mu.Lock()
		key, value, err := encodeSample(topic, player, faction, rng)
		mu.Unlock()
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to encode: %v", err), http.StatusInternalServerError)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if res := <-p.PublishAsync(ctx, topic, key, value); res.Error != nil {
			http.Error(w, fmt.Sprintf("failed to publish: %v", res.Error), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(json.RawMessage(value))
	})

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{Addr: *addr}

	go func() {
		fmt.Printf("Emitter server starting on %s (%s)\n", *addr, *broker)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	// Signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	fmt.Println("\nShutting down emitter server...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	server.Shutdown(shutdownCtx)
}

func newProducer(broker, brokers, redisAddr string) (producer.Producer, error) {
	switch broker {
	case "kafka":
		return producer.NewKafkaProducer(producer.Config{Brokers: strings.Split(brokers, ",")}), nil
	case "redis":
		return producer.NewRedisProducer(redis.NewClient(&redis.Options{Addr: redisAddr})), nil
	default:
		return nil, fmt.Errorf("unsupported broker %q", broker)
	}
}
