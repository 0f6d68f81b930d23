package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nazeru/cart-lab-go/pkg/contracts"
	"github.com/nazeru/cart-lab-go/pkg/kafka"
	"github.com/nazeru/cart-lab-go/pkg/logging"
	"github.com/nazeru/cart-lab-go/pkg/metrics"
)

const service = "notification-service"

type cfg struct {
	Port         string
	DatabaseURL  string
	KafkaBrokers string
	Topic        string
	GroupID      string
}

func main() {
	cfg, err := readCfg()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := pgxpool.New(initCtx, cfg.DatabaseURL)
	if err == nil {
		err = ensureSchema(initCtx, pool)
	}
	cancel()
	if err != nil {
		log.Fatalf("db init error: %v", err)
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	srvMetrics := metrics.NewServerMetrics(reg, "notification_service")

	kafkaClient := kafka.NewClient(cfg.KafkaBrokers)
	if kafkaClient.Enabled() {
		go consumeEvents(ctx, pool, kafkaClient, cfg)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if err := pool.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "db_error"})
			srvMetrics.Observe("health", "503", start)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		srvMetrics.Observe("health", "200", start)
	})
	mux.Handle("/metrics", metrics.Handler(reg))

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	log.Printf("%s listening on :%s", service, cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

func readCfg() (cfg, error) {
	port := getenv("PORT", "8081")
	db := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if db == "" {
		return cfg{}, errors.New("DATABASE_URL is required")
	}
	return cfg{
		Port:         port,
		DatabaseURL:  db,
		KafkaBrokers: getenv("KAFKA_BROKERS", ""),
		Topic:        getenv("KAFKA_TOPIC", contracts.DefaultTopic),
		GroupID:      getenv("KAFKA_GROUP_ID", service),
	}, nil
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS inbox (
		event_id TEXT PRIMARY KEY,
		received_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return err
	}
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS notifications (
		event_id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		message TEXT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	return err
}

func consumeEvents(ctx context.Context, pool *pgxpool.Pool, client *kafka.Client, cfg cfg) {
	reader := client.NewReader(cfg.Topic, cfg.GroupID)
	defer reader.Close()
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("kafka read error: %v", err)
			time.Sleep(2 * time.Second)
			continue
		}
		evt, err := kafka.Decode(msg)
		if err != nil {
			log.Printf("event decode error: %v", err)
			continue
		}
		text, ok := render(evt)
		if !ok {
			continue
		}
		if err := saveNotification(ctx, pool, evt, text); err != nil {
			logging.Log(logging.Err(logging.Fields{Service: service, OrderID: evt.OrderID, EventID: evt.EventID, Step: evt.Type, Status: "save_failed"}, err))
			continue
		}
		logging.Log(logging.Fields{Service: service, OrderID: evt.OrderID, EventID: evt.EventID, Step: evt.Type, Status: "emitted", Message: text})
	}
}

func saveNotification(ctx context.Context, pool *pgxpool.Pool, evt contracts.Event, text string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `INSERT INTO inbox(event_id, received_at)
		VALUES ($1, now()) ON CONFLICT (event_id) DO NOTHING`, evt.EventID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// already processed
		return nil
	}

	data, _ := json.Marshal(evt.Payload)
	_, err = tx.Exec(ctx, `INSERT INTO notifications(event_id, order_id, type, message, payload)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (event_id) DO NOTHING`, evt.EventID, evt.OrderID, evt.Type, text, string(data))
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
