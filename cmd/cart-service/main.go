package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	segkafka "github.com/segmentio/kafka-go"

	"github.com/nazeru/cart-lab-go/internal/cart/checkout"
	"github.com/nazeru/cart-lab-go/internal/cart/stock"
	"github.com/nazeru/cart-lab-go/internal/cart/store"
	"github.com/nazeru/cart-lab-go/internal/httpapi"
	"github.com/nazeru/cart-lab-go/internal/notice"
	"github.com/nazeru/cart-lab-go/internal/remote"
	"github.com/nazeru/cart-lab-go/pkg/contracts"
	"github.com/nazeru/cart-lab-go/pkg/kafka"
	"github.com/nazeru/cart-lab-go/pkg/kv"
	"github.com/nazeru/cart-lab-go/pkg/logging"
	"github.com/nazeru/cart-lab-go/pkg/metrics"
	"github.com/nazeru/cart-lab-go/pkg/outbox"
)

const service = "cart-service"

type cfg struct {
	Port           string
	CartDBPath     string
	DatabaseURL    string
	StockBaseURL   string
	OrderBaseURL   string
	CatalogBaseURL string
	RequestTimeout time.Duration
	NoticeTTL      time.Duration
	KafkaBrokers   string
	Topic          string
	OutboxInterval time.Duration
}

func readCfg() (cfg, error) {
	toutMS, err := strconv.Atoi(getenv("REQUEST_TIMEOUT_MS", "5000"))
	if err != nil || toutMS <= 0 {
		return cfg{}, errors.New("REQUEST_TIMEOUT_MS must be a positive integer")
	}
	ttlMS, err := strconv.Atoi(getenv("NOTICE_TTL_MS", "4000"))
	if err != nil || ttlMS <= 0 {
		return cfg{}, errors.New("NOTICE_TTL_MS must be a positive integer")
	}
	outboxMS, _ := strconv.Atoi(getenv("OUTBOX_INTERVAL_MS", "1000"))

	c := cfg{
		Port:           getenv("PORT", "8080"),
		CartDBPath:     getenv("CART_DB_PATH", "cart.db"),
		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		StockBaseURL:   strings.TrimRight(getenv("STOCK_BASE_URL", ""), "/"),
		OrderBaseURL:   strings.TrimRight(getenv("ORDER_BASE_URL", ""), "/"),
		CatalogBaseURL: strings.TrimRight(getenv("CATALOG_BASE_URL", ""), "/"),
		RequestTimeout: time.Duration(toutMS) * time.Millisecond,
		NoticeTTL:      time.Duration(ttlMS) * time.Millisecond,
		KafkaBrokers:   getenv("KAFKA_BROKERS", ""),
		Topic:          getenv("KAFKA_TOPIC", contracts.DefaultTopic),
		OutboxInterval: time.Duration(outboxMS) * time.Millisecond,
	}
	if c.StockBaseURL == "" || c.OrderBaseURL == "" {
		return cfg{}, errors.New("STOCK_BASE_URL and ORDER_BASE_URL are required")
	}
	if c.CatalogBaseURL == "" {
		c.CatalogBaseURL = c.StockBaseURL
	}
	return c, nil
}

func main() {
	cfg, err := readCfg()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	cartMetrics := metrics.NewCartMetrics(reg)
	srvMetrics := metrics.NewServerMetrics(reg, "cart_service")

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err = pgxpool.New(initCtx, cfg.DatabaseURL)
		if err == nil {
			err = pool.Ping(initCtx)
		}
		cancel()
		if err != nil {
			log.Fatalf("db connect error: %v", err)
		}
		defer pool.Close()
	}

	storage, closeStorage, err := openKV(ctx, cfg, pool)
	if err != nil {
		log.Fatalf("cart storage error: %v", err)
	}
	defer closeStorage()

	events, stopEvents, err := openEvents(ctx, cfg, pool)
	if err != nil {
		log.Fatalf("events error: %v", err)
	}
	defer stopEvents()

	stockClient := remote.NewStockClient(cfg.StockBaseURL, cfg.RequestTimeout)
	validator := stock.NewValidator(stockClient, cartMetrics)
	orderClient := remote.NewOrderClient(cfg.OrderBaseURL, cfg.RequestTimeout)
	signals := notice.New(cfg.NoticeTTL)

	cart := store.New(ctx, store.Deps{KV: storage, Stock: validator, Notify: signals, Metrics: cartMetrics})
	orch := checkout.New(checkout.Deps{
		Cart:    cart,
		Stock:   validator,
		Orders:  orderClient,
		Notify:  signals,
		Events:  events,
		Metrics: cartMetrics,
		OnTransit: func(from, to checkout.State) {
			logging.Log(logging.Fields{Service: service, Step: "checkout_state", Status: string(to), Message: string(from) + "->" + string(to)})
		},
	})

	forward := newForwarder(events, 256)
	go forward.Run(ctx)
	defer cart.Subscribe(func(ch store.Change) { forward.Enqueue(cartEvent(ch)) })()
	defer signals.Subscribe(func(e notice.Entry, ok bool) {
		if ok {
			forward.Enqueue(noticeEvent(e))
		}
	})()

	h := httpapi.NewRouter(httpapi.Deps{
		Cart:     cart,
		Checkout: orch,
		Notice:   signals,
		Catalog:  remote.NewCatalogClient(cfg.CatalogBaseURL, cfg.RequestTimeout),
		Orders:   orderClient,
		Metrics:  srvMetrics,
		Extra:    map[string]http.Handler{"/metrics": metrics.Handler(reg)},
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("%s listening on :%s", service, cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

// openKV uses Postgres when a pool is configured and a local SQLite file
// otherwise.
func openKV(ctx context.Context, cfg cfg, pool *pgxpool.Pool) (kv.Store, func(), error) {
	if pool != nil {
		pg, err := kv.NewPostgres(ctx, pool)
		return pg, func() {}, err
	}
	db, err := kv.OpenSQLite(ctx, cfg.CartDBPath)
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = db.Close() }, nil
}

// openEvents picks where events go: the Postgres outbox relayed to kafka,
// kafka directly, or nowhere.
func openEvents(ctx context.Context, cfg cfg, pool *pgxpool.Pool) (contracts.Publisher, func(), error) {
	client := kafka.NewClient(cfg.KafkaBrokers)
	if !client.Enabled() {
		return contracts.Discard{}, func() {}, nil
	}
	writer := client.NewWriter(cfg.Topic)
	closeWriter := func() { _ = writer.Close() }

	if pool == nil {
		return kafka.Publisher{Writer: writer}, closeWriter, nil
	}
	if err := outbox.EnsureSchema(ctx, pool); err != nil {
		closeWriter()
		return nil, nil, err
	}
	relay := outbox.Relay{
		Queue:    outbox.PG{DB: pool},
		Interval: cfg.OutboxInterval,
		Service:  service,
		Send: func(ctx context.Context, rec outbox.Record) error {
			return writer.WriteMessages(ctx, segkafka.Message{Key: []byte(rec.Key), Value: rec.Payload, Time: rec.CreatedAt})
		},
	}
	go relay.Run(ctx)
	return outbox.Publisher{DB: pool, Topic: cfg.Topic}, closeWriter, nil
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
