package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"golang.org/x/net/netutil"

	"fieldservice-backend/internal/analytics"
	"fieldservice-backend/internal/auth"
	"fieldservice-backend/internal/capture"
	"fieldservice-backend/internal/config"
	"fieldservice-backend/internal/db"
	"fieldservice-backend/internal/geo"
	"fieldservice-backend/internal/inventory"
	"fieldservice-backend/internal/notify"
	"fieldservice-backend/internal/schedule"
	"fieldservice-backend/internal/store"
	"fieldservice-backend/internal/tasks"
	"fieldservice-backend/internal/workerpool"
	"fieldservice-backend/internal/writeback"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal("❌ Invalid config:", err)
	}

	ctx := context.Background()

	database, err := db.Connect(ctx, cfg.ConnString())
	if err != nil {
		log.Fatal("❌ Failed to connect DB:", err)
	}
	defer database.Close()

	if err := db.Migrate(ctx, database); err != nil {
		log.Fatal("❌ Failed to migrate DB:", err)
	}
	log.Println("✅ Connected to PostgreSQL!")

	repo := db.NewRepository(database)

	// ----- CORE -----
	var router geo.Router
	if cfg.MapsAPIKey != "" {
		router = geo.NewGoogleDirections(cfg.MapsAPIKey)
	}
	st := store.New(geo.NewService(router))
	if err := st.Load(ctx, repo); err != nil {
		log.Fatal("❌ Failed to load tasks:", err)
	}
	log.Printf("✅ Loaded %d tasks, %d users", len(st.All()), len(st.Users()))

	// ----- CAPTURE -----
	var addresses capture.AddressChain
	if cfg.MapsAPIKey != "" {
		addresses = append(addresses, capture.NewGoogleGeocoder(cfg.MapsAPIKey))
	}
	if cfg.USPSUserID != "" {
		addresses = append(addresses, capture.NewUSPSVerifier(cfg.USPSUserID))
	}

	var receipts capture.ReceiptChain
	if cfg.VisionEnabled {
		vs, err := capture.NewVisionScanner(ctx)
		if err != nil {
			log.Printf("[WARN] vision disabled: %v", err)
		} else {
			receipts = append(receipts, vs)
		}
	}

	// ----- WRITE-BACK -----
	writer := &writeback.Writer{
		Latest:  st.Get,
		Repo:    repo,
		Journal: database,
		Notify:  notify.NewDispatcher(notify.LogNotifier{Directory: st}),
	}
	if cfg.CalendarID != "" {
		pub, err := schedule.NewPublisher(ctx, cfg.CalendarID)
		if err != nil {
			log.Printf("[WARN] calendar disabled: %v", err)
		} else {
			writer.Calendar = pub
		}
	}

	backlog := writeback.NewBacklog()
	st.Observe(backlog.Add)
	pool := workerpool.New(cfg.WritebackQueue, backlog.Job(writer))
	pool.Start(cfg.WritebackWorkers)
	pumped := make(chan struct{})
	go func() {
		backlog.Pump(pool)
		close(pumped)
	}()

	// ----- HTTP -----
	mw := auth.New(cfg.JWTSecret)
	identity := auth.NewPostgresIdentity(database)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("POST /auth/login", auth.LoginHandler(identity, st, cfg.JWTSecret, cfg.JWTTTL))
	mux.HandleFunc("POST /auth/logout", auth.LogoutHandler())
	mux.HandleFunc("POST /auth/register", mw.Wrap(auth.RegisterHandler(identity, st)))
	mux.HandleFunc("GET /me", mw.Wrap(auth.MeHandler(st)))

	mux.HandleFunc("POST /analytics/events", mw.Wrap(analytics.ClientEventHandler(database)))

	tasks.Register(mux, &tasks.Handler{
		Store:     st,
		Addresses: addresses,
		Receipts:  receipts,
		Billing:   repo,
		Journal:   database,
	}, mw)

	inventory.Register(mux, &inventory.Handler{
		Service: &inventory.Service{Repo: repo, Tasks: st},
		Users:   st,
	}, mw)

	// CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Platform", "X-Session-Id", "X-App-Version", "Idempotency-Key"},
		AllowCredentials: true,
	})

	server := &http.Server{
		Handler:           c.Handler(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		log.Fatal("❌ Failed to listen:", err)
	}
	ln = netutil.LimitListener(ln, cfg.HTTPMaxConns)

	go func() {
		log.Printf("🚀 API server is running on %s", cfg.HTTPAddr)
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %s\n", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	<-stop
	log.Printf("shut down signal received...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[WARN] http shutdown: %v", err)
	}
	// no more mutations; let the write-back backlog drain
	st.Close()
	backlog.Close()
	select {
	case <-pumped:
	case <-shutdownCtx.Done():
		log.Printf("[WARN] write-back: %d tasks left dirty", backlog.Len())
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		log.Printf("[WARN] write-back shutdown: %v", err)
	}

	log.Printf("shut down gracefully")
}
