package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"partyup_server/config"
	"partyup_server/routes"
	"partyup_server/services"
	"partyup_server/socket"
)

func main() {
	log.Println("Loading configuration...")
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize DynamoDB clients and services
	log.Println("Initializing DynamoDB client...")
	dynamoClient := services.InitializeDynamoDBClient(cfg.AWSRegion)
	streamsClient := services.InitializeStreamsClient(cfg.AWSRegion)
	dynamoService := &services.DynamoService{Client: dynamoClient}
	log.Println("DynamoDB client initialized.")

	// Stores
	partyStore := &services.PartyStore{Dynamo: dynamoService}
	earningsStore := &services.EarningsStore{Dynamo: dynamoService}

	// Socket server doubles as the notification dispatcher
	socketServer := socket.NewSocketServer()
	dispatcher := &socket.Dispatcher{Server: socketServer}

	// Core services
	feed := services.NewChangeFeedService(streamsClient, dynamoService, cfg.PartiesStreamArn, cfg.FeedPollInterval)
	registry := services.NewSyncRegistry(feed)
	registry.OnStart = func(m *services.SyncService) {
		go socket.ForwardTransitions(socketServer, m.UserID, m.Events())
	}
	ratingService := &services.RatingService{
		Store:                      partyStore,
		Dispatcher:                 dispatcher,
		HostVerificationThreshold:  cfg.HostVerificationThreshold,
		GuestVerificationThreshold: cfg.GuestVerificationThreshold,
		MaxRetries:                 cfg.TransactionRetries,
	}
	payoutService := &services.PayoutService{
		Store:           earningsStore,
		Provider:        services.DryRunTransferProvider{},
		Dispatcher:      dispatcher,
		MinimumPayout:   cfg.MinimumPayoutAmount,
		Parallelism:     cfg.PayoutParallelism,
		TransferTimeout: cfg.TransferTimeout,
	}

	// Background loops
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		for {
			if err := feed.Run(ctx); ctx.Err() != nil {
				return
			} else if err != nil {
				log.Printf("Change feed stopped: %v, reconnecting in 5s...", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
		}
	}()
	go registry.RunSweeper(ctx, cfg.SweepInterval)
	go payoutService.RunScheduled(ctx, cfg.PayoutInterval)

	go func() {
		if err := socketServer.Serve(); err != nil {
			log.Printf("Socket server stopped: %v", err)
		}
	}()
	defer socketServer.Close()

	// Initialize the router
	r := mux.NewRouter()

	// Register a welcome route
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "Welcome to PartyUp")
	}).Methods("GET")

	// Register a health check endpoint
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	}).Methods("GET")

	// Register routes
	routes.RegisterPartyRoutes(r, registry, partyStore)
	routes.RegisterRatingRoutes(r, ratingService)
	routes.RegisterPayoutRoutes(r, payoutService, partyStore, earningsStore)
	r.Handle("/socket.io/", socketServer)

	// Add CORS middleware
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Adjust for specific domains if needed
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(r)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: corsHandler}

	// Start the HTTP server
	go func() {
		log.Printf("Starting server on port %s...\n", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown: finish in-flight work, decline new ticks
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down...")
	cancel()
	registry.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
