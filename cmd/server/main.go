package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gwi.com/botai-chat/internal/api"
	"gwi.com/botai-chat/internal/config"
	"gwi.com/botai-chat/internal/core"
	"gwi.com/botai-chat/internal/store"
)

func main() {
	// Load configuration
	config.LoadConfig()

	// Setup logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if config.AppConfig.IsDebug() {
		log.Println("Service starting in DEBUG mode")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(config.AppConfig.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbStore.Close()

	// Initialize AI gateway
	gateway, err := core.NewGeminiGateway(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize AI gateway: %v", err)
	}
	defer gateway.Close()

	chatService := core.NewChatService(dbStore, gateway)

	// The hub outlives the shutdown signal until the server has drained.
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := api.NewHub()
	go hub.Run(hubCtx)

	apiHandler := api.NewAPIHandler(chatService, hub, config.AppConfig.AllowedOrigins)
	router := api.NewRouter(apiHandler)

	serverAddr := fmt.Sprintf(":%s", config.AppConfig.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: time.Duration(config.AppConfig.AITimeoutSeconds+30) * time.Second, // AI calls can take time
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	// Closing the hub drops the websocket clients, which Shutdown does not track.
	stopHub()

	log.Println("Server exiting gracefully")
}
