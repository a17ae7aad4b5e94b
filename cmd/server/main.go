package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thomas-Heisig/chat-system-sub000/internal/ai"
	"github.com/Thomas-Heisig/chat-system-sub000/internal/server"
	"github.com/Thomas-Heisig/chat-system-sub000/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	fmt.Println("Starting chat server...")

	// Load configuration from environment
	config := server.NewConfigFromEnv()
	server.SetConfig(config)

	// Open the message store
	dbPath := os.Getenv("CHAT_DB_PATH")
	if dbPath == "" {
		dbPath = "chat.db"
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		log.Fatalf("Failed to open message store: %v", err)
	}

	// Wire the hub with its collaborators
	hub := server.NewHub(store, ai.NewCannedResponder())

	// Setup routes and create the server
	mux := server.SetupRoutes(hub)
	httpServer := server.CreateServer(config.Port, mux)

	errChan := make(chan error, 1)
	go func() {
		if err := server.StartServer(httpServer); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Wait for a shutdown signal or a startup failure
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		log.Fatalf("Server failed: %v", err)
	case sig := <-sigChan:
		log.Printf("Received signal %s, shutting down", sig)
	}

	if err := server.ShutdownServer(httpServer, shutdownTimeout); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	if err := hub.Shutdown(shutdownTimeout); err != nil {
		log.Printf("Hub shutdown error: %v", err)
	}
}
