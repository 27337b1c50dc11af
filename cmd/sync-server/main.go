// Package main Dolt-Chroma Sync Server
//
//	@title			Dolt-Chroma Sync API
//	@version		1.0
//	@description	Bidirectional synchronization between a Dolt versioned document store and a ChromaDB vector store
//
//	@host		localhost:8080
//	@BasePath	/
package main

import (
	"log"

	_ "dolt-chroma-sync/docs" // This imports the docs package to initialize swagger
	"dolt-chroma-sync/internal/server"
)

func main() {
	log.Println("Starting Dolt-Chroma Sync Server...")
	srv, err := server.NewServer()
	if err != nil {
		log.Fatalf("Failed to initialize server: %v", err)
	}
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
