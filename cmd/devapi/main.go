package main

import (
	"log"

	"github.com/joho/godotenv"

	"github.com/in-nis/school-portal/internal/config"
	"github.com/in-nis/school-portal/internal/devapi"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ No .env file found, using system env")
	}

	cfg := config.Load()

	server := devapi.New(cfg.JWTSecret)
	if err := server.Seed(cfg.DevAPIPassword); err != nil {
		log.Fatalf("seed failed: %v", err)
	}

	log.Printf("Dev school API running on %s", cfg.DevAPIAddr)
	if err := server.Router().Run(cfg.DevAPIAddr); err != nil {
		log.Fatalf("dev api error: %v", err)
	}
}
