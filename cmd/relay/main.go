package main

import (
	"flag"
	"log"

	"github.com/joho/godotenv"

	"relay/internal/app"
)

func main() {
	configPath := flag.String("config", "config", "config file name or path")
	flag.Parse()

	// Optional; environment variables override config file values.
	if err := godotenv.Load(); err == nil {
		log.Println("loaded environment from .env")
	}

	if err := app.Run(*configPath); err != nil {
		log.Fatalf("relay: %v", err)
	}
}
