package main

import (
	"flag"
	"fmt"
	"log"
	"strconv"

	"github.com/leozw/agentpulse/internal/config"
	"github.com/leozw/agentpulse/internal/db"
)

func main() {
	flag.Usage = func() {
		fmt.Println("usage: migrate up | down N | version")
	}
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.Driver != "postgres" {
		log.Fatal("Migrations only apply to the postgres driver")
	}

	conn, err := db.NewConnection(cfg.Database.URL, 2, 1)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	switch flag.Arg(0) {
	case "up", "":
		if err := db.MigrateUp(conn.DB); err != nil {
			log.Fatal(err)
		}
		log.Println("Migrations applied")
	case "down":
		steps, err := strconv.Atoi(flag.Arg(1))
		if err != nil || steps < 1 {
			log.Fatal("down needs a positive step count")
		}
		if err := db.MigrateDown(conn.DB, steps); err != nil {
			log.Fatal(err)
		}
		log.Printf("Rolled back %d migration(s)", steps)
	case "version":
		version, dirty, err := db.MigrationVersion(conn.DB)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Schema version %d (dirty=%t)", version, dirty)
	default:
		flag.Usage()
	}
}
