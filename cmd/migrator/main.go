package main

import (
	"flag"
	"log"
	"os"

	"github.com/smartpark/sp-park/internal/config"
	"github.com/smartpark/sp-park/internal/data"
)

func main() {
	var direction string
	flag.StringVar(&direction, "direction", "up", "migration direction: up or down")
	flag.Parse()

	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	db, driver, err := data.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("DB open error: %v", err)
	}
	defer db.Close()

	switch direction {
	case "up":
		err = data.MigrateUp(db, driver)
	case "down":
		err = data.MigrateDown(db, driver)
	default:
		log.Printf("unknown direction %q", direction)
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("migration %s failed: %v", direction, err)
	}
	log.Printf("migration %s complete (%s)", direction, driver)
}
