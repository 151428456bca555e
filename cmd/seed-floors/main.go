package main

import (
	"context"
	"log"

	"github.com/smartpark/sp-park/internal/config"
	"github.com/smartpark/sp-park/internal/data"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	db, driver, err := data.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("DB open error: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := data.MigrateUp(db, driver); err != nil {
		log.Fatalf("migration error: %v", err)
	}
	if err := data.Seed(ctx, db); err != nil {
		log.Fatalf("seed error: %v", err)
	}

	floors, err := data.FloorModel{DB: db}.GetAllActive(ctx)
	if err != nil {
		log.Fatalf("listing floors: %v", err)
	}
	for _, f := range floors {
		log.Printf("floor %d %q: %d/%d occupied", f.ID, f.Name, f.CurrentVehicles, f.TotalSlots)
	}
}
