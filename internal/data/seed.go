package data

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"
)

var seedFloors = []Floor{
	{Name: "Ground Floor", Description: "Main entrance level", TotalSlots: 50, IsActive: true},
	{Name: "First Floor", Description: "Upper level with elevator access", TotalSlots: 45, IsActive: true},
	{Name: "Second Floor", Description: "Top level, stairs only", TotalSlots: 40, IsActive: true},
	{Name: "Basement", Description: "Underground level, closed for maintenance", TotalSlots: 60, IsActive: false},
}

const seedEventCount = 15

// Seed populates an empty database with the demo floors and a batch of
// sample events, then fixes each floor's vehicle counter to match the
// replayed entries and exits. A database that already has floors is left
// alone.
func Seed(ctx context.Context, db *sql.DB) error {
	floorModel := FloorModel{DB: db}
	eventModel := EventModel{DB: db}

	n, err := floorModel.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting floors: %w", err)
	}
	if n > 0 {
		return nil
	}

	floors := make([]Floor, len(seedFloors))
	copy(floors, seedFloors)
	for i := range floors {
		if err := floorModel.Create(ctx, &floors[i]); err != nil {
			return fmt.Errorf("seeding floor %q: %w", floors[i].Name, err)
		}
	}

	rng := rand.New(rand.NewSource(42))
	vehicleTypes := []string{"car", "car", "car", "motorcycle", "bus", "truck"}
	occupancy := map[int64]int{}

	now := time.Now().UTC()
	for i := 0; i < seedEventCount; i++ {
		floor := floors[rng.Intn(3)]
		direction := "entry"
		if occupancy[floor.ID] > 0 && rng.Intn(3) == 0 {
			direction = "exit"
		}

		ev := Event{
			CameraID:    fmt.Sprintf("cam_%03d", floor.ID),
			FloorID:     floor.ID,
			TrackID:     fmt.Sprintf("seed_v%d", i+1),
			VehicleType: vehicleTypes[rng.Intn(len(vehicleTypes))],
			Direction:   direction,
			Confidence:  0.75 + rng.Float64()*0.2,
			Timestamp:   now.Add(-time.Duration(seedEventCount-i) * 3 * time.Minute),
		}
		if err := eventModel.Insert(ctx, &ev); err != nil {
			return fmt.Errorf("seeding event %d: %w", i+1, err)
		}

		if direction == "entry" {
			occupancy[floor.ID]++
		} else {
			occupancy[floor.ID]--
		}
	}

	for id, count := range occupancy {
		if count < 0 {
			count = 0
		}
		if err := floorModel.SetVehicleCount(ctx, id, count); err != nil {
			return fmt.Errorf("setting vehicle count for floor %d: %w", id, err)
		}
	}
	return nil
}
