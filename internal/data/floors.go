package data

import (
	"context"
	"database/sql"
	"time"
)

// Floor represents one parking level and its live occupancy counter.
type Floor struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	TotalSlots      int       `json:"total_slots"`
	CurrentVehicles int       `json:"current_vehicles"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (f *Floor) AvailableSlots() int {
	return f.TotalSlots - f.CurrentVehicles
}

func (f *Floor) OccupancyPercentage() float64 {
	if f.TotalSlots == 0 {
		return 0
	}
	return float64(f.CurrentVehicles) / float64(f.TotalSlots) * 100
}

type FloorModel struct {
	DB DBTX
}

func (m FloorModel) Create(ctx context.Context, f *Floor) error {
	query := `
		INSERT INTO floors (name, description, total_slots, current_vehicles, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	return m.DB.QueryRowContext(ctx, query,
		f.Name, f.Description, f.TotalSlots, f.CurrentVehicles, f.IsActive,
	).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
}

func (m FloorModel) GetByID(ctx context.Context, id int64) (*Floor, error) {
	query := `
		SELECT id, name, description, total_slots, current_vehicles, is_active, created_at, updated_at
		FROM floors
		WHERE id = $1`

	var f Floor
	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&f.ID, &f.Name, &f.Description, &f.TotalSlots, &f.CurrentVehicles,
		&f.IsActive, &f.CreatedAt, &f.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// GetAllActive returns active floors ordered by id.
func (m FloorModel) GetAllActive(ctx context.Context) ([]*Floor, error) {
	query := `
		SELECT id, name, description, total_slots, current_vehicles, is_active, created_at, updated_at
		FROM floors
		WHERE is_active = $1
		ORDER BY id`

	rows, err := m.DB.QueryContext(ctx, query, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var floors []*Floor
	for rows.Next() {
		var f Floor
		if err := rows.Scan(
			&f.ID, &f.Name, &f.Description, &f.TotalSlots, &f.CurrentVehicles,
			&f.IsActive, &f.CreatedAt, &f.UpdatedAt,
		); err != nil {
			return nil, err
		}
		floors = append(floors, &f)
	}
	return floors, rows.Err()
}

// IncrementVehicles bumps the counter only while capacity remains. The
// WHERE clause is the capacity guard; zero rows means the floor was full
// (or missing) at commit time.
func (m FloorModel) IncrementVehicles(ctx context.Context, id int64, at time.Time) (bool, error) {
	query := `
		UPDATE floors
		SET current_vehicles = current_vehicles + 1, updated_at = $1
		WHERE id = $2 AND current_vehicles < total_slots`

	res, err := m.DB.ExecContext(ctx, query, at.UTC(), id)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// DecrementVehicles is the exit-side counterpart; it never drives the
// counter below zero.
func (m FloorModel) DecrementVehicles(ctx context.Context, id int64, at time.Time) (bool, error) {
	query := `
		UPDATE floors
		SET current_vehicles = current_vehicles - 1, updated_at = $1
		WHERE id = $2 AND current_vehicles > 0`

	res, err := m.DB.ExecContext(ctx, query, at.UTC(), id)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// SetVehicleCount overwrites the counter; used by the seeder after
// replaying sample events.
func (m FloorModel) SetVehicleCount(ctx context.Context, id int64, count int) error {
	query := `UPDATE floors SET current_vehicles = $1, updated_at = $2 WHERE id = $3`
	res, err := m.DB.ExecContext(ctx, query, count, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (m FloorModel) Count(ctx context.Context) (int, error) {
	var n int
	err := m.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM floors`).Scan(&n)
	return n, err
}
