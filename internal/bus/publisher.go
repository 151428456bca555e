package bus

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/smartpark/sp-park/internal/data"
)

// EventMessage is the wire form fanned out to NATS and websocket
// subscribers after an event is accepted.
type EventMessage struct {
	EventID         int64     `json:"event_id"`
	CameraID        string    `json:"camera_id"`
	FloorID         int64     `json:"floor_id"`
	TrackID         string    `json:"track_id"`
	VehicleType     string    `json:"vehicle_type"`
	Direction       string    `json:"direction"`
	Confidence      float64   `json:"confidence"`
	Timestamp       time.Time `json:"timestamp"`
	FloorName       string    `json:"floor_name"`
	CurrentVehicles int       `json:"current_vehicles"`
	AvailableSlots  int       `json:"available_slots"`
	OccupancyPct    float64   `json:"occupancy_percentage"`
}

func newEventMessage(e *data.Event, f *data.Floor) EventMessage {
	return EventMessage{
		EventID:         e.ID,
		CameraID:        e.CameraID,
		FloorID:         e.FloorID,
		TrackID:         e.TrackID,
		VehicleType:     e.VehicleType,
		Direction:       e.Direction,
		Confidence:      e.Confidence,
		Timestamp:       e.Timestamp,
		FloorName:       f.Name,
		CurrentVehicles: f.CurrentVehicles,
		AvailableSlots:  f.AvailableSlots(),
		OccupancyPct:    f.OccupancyPercentage(),
	}
}

// Sink receives accepted events; the ingest service only knows this shape.
type Sink interface {
	EventAccepted(e *data.Event, f *data.Floor)
}

// Fanout delivers to every sink in order.
type Fanout []Sink

func (f Fanout) EventAccepted(e *data.Event, fl *data.Floor) {
	for _, s := range f {
		s.EventAccepted(e, fl)
	}
}

// NATSPublisher pushes accepted events onto smartpark.events.<camera_id>.
type NATSPublisher struct {
	conn       *nats.Conn
	maxRetries int
}

func NewNATSPublisher(conn *nats.Conn, maxRetries int) *NATSPublisher {
	return &NATSPublisher{conn: conn, maxRetries: maxRetries}
}

func (p *NATSPublisher) publish(msg EventMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	subject := "smartpark.events." + msg.CameraID
	for i := 0; i <= p.maxRetries; i++ {
		err = p.conn.Publish(subject, payload)
		if err == nil {
			return nil
		}
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}
	return fmt.Errorf("publish failed after %d retries: %w", p.maxRetries, err)
}

func (p *NATSPublisher) EventAccepted(e *data.Event, f *data.Floor) {
	if err := p.publish(newEventMessage(e, f)); err != nil {
		log.Printf("[Bus] nats publish: %v", err)
	}
}
