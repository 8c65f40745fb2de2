package receipt

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	tripBucketName    = "trips"
	receiptBucketName = "receipts"
)

// ErrNotFound is returned when a row does not exist.
type ErrNotFound struct {
	Kind string
	ID   string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// DB defines the interface for database operations
type DB interface {
	// SaveTrip inserts or replaces a trip
	SaveTrip(trip *Trip) error

	// GetTrip retrieves a trip by ID
	GetTrip(id string) (*Trip, error)

	// ListTrips returns all trips ordered by creation time descending
	ListTrips() ([]*Trip, error)

	// DeleteTrip removes a trip row (its receipts must already be gone)
	DeleteTrip(id string) error

	// SaveReceipt inserts or replaces a receipt
	SaveReceipt(receipt *Receipt) error

	// GetReceipt retrieves a receipt by ID
	GetReceipt(id string) (*Receipt, error)

	// ListReceipts returns all receipts for a trip ordered by creation
	// time descending
	ListReceipts(tripID string) ([]*Receipt, error)

	// DeleteReceipt removes a receipt row
	DeleteReceipt(id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(tripBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(receiptBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveTrip inserts or replaces a trip
func (b *BoltDB) SaveTrip(trip *Trip) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(tripBucketName))
		data, err := json.Marshal(trip)
		if err != nil {
			return fmt.Errorf("marshaling trip: %w", err)
		}
		return bucket.Put([]byte(trip.ID), data)
	})
}

// GetTrip retrieves a trip by ID
func (b *BoltDB) GetTrip(id string) (*Trip, error) {
	var trip *Trip
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(tripBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return &ErrNotFound{Kind: "trip", ID: id}
		}
		return json.Unmarshal(data, &trip)
	})
	if err != nil {
		return nil, err
	}
	return trip, nil
}

// ListTrips returns all trips ordered by creation time descending
func (b *BoltDB) ListTrips() ([]*Trip, error) {
	trips := make([]*Trip, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(tripBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var trip Trip
			if err := json.Unmarshal(v, &trip); err != nil {
				return fmt.Errorf("unmarshaling trip: %w", err)
			}
			trips = append(trips, &trip)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(trips, func(i, j int) bool {
		return trips[i].CreatedAt.After(trips[j].CreatedAt)
	})
	return trips, nil
}

// DeleteTrip removes a trip row
func (b *BoltDB) DeleteTrip(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(tripBucketName))
		return bucket.Delete([]byte(id))
	})
}

// SaveReceipt inserts or replaces a receipt
func (b *BoltDB) SaveReceipt(receipt *Receipt) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptBucketName))
		data, err := json.Marshal(receipt)
		if err != nil {
			return fmt.Errorf("marshaling receipt: %w", err)
		}
		return bucket.Put([]byte(receipt.ID), data)
	})
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(id string) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return &ErrNotFound{Kind: "receipt", ID: id}
		}
		return json.Unmarshal(data, &receipt)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListReceipts returns all receipts for a trip ordered by creation time
// descending
func (b *BoltDB) ListReceipts(tripID string) ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var receipt Receipt
			if err := json.Unmarshal(v, &receipt); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			if receipt.TripID == tripID {
				receipts = append(receipts, &receipt)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(receipts, func(i, j int) bool {
		return receipts[i].CreatedAt.After(receipts[j].CreatedAt)
	})
	return receipts, nil
}

// DeleteReceipt removes a receipt row
func (b *BoltDB) DeleteReceipt(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptBucketName))
		return bucket.Delete([]byte(id))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
