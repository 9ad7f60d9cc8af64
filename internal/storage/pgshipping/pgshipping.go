package pgshipping

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicateShipmentID = errors.New("duplicate shipment id")
	// ErrParcelConflict: одна из посылок уже попала в другую отгрузку.
	ErrParcelConflict = errors.New("parcel already assigned to a shipment")
	// ErrShipmentNotPending: к отгрузке уже привязана машина.
	ErrShipmentNotPending = errors.New("shipment already has a vehicle")
)

type Storage struct {
	db *pgxpool.Pool
}

func New(connString string) (*Storage, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "parse pg config")
	}

	db, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect pg")
	}

	s := &Storage{db: db}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return errors.Wrap(s.db.Ping(ctx), "ping pg")
}

func (s *Storage) Close() {
	if s.db != nil {
		s.db.Close()
	}
}
