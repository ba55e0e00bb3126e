package resolver

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/AmanAhmed2002/TTCFareSite/model"
)

// StopStore is the external relational store of stops, queried by
// agency plus stop code or name pattern. The resolver treats it as
// best-effort: when unreachable, it falls back to the schedule index.
type StopStore interface {
	// StopByCode returns the stop with the given code, or nil when
	// no such stop exists.
	StopByCode(ctx context.Context, agency, code string) (*model.Stop, error)

	// StopsByName returns stops whose name contains every token,
	// case-insensitively.
	StopsByName(ctx context.Context, agency string, tokens []string) ([]model.Stop, error)
}

type storeStop struct {
	ID            string  `db:"id"`
	Name          string  `db:"name"`
	Code          string  `db:"stop_code"`
	Lat           float64 `db:"lat"`
	Lon           float64 `db:"lon"`
	LocationType  int     `db:"location_type"`
	ParentStation string  `db:"parent_station"`
}

func (s storeStop) toModel() model.Stop {
	return model.Stop{
		ID:            s.ID,
		Code:          s.Code,
		Name:          s.Name,
		Lat:           s.Lat,
		Lon:           s.Lon,
		LocationType:  model.LocationType(s.LocationType),
		ParentStation: s.ParentStation,
	}
}

// PostgresStore queries the stops table over postgres.
type PostgresStore struct {
	DB *sqlx.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to stop store")
	}
	return &PostgresStore{DB: db}, nil
}

func (p *PostgresStore) StopByCode(ctx context.Context, agency, code string) (*model.Stop, error) {
	var row storeStop
	err := p.DB.GetContext(ctx, &row, `
SELECT id, name, coalesce(stop_code, '') AS stop_code,
       lat, lon, location_type, coalesce(parent_station, '') AS parent_station
FROM stops
WHERE agency = $1 AND stop_code = $2
LIMIT 1`, agency, code)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "querying stop by code")
	}
	stop := row.toModel()
	return &stop, nil
}

func (p *PostgresStore) StopsByName(ctx context.Context, agency string, tokens []string) ([]model.Stop, error) {
	conditions := []string{"agency = $1"}
	params := []interface{}{agency}
	for i, tok := range tokens {
		conditions = append(conditions, fmt.Sprintf("name ILIKE $%d", i+2))
		params = append(params, "%"+tok+"%")
	}

	rows := []storeStop{}
	err := p.DB.SelectContext(ctx, &rows, `
SELECT id, name, coalesce(stop_code, '') AS stop_code,
       lat, lon, location_type, coalesce(parent_station, '') AS parent_station
FROM stops
WHERE `+strings.Join(conditions, " AND ")+`
ORDER BY name`, params...)
	if err != nil {
		return nil, errors.Wrap(err, "querying stops by name")
	}

	stops := make([]model.Stop, 0, len(rows))
	for _, r := range rows {
		stops = append(stops, r.toModel())
	}
	return stops, nil
}
