package refdata

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/sells-group/geofeat/internal/geo"
)

// Querier is the subset of *pgxpool.Pool the Postgres loader needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// rowScanner is satisfied by *sql.Rows and pgx.Rows.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func loadSQLite(ctx context.Context, src Source) (*PointSet, error) {
	query, err := selectQuery(src)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", src.Path)
	if err != nil {
		return nil, eris.Wrap(err, "refdata: sqlite open")
	}
	defer db.Close() //nolint:errcheck

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrapf(err, "refdata: sqlite query %s", src.Table)
	}
	defer rows.Close() //nolint:errcheck

	return scanPoints(rows, src)
}

func loadPostgres(ctx context.Context, src Source, q Querier) (*PointSet, error) {
	query, err := selectQuery(src)
	if err != nil {
		return nil, err
	}
	if q == nil {
		pool, err := pgxpool.New(ctx, src.Path)
		if err != nil {
			return nil, eris.Wrap(err, "refdata: postgres connect")
		}
		defer pool.Close()
		q = pool
	}

	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrapf(err, "refdata: postgres query %s", src.Table)
	}
	defer rows.Close()

	return scanPoints(rows, src)
}

// scanPoints reads (lat, lon[, attribute]) rows. A NULL attribute reads as 0.
func scanPoints(rows rowScanner, src Source) (*PointSet, error) {
	set := &PointSet{Name: src.Name, AttributeName: src.AttributeColumn, Points: []geo.Coord{}}
	if src.AttributeColumn != "" {
		set.Attribute = []float64{}
	}
	for rows.Next() {
		var (
			c    geo.Coord
			attr sql.NullFloat64
		)
		dest := []any{&c.Lat, &c.Lon}
		if set.Attribute != nil {
			dest = append(dest, &attr)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, eris.Wrap(err, "refdata: scan point")
		}
		set.Points = append(set.Points, c)
		if set.Attribute != nil {
			set.Attribute = append(set.Attribute, attr.Float64)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "refdata: iterate points")
	}
	return set, nil
}
