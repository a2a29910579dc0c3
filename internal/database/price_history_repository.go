package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-trends/internal/analytics"
)

// PriceHistoryTable stores one average price per market and day.
const PriceHistoryTable = "market_price_history"

// ErrMarketHistoryNotFound is returned when a requested market has no rows in range.
var ErrMarketHistoryNotFound = errors.New("market has no price history")

var priceHistoryColumns = []string{"market_id", "price_date", "price"}

// PriceHistoryQuerier is the subset of pgxpool.Pool the repository needs.
// pgxmock pools satisfy it in tests.
type PriceHistoryQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PriceHistoryRepository reads and writes daily market prices.
type PriceHistoryRepository struct {
	db     PriceHistoryQuerier
	logger *logrus.Logger
}

// NewPriceHistoryRepository creates a repository over db.
func NewPriceHistoryRepository(db PriceHistoryQuerier, logger *logrus.Logger) *PriceHistoryRepository {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PriceHistoryRepository{db: db, logger: logger}
}

// EnsureSchema creates the history table when it does not exist.
func (r *PriceHistoryRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS market_price_history (
	market_id TEXT NOT NULL,
	price_date DATE NOT NULL,
	price DOUBLE PRECISION NOT NULL CHECK (price > 0),
	PRIMARY KEY (market_id, price_date)
)`)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", PriceHistoryTable, err)
	}
	return nil
}

// LoadHistory returns one series per market, in the order requested, covering
// end-days through end inclusive.
func (r *PriceHistoryRepository) LoadHistory(ctx context.Context, markets []analytics.MarketSpec, days int, end time.Time) ([]analytics.PriceSeries, error) {
	if len(markets) == 0 {
		return nil, nil
	}
	ids := make([]string, len(markets))
	for i, m := range markets {
		ids[i] = m.ID
	}
	endDay := utcDay(end)
	startDay := endDay.AddDate(0, 0, -days)

	rows, err := r.db.Query(ctx, `SELECT market_id, price_date, price
FROM market_price_history
WHERE market_id = ANY($1) AND price_date BETWEEN $2 AND $3
ORDER BY market_id, price_date`, ids, startDay, endDay)
	if err != nil {
		return nil, fmt.Errorf("failed to query price history: %w", err)
	}
	defer rows.Close()

	byMarket := make(map[string][]analytics.PricePoint, len(markets))
	var count int
	for rows.Next() {
		var (
			id    string
			date  time.Time
			price float64
		)
		if err := rows.Scan(&id, &date, &price); err != nil {
			return nil, fmt.Errorf("failed to scan price history row: %w", err)
		}
		byMarket[id] = append(byMarket[id], analytics.PricePoint{Date: utcDay(date), MarketID: id, Price: price})
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate price history: %w", err)
	}

	out := make([]analytics.PriceSeries, len(markets))
	for i, id := range ids {
		points, ok := byMarket[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s between %s and %s", ErrMarketHistoryNotFound, id,
				startDay.Format(time.DateOnly), endDay.Format(time.DateOnly))
		}
		out[i] = analytics.PriceSeries{MarketID: id, Points: points}
	}

	r.logger.WithFields(logrus.Fields{
		"markets": len(markets),
		"rows":    count,
		"from":    startDay.Format(time.DateOnly),
		"to":      endDay.Format(time.DateOnly),
	}).Debug("Loaded price history")
	return out, nil
}

// SaveHistory replaces the stored prices of each series over its date range.
// The deletes and the copy share one transaction, so a failed copy leaves the
// previous rows in place.
func (r *PriceHistoryRepository) SaveHistory(ctx context.Context, series ...analytics.PriceSeries) (int64, error) {
	var rows [][]any
	for _, s := range series {
		for _, p := range s.Points {
			rows = append(rows, []any{s.MarketID, utcDay(p.Date), p.Price})
		}
	}
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, s := range series {
		if s.Len() == 0 {
			continue
		}
		first, last := utcDay(s.Points[0].Date), utcDay(s.LastDate())
		if _, err := tx.Exec(ctx,
			`DELETE FROM market_price_history WHERE market_id = $1 AND price_date BETWEEN $2 AND $3`,
			s.MarketID, first, last); err != nil {
			return 0, fmt.Errorf("failed to clear history for %s: %w", s.MarketID, err)
		}
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{PriceHistoryTable}, priceHistoryColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("failed to copy price history: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit price history: %w", err)
	}
	r.logger.WithFields(logrus.Fields{
		"markets": len(series),
		"rows":    n,
	}).Info("Saved price history")
	return n, nil
}

func utcDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
