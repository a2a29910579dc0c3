package database

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/celebrum-trends/internal/analytics"
	"github.com/irfndi/celebrum-trends/internal/config"
	"github.com/irfndi/celebrum-trends/internal/logging"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestPriceHistoryRepository_EnsureSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS market_price_history").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	repo := NewPriceHistoryRepository(mock, quietLogger())
	require.NoError(t, repo.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPriceHistoryRepository_LoadHistory(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	end := time.Date(2024, time.March, 3, 18, 45, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{"market_id", "price_date", "price"}).
		AddRow("fes", day(2024, time.March, 1), 1.0e-7).
		AddRow("fes", day(2024, time.March, 2), 1.1e-7).
		AddRow("fes", day(2024, time.March, 3), 1.2e-7).
		AddRow("rabat", day(2024, time.March, 1), 2.0e-7).
		AddRow("rabat", day(2024, time.March, 2), 2.1e-7).
		AddRow("rabat", day(2024, time.March, 3), 2.2e-7)
	mock.ExpectQuery("SELECT market_id, price_date, price").
		WithArgs([]string{"rabat", "fes"}, day(2024, time.March, 1), day(2024, time.March, 3)).
		WillReturnRows(rows)

	repo := NewPriceHistoryRepository(mock, quietLogger())
	series, err := repo.LoadHistory(context.Background(),
		[]analytics.MarketSpec{{ID: "rabat"}, {ID: "fes"}}, 2, end)
	require.NoError(t, err)
	require.Len(t, series, 2)

	assert.Equal(t, "rabat", series[0].MarketID)
	assert.Equal(t, []float64{2.0e-7, 2.1e-7, 2.2e-7}, series[0].Prices())
	assert.Equal(t, "fes", series[1].MarketID)
	assert.Equal(t, day(2024, time.March, 3), series[1].LastDate())
	assert.NoError(t, series[1].Validate())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPriceHistoryRepository_LoadHistoryMissingMarket(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT market_id, price_date, price").
		WithArgs([]string{"fes", "agadir"}, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"market_id", "price_date", "price"}).
			AddRow("fes", day(2024, time.March, 1), 1.0e-7))

	repo := NewPriceHistoryRepository(mock, quietLogger())
	_, err = repo.LoadHistory(context.Background(),
		[]analytics.MarketSpec{{ID: "fes"}, {ID: "agadir"}}, 1, day(2024, time.March, 2))
	assert.ErrorIs(t, err, ErrMarketHistoryNotFound)
	assert.Contains(t, err.Error(), "agadir")
}

func TestPriceHistoryRepository_LoadHistoryQueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT market_id").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	repo := NewPriceHistoryRepository(mock, quietLogger())
	_, err = repo.LoadHistory(context.Background(), []analytics.MarketSpec{{ID: "fes"}}, 10, time.Now())
	assert.ErrorContains(t, err, "connection reset")
}

func TestPriceHistoryRepository_SaveHistory(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	series := analytics.PriceSeries{MarketID: "tanger", Points: []analytics.PricePoint{
		{Date: day(2024, time.May, 1), MarketID: "tanger", Price: 3e-7},
		{Date: day(2024, time.May, 2), MarketID: "tanger", Price: 3.1e-7},
	}}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM market_price_history").
		WithArgs("tanger", day(2024, time.May, 1), day(2024, time.May, 2)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{PriceHistoryTable}, []string{"market_id", "price_date", "price"}).
		WillReturnResult(2)
	mock.ExpectCommit()

	repo := NewPriceHistoryRepository(NewTracedDB(mock, quietLogger()), quietLogger())
	n, err := repo.SaveHistory(context.Background(), series, analytics.PriceSeries{MarketID: "empty"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPriceHistoryRepository_SaveHistoryCopyFailureRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	series := analytics.PriceSeries{MarketID: "agadir", Points: []analytics.PricePoint{
		{Date: day(2024, time.May, 1), MarketID: "agadir", Price: 1e-7},
	}}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM market_price_history").
		WithArgs("agadir", day(2024, time.May, 1), day(2024, time.May, 1)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCopyFrom(pgx.Identifier{PriceHistoryTable}, []string{"market_id", "price_date", "price"}).
		WillReturnError(errors.New("copy failed"))
	mock.ExpectRollback()

	repo := NewPriceHistoryRepository(NewTracedDB(mock, quietLogger()), quietLogger())
	n, err := repo.SaveHistory(context.Background(), series)
	assert.ErrorContains(t, err, "copy failed")
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPriceHistoryRepository_SaveHistoryBeginError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

	repo := NewPriceHistoryRepository(mock, quietLogger())
	_, err = repo.SaveHistory(context.Background(), analytics.PriceSeries{MarketID: "fes", Points: []analytics.PricePoint{
		{Date: day(2024, time.May, 1), MarketID: "fes", Price: 1e-7},
	}})
	assert.ErrorContains(t, err, "failed to begin transaction")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPriceHistoryRepository_SaveHistoryNothing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	n, err := NewPriceHistoryRepository(mock, quietLogger()).SaveHistory(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db/x", DSN(configWithURL("postgres://u:p@db/x")))
	assert.Equal(t, "host=h port=5432 user=u password=p dbname=d sslmode=disable", DSN(configWithURL("")))
}

func configWithURL(url string) config.DatabaseConfig {
	return config.DatabaseConfig{
		Host:        "h",
		Port:        5432,
		User:        "u",
		Password:    "p",
		DBName:      "d",
		SSLMode:     "disable",
		DatabaseURL: url,
	}
}

func TestTracedDB_ReportsDatabaseEvents(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS market_price_history").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	var buf bytes.Buffer
	events := logging.NewStandardLoggerWithWriter("debug", &buf)
	repo := NewPriceHistoryRepository(NewTracedDB(mock, quietLogger()).WithEvents(events), quietLogger())
	require.NoError(t, repo.EnsureSchema(context.Background()))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "database", line["event"])
	assert.Equal(t, "exec", line["operation"])
	assert.Equal(t, PriceHistoryTable, line["table"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
