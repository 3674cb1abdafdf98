package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/stockcrawler/internal/backfill"
)

const fixedRunID = "01890a5d-ac96-774b-bcce-b302099a8057"

type fixedIDs struct{ err error }

func (f fixedIDs) NewID() (string, error) { return fixedRunID, f.err }

func newTestRunStore(t *testing.T) (*RunStore, pgxmock.PgxPoolIface, *observer.ObservedLogs) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	core, logs := observer.New(zap.WarnLevel)
	store, err := NewRunStore(mock, fixedIDs{}, zap.New(core))
	require.NoError(t, err)
	return store, mock, logs
}

func TestRunStoreRecordRun(t *testing.T) {
	t.Parallel()

	store, mock, logs := newTestRunStore(t)
	started := time.Date(2024, 5, 10, 17, 0, 0, 0, time.UTC)
	finished := started.Add(2 * time.Minute)
	window := backfill.Window{Year: 2024, Quarter: 1}
	mock.ExpectExec("INSERT INTO backfill_runs").
		WithArgs(fixedRunID, "financial_statement_quarter", window.String(), "ok", "",
			started, finished, 3, 2, 1, 0, 0, true, true, (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	store.RecordRun(context.Background(), backfill.RunReport{
		Task:     "financial_statement_quarter",
		Started:  started,
		Finished: finished,
		Summary: backfill.Summary{
			Task: "financial_statement_quarter", Window: window,
			Total: 3, Succeeded: 2, Ineligible: 1, SentinelSet: true, RollupRan: true,
		},
	})
	require.NoError(t, mock.ExpectationsWereMet())
	require.Zero(t, logs.Len())
}

func TestRunStoreRecordRunLogsFailures(t *testing.T) {
	t.Parallel()

	store, mock, logs := newTestRunStore(t)
	mock.ExpectExec("INSERT INTO backfill_runs").
		WillReturnError(errors.New("connection reset"))

	store.RecordRun(context.Background(), backfill.RunReport{
		Task: "daily_quote",
		Err:  errors.New("persistence read"),
	})
	require.NoError(t, mock.ExpectationsWereMet())
	require.Equal(t, 1, logs.FilterMessage("failed to persist run").Len())
}

func TestNewRunStoreRequiresDB(t *testing.T) {
	t.Parallel()

	_, err := NewRunStore(nil, fixedIDs{}, nil)
	require.Error(t, err)
}

func TestRunStoreSkipsRowWithoutID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	core, logs := observer.New(zap.WarnLevel)
	store, err := NewRunStore(mock, fixedIDs{err: errors.New("entropy")}, zap.New(core))
	require.NoError(t, err)

	store.RecordRun(context.Background(), backfill.RunReport{Task: "daily_quote"})
	require.NoError(t, mock.ExpectationsWereMet())
	require.Equal(t, 1, logs.FilterMessage("run id generation failed").Len())
}
