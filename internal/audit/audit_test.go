package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestPgSinkEmit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink := NewPgSink(mock, nil)

	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs("reception-1", "booking.verified", "booking", "b-1",
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	sink.Emit(context.Background(), Event{
		Actor:      "reception-1",
		ActionType: "booking.verified",
		EntityType: "booking",
		EntityID:   "b-1",
		Details:    map[string]any{"from": "pending", "to": "verified"},
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgSinkEmitStampsTimestamp(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink := NewPgSink(mock, nil)

	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs("system", "booking.status_changed", "booking", "b-2",
			pgxmock.AnyArg(), at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	sink.Emit(context.Background(), Event{
		Actor:      "system",
		ActionType: "booking.status_changed",
		EntityType: "booking",
		EntityID:   "b-2",
		Timestamp:  at,
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgSinkEmitSwallowsFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink := NewPgSink(mock, nil)

	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection refused"))

	// Emit never panics or surfaces the failure.
	sink.Emit(context.Background(), Event{
		Actor:      "system",
		ActionType: "booking.created",
		EntityType: "booking",
		EntityID:   "b-3",
	})

	require.NoError(t, mock.ExpectationsWereMet())
}
