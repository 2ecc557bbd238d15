package errors

import (
	"context"
	stderrs "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestHTTPMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{Validationf("id", "id is required"), http.StatusBadRequest},
		{Forbiddenf("run belongs to another user"), http.StatusForbidden},
		{NotFoundf("run not found"), http.StatusNotFound},
		{New(ErrorCodeDB, "insert failed"), http.StatusInternalServerError},
		{New(ErrorCodeUnavailable, "store down"), http.StatusServiceUnavailable},
		{stderrs.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, _ := HTTP(tc.err)
		require.Equal(t, tc.status, status, tc.err.Error())
	}
}

func TestWireKeepsField(t *testing.T) {
	_, wire := HTTP(Validationf("end_time", "end_time must be after start_time"))
	require.Equal(t, ErrorCodeValidation, wire.Code)
	require.Equal(t, "end_time", wire.Field)
}

func TestCodeSurvivesWrapping(t *testing.T) {
	base := Forbiddenf("nope")
	wrapped := fmt.Errorf("submit: %w", base)
	require.True(t, IsCode(wrapped, ErrorCodeForbidden))
	require.Equal(t, ErrorCodeUnknown, CodeOf(stderrs.New("x")))
}

func TestFromPostgresClassifiesUniqueViolation(t *testing.T) {
	err := FromPostgres(&pgconn.PgError{Code: "23505", ConstraintName: "runs_pkey"}, "insert run")
	require.True(t, IsCode(err, ErrorCodeDuplicateKey))
	require.True(t, IsDuplicateKey(err))
	require.False(t, Retryable(err))
}

func TestFromPostgresRetryableSerialization(t *testing.T) {
	err := FromPostgres(&pgconn.PgError{Code: "40001"}, "commit")
	require.True(t, IsCode(err, ErrorCodeDB))
	require.True(t, Retryable(err))
}

func TestFromPostgresContextIsUnavailable(t *testing.T) {
	err := FromPostgres(context.DeadlineExceeded, "lookup")
	require.True(t, IsCode(err, ErrorCodeUnavailable))
	require.True(t, Retryable(err))
	require.Nil(t, FromPostgres(nil, "noop"))
}
