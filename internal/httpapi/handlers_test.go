package httpapi

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ebicsnexus/internal/store"
)

func TestParsePaginationRequiresDelta(t *testing.T) {
	r := httptest.NewRequest("GET", "/history/incoming", nil)
	_, err := parsePagination(r)
	require.Error(t, err)
	assert.Equal(t, 400, err.status)
}

func TestParsePaginationDefaults(t *testing.T) {
	r := httptest.NewRequest("GET", "/history/incoming?delta=5", nil)
	p, err := parsePagination(r)
	require.Nil(t, err)
	assert.Equal(t, 5, p.delta)
	assert.Equal(t, int64(0), p.start)
	assert.Equal(t, 0, p.longPollMs)
}

func TestParsePaginationNegativeDeltaDefaultsStartToMax(t *testing.T) {
	r := httptest.NewRequest("GET", "/history/incoming?delta=-5", nil)
	p, err := parsePagination(r)
	require.Nil(t, err)
	assert.Equal(t, -5, p.delta)
	assert.Greater(t, p.start, int64(0))
}

func TestParsePaginationRejectsZeroDelta(t *testing.T) {
	r := httptest.NewRequest("GET", "/history/incoming?delta=0", nil)
	_, err := parsePagination(r)
	require.Error(t, err)
}

func TestToIncomingTransactionsPreservesReservePub(t *testing.T) {
	reservePub := "KQJN3QY4WQRJ8KTZ0ZT9V7KGAQ6M4FQHPWW0H3D8BK9FK0RPCQKG"
	rows := []store.IncomingPayment{{ID: 1, DebitPayto: "payto://iban/DE1234", ReservePub: &reservePub}}
	out := toIncomingTransactions(rows)
	require.Len(t, out, 1)
	assert.Equal(t, "RESERVE", out[0].Type)
	assert.Equal(t, reservePub, out[0].ReservePub.String())
}
