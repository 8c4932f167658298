package httpapi

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampMarshalNever(t *testing.T) {
	b, err := json.Marshal(Timestamp{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"t_s":"never"}`, string(b))
}

func TestTimestampMarshalSeconds(t *testing.T) {
	ts := NewTimestamp(time.Unix(1700000000, 0))
	b, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.JSONEq(t, `{"t_s":1700000000}`, string(b))
}

func TestTimestampRoundTrip(t *testing.T) {
	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`{"t_s":1700000000}`), &ts))
	assert.Equal(t, int64(1700000000), ts.Time.Unix())

	var never Timestamp
	require.NoError(t, json.Unmarshal([]byte(`{"t_s":"never"}`), &never))
	assert.True(t, never.Time.IsZero())
}

func TestWireAmountRoundTrip(t *testing.T) {
	var a wireAmount
	require.NoError(t, json.Unmarshal([]byte(`"EUR:1.5"`), &a))
	assert.Equal(t, "EUR", a.Currency)

	b, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `"EUR:1.5"`, string(b))
}
