package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type summary struct {
	Total int `json:"total"`
}

func TestGetOrLoadMissThenHit(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCacheFromClient(db)
	ctx := context.Background()

	mock.ExpectGet(KeySummary).RedisNil()
	mock.ExpectSet(KeySummary, []byte(`{"total":3}`), TTLSummary).SetVal("OK")

	calls := 0
	load := func(context.Context) (summary, error) {
		calls++
		return summary{Total: 3}, nil
	}

	got, err := GetOrLoad(ctx, c, KeySummary, TTLSummary, load)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Total)

	mock.ExpectGet(KeySummary).SetVal(`{"total":3}`)
	got, err = GetOrLoad(ctx, c, KeySummary, TTLSummary, load)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Total)

	assert.Equal(t, 1, calls, "second read is served from cache")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrLoadDegradesOnCacheError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCacheFromClient(db)

	mock.ExpectGet(KeyCountries).SetErr(errors.New("connection refused"))
	mock.ExpectSet(KeyCountries, []byte(`{"total":1}`), TTLCountries).SetErr(errors.New("connection refused"))

	got, err := GetOrLoad(context.Background(), c, KeyCountries, TTLCountries, func(context.Context) (summary, error) {
		return summary{Total: 1}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, got.Total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrLoadPropagatesLoadError(t *testing.T) {
	boom := errors.New("db down")
	_, err := GetOrLoad(context.Background(), Nop{}, KeySummary, time.Minute, func(context.Context) (summary, error) {
		return summary{}, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestInvalidate(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCacheFromClient(db)

	mock.ExpectDel(WriteKeys...).SetVal(4)
	Invalidate(context.Background(), c)

	mock.ExpectDel(WriteKeys...).SetErr(errors.New("timeout"))
	Invalidate(context.Background(), c)

	assert.NoError(t, mock.ExpectationsWereMet())
}
