package sweeplock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey   = "stake-ledger:sweep"
	testOwner = "instance-a"
)

func TestAcquire(t *testing.T) {
	client, mock := redismock.NewClientMock()
	locker := NewRedisLocker(client, testKey, testOwner)

	mock.ExpectSetNX(testKey, testOwner, 15*time.Minute).SetVal(true)
	ok, err := locker.Acquire(context.Background(), 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectSetNX(testKey, testOwner, 15*time.Minute).SetVal(false)
	ok, err = locker.Acquire(context.Background(), 15*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectSetNX(testKey, testOwner, 15*time.Minute).SetErr(errors.New("connection refused"))
	_, err = locker.Acquire(context.Background(), 15*time.Minute)
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelease(t *testing.T) {
	client, mock := redismock.NewClientMock()
	locker := NewRedisLocker(client, testKey, testOwner)

	mock.ExpectEval(releaseScript, []string{testKey}, testOwner).SetVal(int64(1))
	assert.NoError(t, locker.Release(context.Background()))

	mock.ExpectEval(releaseScript, []string{testKey}, testOwner).SetVal(int64(0))
	assert.ErrorIs(t, locker.Release(context.Background()), ErrLeaseLost)

	mock.ExpectEval(releaseScript, []string{testKey}, testOwner).SetErr(errors.New("connection refused"))
	err := locker.Release(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLeaseLost)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRedisLockerRandomOwner(t *testing.T) {
	client, _ := redismock.NewClientMock()
	a := NewRedisLocker(client, testKey, "")
	b := NewRedisLocker(client, testKey, "")
	assert.NotEmpty(t, a.owner)
	assert.NotEqual(t, a.owner, b.owner)
}
