package store

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
)

func TestRedisCacheGet(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewRedisCacheFromClient(db, time.Hour)
	ctx := context.Background()
	key := testKey("AAPL")

	t.Run("miss", func(t *testing.T) {
		mock.ExpectGet(DefaultRedisPrefix + key.String()).RedisNil()

		bars, ok, err := cache.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get should not return error on a miss: %v", err)
		}
		if ok || bars != nil {
			t.Errorf("expected miss, got ok=%v bars=%v", ok, bars)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("redis expectations not met: %v", err)
		}
	})

	t.Run("hit", func(t *testing.T) {
		payload, err := encodeBars(testBars("AAPL"))
		if err != nil {
			t.Fatal(err)
		}
		mock.ExpectGet(DefaultRedisPrefix + key.String()).SetVal(string(payload))

		bars, ok, err := cache.Get(ctx, key)
		if err != nil || !ok {
			t.Fatalf("Get = ok %v, err %v", ok, err)
		}
		if len(bars) != 2 || bars[1].Close != 186.0 {
			t.Errorf("decoded bars = %+v", bars)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("redis expectations not met: %v", err)
		}
	})

	t.Run("error", func(t *testing.T) {
		mock.ExpectGet(DefaultRedisPrefix + key.String()).SetErr(redis.TxFailedErr)

		if _, _, err := cache.Get(ctx, key); err == nil {
			t.Error("expected error when redis fails")
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("redis expectations not met: %v", err)
		}
	})

	t.Run("corrupt payload", func(t *testing.T) {
		mock.ExpectGet(DefaultRedisPrefix + key.String()).SetVal("not json")

		if _, _, err := cache.Get(ctx, key); err == nil {
			t.Error("expected decode error")
		}
	})
}

func TestRedisCachePut(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewRedisCacheFromClient(db, time.Hour)
	ctx := context.Background()
	key := testKey("AAPL")

	payload, err := encodeBars(testBars("AAPL"))
	if err != nil {
		t.Fatal(err)
	}

	mock.ExpectSetNX(DefaultRedisPrefix+key.String(), payload, time.Hour).SetVal(true)
	if err := cache.Put(ctx, key, testBars("AAPL")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// An existing key is not an error.
	mock.ExpectSetNX(DefaultRedisPrefix+key.String(), payload, time.Hour).SetVal(false)
	if err := cache.Put(ctx, key, testBars("AAPL")); err != nil {
		t.Fatalf("Put on existing key: %v", err)
	}

	mock.ExpectSetNX(DefaultRedisPrefix+key.String(), payload, time.Hour).SetErr(redis.TxFailedErr)
	if err := cache.Put(ctx, key, testBars("AAPL")); err == nil {
		t.Error("expected error when redis fails")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("redis expectations not met: %v", err)
	}
}
