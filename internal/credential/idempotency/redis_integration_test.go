//go:build integration

package idempotency

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"microcred/pkg/testutil/containers"
)

func TestRedisReservations(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	rc := containers.NewRedisContainer(t)

	suite.Run(t, &ReservationSuite{newStore: func() Store {
		if err := rc.FlushAll(context.Background()); err != nil {
			t.Fatalf("flush redis: %v", err)
		}
		return NewRedis(rc.Client)
	}})
}
