//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type CartCountsTestSuite struct {
	suite.Suite
	ctx    context.Context
	ctr    testcontainers.Container
	client *redis.Client
	counts *CartCounts
}

func TestCartCounts(t *testing.T) {
	suite.Run(t, new(CartCountsTestSuite))
}

func (s *CartCountsTestSuite) SetupSuite() {
	s.ctx = context.Background()

	ctr, err := testcontainers.GenericContainer(s.ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	s.Require().NoError(err)
	s.ctr = ctr

	endpoint, err := ctr.Endpoint(s.ctx, "redis")
	s.Require().NoError(err)

	s.client, err = NewClient(endpoint)
	s.Require().NoError(err)
	s.counts = NewCartCounts(s.client, time.Minute)
}

func (s *CartCountsTestSuite) TearDownSuite() {
	if s.client != nil {
		s.client.Close()
	}
	if s.ctr != nil {
		s.Require().NoError(testcontainers.TerminateContainer(s.ctr))
	}
}

func (s *CartCountsTestSuite) SetupTest() {
	s.client.FlushDB(s.ctx)
}

func (s *CartCountsTestSuite) TestMissThenHit() {
	_, gen, ok := s.counts.Get(s.ctx, 1)
	s.False(ok)

	s.counts.Set(s.ctx, 1, 4, gen)
	n, _, ok := s.counts.Get(s.ctx, 1)
	s.True(ok)
	s.Equal(4, n)

	_, _, ok = s.counts.Get(s.ctx, 2)
	s.False(ok)
}

func (s *CartCountsTestSuite) TestInvalidate() {
	_, gen, _ := s.counts.Get(s.ctx, 1)
	s.counts.Set(s.ctx, 1, 4, gen)
	s.counts.Invalidate(s.ctx, 1)

	_, _, ok := s.counts.Get(s.ctx, 1)
	s.False(ok)
}

func (s *CartCountsTestSuite) TestFillAfterInvalidateIsDropped() {
	_, gen, ok := s.counts.Get(s.ctx, 1)
	s.Require().False(ok)

	// A cart mutation lands between the storage read and the fill.
	s.counts.Invalidate(s.ctx, 1)
	s.counts.Set(s.ctx, 1, 1, gen)

	_, next, ok := s.counts.Get(s.ctx, 1)
	s.False(ok, "stale count must not be cached")
	s.Greater(next, gen)

	s.counts.Set(s.ctx, 1, 2, next)
	n, _, ok := s.counts.Get(s.ctx, 1)
	s.True(ok)
	s.Equal(2, n)
}

func (s *CartCountsTestSuite) TestInvalidateKeepsOtherUsers() {
	_, gen, _ := s.counts.Get(s.ctx, 2)
	s.counts.Invalidate(s.ctx, 1)
	s.counts.Set(s.ctx, 2, 3, gen)

	n, _, ok := s.counts.Get(s.ctx, 2)
	s.True(ok)
	s.Equal(3, n)
}

func (s *CartCountsTestSuite) TestEntriesExpire() {
	_, gen, _ := s.counts.Get(s.ctx, 1)
	s.counts.Set(s.ctx, 1, 4, gen)

	ttl, err := s.client.TTL(s.ctx, countKey(1)).Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))
	s.LessOrEqual(ttl, time.Minute)
}

func (s *CartCountsTestSuite) TestUnreachableRedisIsAMiss() {
	broken := NewCartCounts(redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	}), time.Minute)

	_, gen, ok := broken.Get(s.ctx, 1)
	s.False(ok)
	broken.Set(s.ctx, 1, 4, gen)
	_, _, ok = broken.Get(s.ctx, 1)
	s.False(ok)
}
