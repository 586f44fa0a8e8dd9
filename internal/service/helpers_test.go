package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"storyhub/config"
	"storyhub/internal/model"
	"storyhub/internal/repository"
	"storyhub/pkg/db"
	"storyhub/pkg/events"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var strategies = []string{config.CounterStrategyIncremental, config.CounterStrategyRecompute}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	orm, err := db.Open(config.DatabaseConfig{
		Driver:   "sqlite",
		Database: filepath.Join(t.TempDir(), "storyhub.db"),
		MaxIdle:  1,
	})
	require.NoError(t, err)
	require.NoError(t, orm.AutoMigrate(model.AllModels()...))
	t.Cleanup(func() {
		if sqlDB, err := orm.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return orm
}

// recordingSink 记录发布的事件
type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *recordingSink) Publish(_ context.Context, e events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	orm       *gorm.DB
	counters  *CounterAggregator
	friends   *FriendService
	reactions *ReactionService
	sink      *recordingSink
}

func newFixture(t *testing.T, strategy string) *fixture {
	t.Helper()
	orm := newTestDB(t)
	counters := NewCounterAggregator(repository.NewCounterRepository(orm), config.ConsistencyConfig{
		CounterStrategy:      strategy,
		MaxAttempts:          3,
		ReconcileConcurrency: 4,
	})
	sink := &recordingSink{}
	return &fixture{
		orm:       orm,
		counters:  counters,
		friends:   NewFriendService(repository.NewFriendshipRepository(orm), repository.NewUserRepository(orm), counters, sink, 3),
		reactions: NewReactionService(repository.NewReactionRepository(orm), counters, nil, sink, 3),
		sink:      sink,
	}
}

func (f *fixture) users(t *testing.T, n int) []uint {
	t.Helper()
	var existing int64
	require.NoError(t, f.orm.Model(&model.User{}).Count(&existing).Error)
	users := make([]model.User, n)
	for i := range users {
		name := fmt.Sprintf("user%d", int(existing)+i+1)
		users[i] = model.User{Username: name, Email: name + "@example.com", Nickname: name, PasswordHash: "x"}
	}
	require.NoError(t, f.orm.Create(&users).Error)
	ids := make([]uint, n)
	for i := range users {
		ids[i] = users[i].ID
	}
	return ids
}

func (f *fixture) story(t *testing.T, author uint) model.TargetRef {
	t.Helper()
	s := model.Story{AuthorID: author, Title: "story"}
	require.NoError(t, f.orm.Create(&s).Error)
	return model.StoryID(s.ID).Target()
}

func (f *fixture) friendCount(t *testing.T, id uint) int64 {
	t.Helper()
	var u model.User
	require.NoError(t, f.orm.Select("friend_count").First(&u, id).Error)
	return u.FriendCount
}

func (f *fixture) storedCounts(t *testing.T, target model.TargetRef) model.ReactionCounts {
	t.Helper()
	m, ok := model.NewReactable(target.Kind)
	require.True(t, ok)
	require.NoError(t, f.orm.Unscoped().Where("id = ?", target.ID).First(m).Error)
	return m.Counts()
}

func (f *fixture) reactionCount(t *testing.T, target model.TargetRef) model.ReactionCounts {
	t.Helper()
	var counts model.ReactionCounts
	for _, e := range []model.Emoji{model.EmojiLike, model.EmojiDislike} {
		var n int64
		require.NoError(t, f.orm.Model(&model.Reaction{}).
			Where("target_kind = ? AND target_id = ? AND emoji = ?", target.Kind, target.ID, e).
			Count(&n).Error)
		if e == model.EmojiLike {
			counts.Like = n
		} else {
			counts.Dislike = n
		}
	}
	return counts
}

// staleFriendships 每次写入都返回 ErrStale，模拟持续的并发冲突
type staleFriendships struct {
	*repository.FriendshipRepository
	mu       sync.Mutex
	attempts int
}

func (s *staleFriendships) Atomic(ctx context.Context, fn func(repository.FriendshipTx) error) error {
	return s.FriendshipRepository.Atomic(ctx, func(tx repository.FriendshipTx) error {
		s.mu.Lock()
		s.attempts++
		s.mu.Unlock()
		return fn(staleFriendshipTx{tx})
	})
}

type staleFriendshipTx struct{ repository.FriendshipTx }

func (staleFriendshipTx) Insert(*model.Friendship) error           { return repository.ErrStale }
func (staleFriendshipTx) CompareAndSwap(*model.Friendship) error   { return repository.ErrStale }
func (staleFriendshipTx) CompareAndDelete(*model.Friendship) error { return repository.ErrStale }

type staleReactions struct {
	*repository.ReactionRepository
	attempts int
}

func (s *staleReactions) Atomic(ctx context.Context, fn func(repository.ReactionTx) error) error {
	return s.ReactionRepository.Atomic(ctx, func(tx repository.ReactionTx) error {
		s.attempts++
		return fn(staleReactionTx{tx})
	})
}

type staleReactionTx struct{ repository.ReactionTx }

func (staleReactionTx) Insert(*model.Reaction) error           { return repository.ErrStale }
func (staleReactionTx) CompareAndSwap(*model.Reaction) error   { return repository.ErrStale }
func (staleReactionTx) CompareAndDelete(*model.Reaction) error { return repository.ErrStale }

// memoryCache 内存版计数缓存，与 Redis 实现相同的代数语义
type memoryCache struct {
	mu      sync.Mutex
	entries map[string]model.ReactionCounts
	gens    map[string]int64
}

func newMemoryCache() *memoryCache {
	return &memoryCache{
		entries: make(map[string]model.ReactionCounts),
		gens:    make(map[string]int64),
	}
}

func (c *memoryCache) key(kind string, id uint) string { return fmt.Sprintf("%s:%d", kind, id) }

func (c *memoryCache) Get(_ context.Context, kind string, id uint) (int64, int64, int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := c.key(kind, id)
	v, ok := c.entries[k]
	return v.Like, v.Dislike, c.gens[k], ok, nil
}

func (c *memoryCache) SetIfFresh(_ context.Context, kind string, id uint, gen, like, dislike int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := c.key(kind, id)
	if c.gens[k] != gen {
		return false, nil
	}
	c.entries[k] = model.ReactionCounts{Like: like, Dislike: dislike}
	return true, nil
}

func (c *memoryCache) Invalidate(_ context.Context, kind string, id uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := c.key(kind, id)
	c.gens[k]++
	delete(c.entries, k)
	return nil
}

// put 直接写入缓存，不检查代数
func (c *memoryCache) put(target model.TargetRef, counts model.ReactionCounts) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.key(string(target.Kind), target.ID)] = counts
}

func (c *memoryCache) has(target model.TargetRef) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[c.key(string(target.Kind), target.ID)]
	return ok
}
