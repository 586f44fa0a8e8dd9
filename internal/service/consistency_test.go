package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"storyhub/config"
	"storyhub/internal/model"
	"storyhub/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// callLog 记录事务内的存取顺序
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) take() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.calls
	l.calls = nil
	return out
}

type tracedFriendships struct {
	*repository.FriendshipRepository
	log callLog
}

func (s *tracedFriendships) Atomic(ctx context.Context, fn func(repository.FriendshipTx) error) error {
	return s.FriendshipRepository.Atomic(ctx, func(tx repository.FriendshipTx) error {
		return fn(&tracedFriendshipTx{FriendshipTx: tx, log: &s.log})
	})
}

type tracedFriendshipTx struct {
	repository.FriendshipTx
	log *callLog
}

func (t *tracedFriendshipTx) LockUsers(ids ...uint) error {
	t.log.add("LockUsers")
	return t.FriendshipTx.LockUsers(ids...)
}

func (t *tracedFriendshipTx) UserExists(id uint) (bool, error) {
	t.log.add("UserExists")
	return t.FriendshipTx.UserExists(id)
}

func (t *tracedFriendshipTx) FindByPair(a, b uint) (*model.Friendship, error) {
	t.log.add("FindByPair")
	return t.FriendshipTx.FindByPair(a, b)
}

func (t *tracedFriendshipTx) CountFriends(userID uint) (int64, error) {
	t.log.add("CountFriends")
	return t.FriendshipTx.CountFriends(userID)
}

func (t *tracedFriendshipTx) AddFriendCount(delta int64, ids ...uint) error {
	t.log.add("AddFriendCount")
	return t.FriendshipTx.AddFriendCount(delta, ids...)
}

func TestFriendTransitionLocksUsersBeforeReading(t *testing.T) {
	cases := map[string]struct {
		send, accept []string
	}{
		config.CounterStrategyIncremental: {
			send:   []string{"UserExists", "FindByPair"},
			accept: []string{"FindByPair", "AddFriendCount"},
		},
		config.CounterStrategyRecompute: {
			send:   []string{"LockUsers", "UserExists", "FindByPair"},
			accept: []string{"LockUsers", "FindByPair", "CountFriends", "CountFriends"},
		},
	}
	for strategy, want := range cases {
		t.Run(strategy, func(t *testing.T) {
			f := newFixture(t, strategy)
			ids := f.users(t, 2)
			store := &tracedFriendships{FriendshipRepository: repository.NewFriendshipRepository(f.orm)}
			svc := NewFriendService(store, repository.NewUserRepository(f.orm), f.counters, f.sink, 3)
			ctx := context.Background()

			_, err := svc.SendFriendRequest(ctx, ids[0], ids[1])
			require.NoError(t, err)
			assert.Equal(t, want.send, store.log.take())

			_, err = svc.RespondToFriendRequest(ctx, ids[1], ids[0], model.FriendAccepted)
			require.NoError(t, err)
			assert.Equal(t, want.accept, store.log.take())
			assert.Equal(t, int64(1), f.friendCount(t, ids[0]))
			assert.Equal(t, int64(1), f.friendCount(t, ids[1]))

			_, err = svc.SendFriendRequest(ctx, ids[0], ids[1]+100)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

// contendedFriendships 第一次事务读到关系后，同一事务内先由另一次写入推进版本，
// 随后的比较并交换必然落空
type contendedFriendships struct {
	*repository.FriendshipRepository
	mu       sync.Mutex
	attempts int
}

func (s *contendedFriendships) Atomic(ctx context.Context, fn func(repository.FriendshipTx) error) error {
	return s.FriendshipRepository.Atomic(ctx, func(tx repository.FriendshipTx) error {
		s.mu.Lock()
		s.attempts++
		first := s.attempts == 1
		s.mu.Unlock()
		if first {
			tx = contendedFriendshipTx{tx}
		}
		return fn(tx)
	})
}

type contendedFriendshipTx struct{ repository.FriendshipTx }

func (t contendedFriendshipTx) FindByPair(a, b uint) (*model.Friendship, error) {
	current, err := t.FriendshipTx.FindByPair(a, b)
	if err != nil || current == nil {
		return current, err
	}
	rival := *current
	if err := t.FriendshipTx.CompareAndSwap(&rival); err != nil {
		return nil, err
	}
	return current, nil
}

func TestFriendAcceptRetriesAfterVersionBump(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy, func(t *testing.T) {
			f := newFixture(t, strategy)
			ids := f.users(t, 2)
			a, b := ids[0], ids[1]
			ctx := context.Background()

			_, err := f.friends.SendFriendRequest(ctx, a, b)
			require.NoError(t, err)

			store := &contendedFriendships{FriendshipRepository: repository.NewFriendshipRepository(f.orm)}
			svc := NewFriendService(store, repository.NewUserRepository(f.orm), f.counters, f.sink, 3)
			got, err := svc.RespondToFriendRequest(ctx, b, a, model.FriendAccepted)
			require.NoError(t, err)
			assert.Equal(t, 2, store.attempts)
			assert.Equal(t, model.FriendAccepted, got.Status)
			assert.Equal(t, uint64(2), got.Version)

			// 被回滚的竞争写入不留痕迹，好友数只加一次
			assert.Equal(t, int64(1), f.friendCount(t, a))
			assert.Equal(t, int64(1), f.friendCount(t, b))
			res, err := f.counters.ReconcileFriendCount(ctx, a)
			require.NoError(t, err)
			assert.Equal(t, res.Before, res.After)
		})
	}
}

// contendedReactions 第一次事务读到互动后，同一事务内先把它翻转为相反的 emoji
type contendedReactions struct {
	*repository.ReactionRepository
	mu       sync.Mutex
	attempts int
}

func (s *contendedReactions) Atomic(ctx context.Context, fn func(repository.ReactionTx) error) error {
	return s.ReactionRepository.Atomic(ctx, func(tx repository.ReactionTx) error {
		s.mu.Lock()
		s.attempts++
		first := s.attempts == 1
		s.mu.Unlock()
		if first {
			tx = contendedReactionTx{tx}
		}
		return fn(tx)
	})
}

type contendedReactionTx struct{ repository.ReactionTx }

func (t contendedReactionTx) Find(author uint, target model.TargetRef) (*model.Reaction, error) {
	current, err := t.ReactionTx.Find(author, target)
	if err != nil || current == nil {
		return current, err
	}
	rival := *current
	rival.Emoji = model.EmojiDislike
	if current.Emoji == model.EmojiDislike {
		rival.Emoji = model.EmojiLike
	}
	if err := t.ReactionTx.CompareAndSwap(&rival); err != nil {
		return nil, err
	}
	return current, nil
}

func TestToggleReactionRetriesAfterVersionBump(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy, func(t *testing.T) {
			f := newFixture(t, strategy)
			ids := f.users(t, 2)
			target := f.story(t, ids[0])
			ctx := context.Background()

			for _, id := range ids {
				_, err := f.reactions.ToggleReaction(ctx, id, target, model.EmojiLike)
				require.NoError(t, err)
			}

			store := &contendedReactions{ReactionRepository: repository.NewReactionRepository(f.orm)}
			svc := NewReactionService(store, f.counters, nil, f.sink, 3)
			res, err := svc.ToggleReaction(ctx, ids[1], target, model.EmojiDislike)
			require.NoError(t, err)
			assert.Equal(t, 2, store.attempts)
			assert.Equal(t, model.EmojiDislike, res.Emoji)
			assert.Equal(t, model.ReactionCounts{Like: 1, Dislike: 1}, res.Counts)
			assert.Equal(t, res.Counts, f.storedCounts(t, target))
			assert.Equal(t, res.Counts, f.reactionCount(t, target))
		})
	}
}

func TestConcurrentTogglesBySameAuthor(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy, func(t *testing.T) {
			f := newFixture(t, strategy)
			ids := f.users(t, 1)
			target := f.story(t, ids[0])
			ctx := context.Background()

			const workers = 11
			var wg sync.WaitGroup
			var mu sync.Mutex
			succeeded := 0
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := f.reactions.ToggleReaction(ctx, ids[0], target, model.EmojiLike)
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						succeeded++
					case errors.Is(err, ErrConflict):
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()

			// 每次成功的切换都翻转记录是否存在
			want := model.ReactionCounts{Like: int64(succeeded % 2)}
			assert.Equal(t, want, f.reactionCount(t, target))
			assert.Equal(t, want, f.storedCounts(t, target))
		})
	}
}

// racingCounts 读完计数之后、返回之前让一次切换提交
type racingCounts struct {
	*repository.ReactionRepository
	once  sync.Once
	after func()
}

func (r *racingCounts) Counts(ctx context.Context, target model.TargetRef) (model.ReactionCounts, error) {
	counts, err := r.ReactionRepository.Counts(ctx, target)
	r.once.Do(r.after)
	return counts, err
}

func TestGetReactionCountsDropsRefillAfterInvalidate(t *testing.T) {
	f := newFixture(t, strategies[0])
	ids := f.users(t, 1)
	target := f.story(t, ids[0])
	cache := newMemoryCache()
	store := &racingCounts{ReactionRepository: repository.NewReactionRepository(f.orm)}
	svc := NewReactionService(store, f.counters, cache, nil, 3)
	ctx := context.Background()
	store.after = func() {
		_, err := svc.ToggleReaction(ctx, ids[0], target, model.EmojiLike)
		assert.NoError(t, err)
	}

	// 这次读取拿到的是切换前的计数，不能写回缓存
	summary, err := svc.GetReactionCounts(ctx, 0, target)
	require.NoError(t, err)
	assert.Equal(t, model.ReactionCounts{}, summary.Counts)
	assert.False(t, cache.has(target))

	summary, err = svc.GetReactionCounts(ctx, 0, target)
	require.NoError(t, err)
	assert.Equal(t, model.ReactionCounts{Like: 1}, summary.Counts)
	assert.True(t, cache.has(target))

	summary, err = svc.GetReactionCounts(ctx, 0, target)
	require.NoError(t, err)
	assert.Equal(t, model.ReactionCounts{Like: 1}, summary.Counts)
}
