package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"storyhub/internal/model"
	"storyhub/internal/repository"
	"storyhub/pkg/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFriendRequestLifecycle(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy, func(t *testing.T) {
			f := newFixture(t, strategy)
			ids := f.users(t, 2)
			a, b := ids[0], ids[1]
			ctx := context.Background()

			// A -> B，B 拒绝
			fr, err := f.friends.SendFriendRequest(ctx, a, b)
			require.NoError(t, err)
			assert.Equal(t, model.FriendPending, fr.Status)
			assert.Equal(t, uint64(1), fr.Version)

			fr, err = f.friends.RespondToFriendRequest(ctx, b, a, model.FriendDeclined)
			require.NoError(t, err)
			assert.Equal(t, model.FriendDeclined, fr.Status)
			assert.NotNil(t, fr.RespondedAt)

			// B -> A 覆盖被拒绝的记录，角色互换
			fr, err = f.friends.SendFriendRequest(ctx, b, a)
			require.NoError(t, err)
			assert.Equal(t, model.FriendPending, fr.Status)
			assert.Equal(t, b, fr.FromID)
			assert.Equal(t, a, fr.ToID)
			assert.Nil(t, fr.RespondedAt)

			// 原申请方无法再处理
			_, err = f.friends.RespondToFriendRequest(ctx, b, a, model.FriendAccepted)
			assert.ErrorIs(t, err, ErrForbidden)

			fr, err = f.friends.RespondToFriendRequest(ctx, a, b, model.FriendAccepted)
			require.NoError(t, err)
			assert.Equal(t, model.FriendAccepted, fr.Status)
			assert.Equal(t, int64(1), f.friendCount(t, a))
			assert.Equal(t, int64(1), f.friendCount(t, b))

			var n int64
			require.NoError(t, f.orm.Model(&model.Friendship{}).Count(&n).Error)
			assert.Equal(t, int64(1), n)

			_, err = f.friends.SendFriendRequest(ctx, a, b)
			assert.ErrorIs(t, err, ErrConflict)

			// 任一方解除好友
			require.NoError(t, f.friends.RemoveFriend(ctx, a, b))
			assert.Equal(t, int64(0), f.friendCount(t, a))
			assert.Equal(t, int64(0), f.friendCount(t, b))
			require.NoError(t, f.orm.Model(&model.Friendship{}).Count(&n).Error)
			assert.Zero(t, n)

			err = f.friends.RemoveFriend(ctx, b, a)
			assert.ErrorIs(t, err, ErrNotFound)

			assert.Equal(t, []string{
				events.FriendRequested,
				events.FriendDeclined,
				events.FriendRequested,
				events.FriendAccepted,
				events.FriendRemoved,
			}, f.sink.types())
			last := f.sink.events[len(f.sink.events)-1]
			assert.Equal(t, a, last.ActorID)
			assert.Equal(t, []uint{b}, last.Recipients)
		})
	}
}

func TestCancelFriendRequest(t *testing.T) {
	f := newFixture(t, strategies[0])
	ids := f.users(t, 2)
	a, b := ids[0], ids[1]
	ctx := context.Background()

	_, err := f.friends.SendFriendRequest(ctx, a, b)
	require.NoError(t, err)

	err = f.friends.CancelFriendRequest(ctx, b, a)
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, f.friends.CancelFriendRequest(ctx, a, b))
	err = f.friends.CancelFriendRequest(ctx, a, b)
	assert.ErrorIs(t, err, ErrNotFound)

	// 撤回后可以重新发送
	_, err = f.friends.SendFriendRequest(ctx, b, a)
	require.NoError(t, err)
	assert.Zero(t, f.friendCount(t, a))
}

func TestFriendRequestValidation(t *testing.T) {
	f := newFixture(t, strategies[0])
	ids := f.users(t, 1)
	ctx := context.Background()

	_, err := f.friends.SendFriendRequest(ctx, ids[0], ids[0])
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.friends.SendFriendRequest(ctx, ids[0], 0)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.friends.SendFriendRequest(ctx, ids[0], ids[0]+100)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.friends.RespondToFriendRequest(ctx, ids[0], ids[0]+100, "blocked")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.friends.RespondToFriendRequest(ctx, ids[0], ids[0]+100, model.FriendAccepted)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Empty(t, f.sink.types())
}

func TestFriendTransitionRetriesExhausted(t *testing.T) {
	f := newFixture(t, strategies[0])
	ids := f.users(t, 2)
	stale := &staleFriendships{FriendshipRepository: repository.NewFriendshipRepository(f.orm)}
	svc := NewFriendService(stale, repository.NewUserRepository(f.orm), f.counters, f.sink, 3)

	_, err := svc.SendFriendRequest(context.Background(), ids[0], ids[1])
	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, err, repository.ErrStale)
	assert.Equal(t, 3, stale.attempts)

	var n int64
	require.NoError(t, f.orm.Model(&model.Friendship{}).Count(&n).Error)
	assert.Zero(t, n)
	assert.Empty(t, f.sink.types())
}

func TestConcurrentMutualRequests(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy, func(t *testing.T) {
			f := newFixture(t, strategy)
			ids := f.users(t, 2)
			a, b := ids[0], ids[1]

			var wg sync.WaitGroup
			errs := make([]error, 2)
			for i, pair := range [][2]uint{{a, b}, {b, a}} {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, errs[i] = f.friends.SendFriendRequest(context.Background(), pair[0], pair[1])
				}()
			}
			wg.Wait()

			succeeded := 0
			for _, err := range errs {
				if err == nil {
					succeeded++
					continue
				}
				assert.ErrorIs(t, err, ErrConflict)
			}
			assert.Equal(t, 1, succeeded)

			var n int64
			require.NoError(t, f.orm.Model(&model.Friendship{}).Count(&n).Error)
			assert.Equal(t, int64(1), n)
		})
	}
}

func TestConcurrentAcceptCountsOnce(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy, func(t *testing.T) {
			f := newFixture(t, strategy)
			ids := f.users(t, 2)
			a, b := ids[0], ids[1]
			ctx := context.Background()

			_, err := f.friends.SendFriendRequest(ctx, a, b)
			require.NoError(t, err)

			const workers = 8
			var wg sync.WaitGroup
			var mu sync.Mutex
			succeeded := 0
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := f.friends.RespondToFriendRequest(ctx, b, a, model.FriendAccepted)
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						succeeded++
					case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict):
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, succeeded)
			assert.Equal(t, int64(1), f.friendCount(t, a))
			assert.Equal(t, int64(1), f.friendCount(t, b))
		})
	}
}

func TestListFriendsAndSearch(t *testing.T) {
	f := newFixture(t, strategies[0])
	ids := f.users(t, 5)
	me, friend, requester, requested, stranger := ids[0], ids[1], ids[2], ids[3], ids[4]
	ctx := context.Background()

	_, err := f.friends.SendFriendRequest(ctx, me, friend)
	require.NoError(t, err)
	_, err = f.friends.RespondToFriendRequest(ctx, friend, me, model.FriendAccepted)
	require.NoError(t, err)
	_, err = f.friends.SendFriendRequest(ctx, requester, me)
	require.NoError(t, err)
	_, err = f.friends.SendFriendRequest(ctx, me, requested)
	require.NoError(t, err)

	page, err := f.friends.ListFriends(ctx, me, FriendFilter{}, Page{})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, friend, page.Entries[0].User.ID)
	assert.Equal(t, RelationFriends, page.Entries[0].Relation.Status)
	assert.Equal(t, 1, page.TotalPages)
	assert.False(t, page.Entries[0].Online)

	page, err = f.friends.ListFriends(ctx, me, FriendFilter{Kind: repository.ListIncoming}, Page{})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, requester, page.Entries[0].User.ID)
	assert.Equal(t, RelationIncoming, page.Entries[0].Relation.Status)

	page, err = f.friends.ListFriends(ctx, me, FriendFilter{Kind: repository.ListOutgoing}, Page{})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, requested, page.Entries[0].User.ID)
	assert.Equal(t, RelationOutgoing, page.Entries[0].Relation.Status)

	page, err = f.friends.ListFriends(ctx, stranger, FriendFilter{}, Page{})
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
	assert.Zero(t, page.Count)

	_, err = f.friends.ListFriends(ctx, me, FriendFilter{Kind: "blocked"}, Page{})
	assert.ErrorIs(t, err, ErrValidation)

	page, err = f.friends.SearchUsers(ctx, me, "user", Page{Page: 1, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Count)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Entries, 3)
	assert.Equal(t, RelationFriends, page.Entries[0].Relation.Status)
	assert.Equal(t, RelationIncoming, page.Entries[1].Relation.Status)
	assert.Equal(t, RelationOutgoing, page.Entries[2].Relation.Status)

	page, err = f.friends.SearchUsers(ctx, me, "user", Page{Page: 2, Limit: 3})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, stranger, page.Entries[0].User.ID)
	assert.Equal(t, RelationNone, page.Entries[0].Relation.Status)
}

func TestRelation(t *testing.T) {
	f := newFixture(t, strategies[0])
	ids := f.users(t, 2)
	a, b := ids[0], ids[1]
	ctx := context.Background()

	view, err := f.friends.Relation(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, RelationNone, view.Status)

	_, err = f.friends.SendFriendRequest(ctx, a, b)
	require.NoError(t, err)
	_, err = f.friends.RespondToFriendRequest(ctx, b, a, model.FriendDeclined)
	require.NoError(t, err)

	view, err = f.friends.Relation(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, FriendshipView{UserID: b, Status: RelationDeclined, DeclinedBy: b}, view)

	_, err = f.friends.Relation(ctx, 0, b)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestPageNormalize(t *testing.T) {
	assert.Equal(t, Page{Page: 1, Limit: defaultPageLimit}, Page{}.normalize())
	assert.Equal(t, Page{Page: 3, Limit: maxPageLimit}, Page{Page: 3, Limit: 1000}.normalize())
	assert.Equal(t, 0, totalPages(0, 20))
	assert.Equal(t, 1, totalPages(20, 20))
	assert.Equal(t, 2, totalPages(21, 20))
}
