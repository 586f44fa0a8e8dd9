package service

import (
	"context"
	"errors"
	"time"

	"storyhub/internal/model"
	"storyhub/internal/repository"
	"storyhub/pkg/events"
	"storyhub/pkg/logger"
	"storyhub/pkg/metrics"
	"storyhub/pkg/redis"

	"go.uber.org/zap"
)

type friendshipStore interface {
	Atomic(ctx context.Context, fn func(repository.FriendshipTx) error) error
	ListForUser(ctx context.Context, userID uint, kind repository.FriendListKind) ([]model.Friendship, error)
	ListBetween(ctx context.Context, viewer uint, candidates []uint) ([]model.Friendship, error)
	Get(ctx context.Context, a, b uint) (*model.Friendship, error)
}

type userPager interface {
	FindPage(ctx context.Context, q repository.UserQuery) ([]model.User, int64, error)
}

// FriendService 好友关系的对外操作
type FriendService struct {
	friendships friendshipStore
	users       userPager
	counters    *CounterAggregator
	sink        events.Sink
	maxAttempts int
	now         func() time.Time
}

func NewFriendService(friendships friendshipStore, users userPager, counters *CounterAggregator, sink events.Sink, maxAttempts int) *FriendService {
	if sink == nil {
		sink = events.Nop{}
	}
	return &FriendService{
		friendships: friendships,
		users:       users,
		counters:    counters,
		sink:        sink,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// SendFriendRequest actor 向 target 发送好友申请
func (s *FriendService) SendFriendRequest(ctx context.Context, actor, target uint) (*model.Friendship, error) {
	return s.transition(ctx, actor, target, ActionSend)
}

// RespondToFriendRequest 接收方处理 requester 发来的申请，decision 为 accepted 或 declined
func (s *FriendService) RespondToFriendRequest(ctx context.Context, actor, requester uint, decision model.FriendStatus) (*model.Friendship, error) {
	switch decision {
	case model.FriendAccepted:
		return s.transition(ctx, actor, requester, ActionAccept)
	case model.FriendDeclined:
		return s.transition(ctx, actor, requester, ActionDecline)
	}
	return nil, validationf("decision must be accepted or declined")
}

// CancelFriendRequest 申请方撤回发给 target 的申请
func (s *FriendService) CancelFriendRequest(ctx context.Context, actor, target uint) error {
	_, err := s.transition(ctx, actor, target, ActionCancel)
	return err
}

// RemoveFriend 任意一方解除好友关系
func (s *FriendService) RemoveFriend(ctx context.Context, actor, target uint) error {
	_, err := s.transition(ctx, actor, target, ActionRemove)
	return err
}

var transitionEvents = map[FriendAction]string{
	ActionSend:    events.FriendRequested,
	ActionAccept:  events.FriendAccepted,
	ActionDecline: events.FriendDeclined,
	ActionCancel:  events.FriendCancelled,
	ActionRemove:  events.FriendRemoved,
}

func (s *FriendService) transition(ctx context.Context, actor, other uint, action FriendAction) (*model.Friendship, error) {
	if actor == 0 || other == 0 {
		return nil, validationf("user id is required")
	}
	if actor == other {
		return nil, validationf("cannot befriend yourself")
	}

	op := "friend." + string(action)
	var decision FriendshipDecision
	err := withRetry(ctx, op, s.maxAttempts, func() error {
		return s.friendships.Atomic(ctx, func(tx repository.FriendshipTx) error {
			if err := s.counters.GuardFriendship(tx, actor, other); err != nil {
				return err
			}
			if action == ActionSend {
				ok, err := tx.UserExists(other)
				if err != nil {
					return err
				}
				if !ok {
					return notFoundf("user %d not found", other)
				}
			}

			current, err := tx.FindByPair(actor, other)
			if err != nil {
				return err
			}
			d, err := DecideFriendship(current, actor, other, action, s.now())
			if err != nil {
				return err
			}

			switch d.Op {
			case OpCreate:
				err = tx.Insert(d.Next)
			case OpUpdate:
				err = tx.CompareAndSwap(d.Next)
			case OpDelete:
				err = tx.CompareAndDelete(d.Next)
			}
			if err != nil {
				return err
			}

			if err := s.counters.ApplyFriendship(tx, actor, other, d.FriendDelta); err != nil {
				return err
			}
			decision = d
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.Transitions.WithLabelValues(op).Inc()
	logger.Info("好友关系变更",
		zap.String("action", string(action)),
		zap.Uint("actor", actor),
		zap.Uint("other", other),
		zap.Uint("friendship_id", decision.Next.ID),
	)
	s.publish(ctx, events.Event{
		Type:       transitionEvents[action],
		ActorID:    actor,
		Recipients: []uint{other},
		Data:       friendshipPayload(decision.Next, action),
		At:         s.now(),
	})

	if decision.Op == OpDelete {
		return nil, nil
	}
	return decision.Next, nil
}

func friendshipPayload(f *model.Friendship, action FriendAction) map[string]interface{} {
	status := string(f.Status)
	if action == ActionCancel || action == ActionRemove {
		status = "none"
	}
	return map[string]interface{}{
		"friendship_id": f.ID,
		"from":          f.FromID,
		"to":            f.ToID,
		"status":        status,
	}
}

// publish 事务提交后发布事件，失败只记录日志
func (s *FriendService) publish(ctx context.Context, e events.Event) {
	if err := s.sink.Publish(ctx, e); err != nil {
		logger.Warn("发布事件失败", zap.String("type", e.Type), zap.Error(err))
	}
}

// Relation 查询 viewer 与 other 之间的关系状态
func (s *FriendService) Relation(ctx context.Context, viewer, other uint) (FriendshipView, error) {
	if viewer == 0 || other == 0 {
		return FriendshipView{}, validationf("user id is required")
	}
	var rels []model.Friendship
	f, err := s.friendships.Get(ctx, viewer, other)
	switch {
	case err == nil:
		rels = append(rels, *f)
	case !errors.Is(err, repository.ErrNotFound):
		return FriendshipView{}, err
	}
	return ProjectFriendships(viewer, rels, []uint{other})[0], nil
}

// FriendFilter 好友列表筛选条件
type FriendFilter struct {
	Kind repository.FriendListKind
	Name string
}

// Page 分页参数
type Page struct {
	Page  int
	Limit int
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

func (p Page) normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	return p
}

func totalPages(count int64, limit int) int {
	return int((count + int64(limit) - 1) / int64(limit))
}

// FriendEntry 列表中的一个用户及其与查看者的关系
type FriendEntry struct {
	User     model.User
	Relation FriendshipView
	Online   bool
}

// FriendPage 分页结果
type FriendPage struct {
	Entries    []FriendEntry
	TotalPages int
	Count      int64
}

// ListFriends 列出 actor 的好友、收到的申请或发出的申请
func (s *FriendService) ListFriends(ctx context.Context, actor uint, filter FriendFilter, page Page) (*FriendPage, error) {
	if actor == 0 {
		return nil, validationf("user id is required")
	}
	if filter.Kind == "" {
		filter.Kind = repository.ListAccepted
	}
	switch filter.Kind {
	case repository.ListAccepted, repository.ListIncoming, repository.ListOutgoing:
	default:
		return nil, validationf("unknown list %q", filter.Kind)
	}
	page = page.normalize()

	rels, err := s.friendships.ListForUser(ctx, actor, filter.Kind)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(rels))
	for i := range rels {
		ids = append(ids, rels[i].Other(actor))
	}

	users, count, err := s.users.FindPage(ctx, repository.UserQuery{
		IDs:   ids,
		Name:  filter.Name,
		Page:  page.Page,
		Limit: page.Limit,
	})
	if err != nil {
		return nil, err
	}
	return s.assemble(ctx, actor, rels, users, count, page), nil
}

// SearchUsers 搜索用户并标注每个用户与 actor 的关系
func (s *FriendService) SearchUsers(ctx context.Context, actor uint, name string, page Page) (*FriendPage, error) {
	page = page.normalize()
	users, count, err := s.users.FindPage(ctx, repository.UserQuery{
		Exclude: actor,
		Name:    name,
		Page:    page.Page,
		Limit:   page.Limit,
	})
	if err != nil {
		return nil, err
	}
	candidates := make([]uint, len(users))
	for i := range users {
		candidates[i] = users[i].ID
	}
	rels, err := s.friendships.ListBetween(ctx, actor, candidates)
	if err != nil {
		return nil, err
	}
	return s.assemble(ctx, actor, rels, users, count, page), nil
}

func (s *FriendService) assemble(ctx context.Context, actor uint, rels []model.Friendship, users []model.User, count int64, page Page) *FriendPage {
	candidates := make([]uint, len(users))
	for i := range users {
		candidates[i] = users[i].ID
	}
	views := ProjectFriendships(actor, rels, candidates)

	online, err := redis.OnlineAmong(ctx, candidates)
	if err != nil && !errors.Is(err, redis.ErrNotInitialized) {
		logger.Warn("查询在线状态失败", zap.Error(err))
	}

	entries := make([]FriendEntry, len(users))
	for i := range users {
		entries[i] = FriendEntry{User: users[i], Relation: views[i], Online: online[users[i].ID]}
	}
	return &FriendPage{
		Entries:    entries,
		TotalPages: totalPages(count, page.Limit),
		Count:      count,
	}
}
