package service

import (
	"storyhub/internal/model"
)

// ReactionOutcome 一次切换的结果
// Op 为 OpCreate/OpUpdate/OpDelete；Record 为写入后的记录，删除时为被删除的记录
type ReactionOutcome struct {
	Op     StoreOp
	Record *model.Reaction
	Delta  model.CounterDelta
}

// Removed 切换后是否不再有互动
func (o ReactionOutcome) Removed() bool { return o.Op == OpDelete }

// ToggleReaction 根据作者对目标的当前互动与请求的 emoji 计算结果，不做任何 I/O
//
//	无记录      -> 新建，对应计数 +1
//	相同 emoji  -> 删除，对应计数 -1
//	相反 emoji  -> 原地翻转，旧计数 -1，新计数 +1
func ToggleReaction(current *model.Reaction, author uint, target model.TargetRef, emoji model.Emoji) (ReactionOutcome, error) {
	if author == 0 {
		return ReactionOutcome{}, validationf("author is required")
	}
	if !target.Valid() {
		return ReactionOutcome{}, validationf("invalid target %s", target)
	}
	if !emoji.Valid() {
		return ReactionOutcome{}, validationf("invalid emoji %q", emoji)
	}
	if current != nil && (current.AuthorID != author || current.Target() != target) {
		return ReactionOutcome{}, validationf("reaction %d does not belong to author %d on %s", current.ID, author, target)
	}

	switch {
	case current == nil:
		return ReactionOutcome{
			Op: OpCreate,
			Record: &model.Reaction{
				AuthorID:   author,
				TargetKind: target.Kind,
				TargetID:   target.ID,
				Emoji:      emoji,
			},
			Delta: emoji.Incr(),
		}, nil
	case current.Emoji == emoji:
		return ReactionOutcome{Op: OpDelete, Record: current, Delta: emoji.Decr()}, nil
	default:
		next := *current
		next.Emoji = emoji
		return ReactionOutcome{
			Op:     OpUpdate,
			Record: &next,
			Delta:  current.Emoji.Decr().Add(emoji.Incr()),
		}, nil
	}
}
