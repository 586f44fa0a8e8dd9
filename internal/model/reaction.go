package model

import "time"

// Emoji 互动类型
type Emoji string

const (
	EmojiLike    Emoji = "like"
	EmojiDislike Emoji = "dislike"
)

func (e Emoji) Valid() bool {
	return e == EmojiLike || e == EmojiDislike
}

// Reaction 用户对内容的点赞/点踩
// 每个 (AuthorID, TargetKind, TargetID) 最多一条；记录不存在即为中立
type Reaction struct {
	ID         uint       `gorm:"primaryKey"`
	AuthorID   uint       `gorm:"not null;uniqueIndex:uk_reaction_author_target,priority:1;comment:作者ID"`
	TargetKind TargetKind `gorm:"type:varchar(16);not null;uniqueIndex:uk_reaction_author_target,priority:2;index:idx_reaction_target,priority:1;comment:目标类型"`
	TargetID   uint       `gorm:"not null;uniqueIndex:uk_reaction_author_target,priority:3;index:idx_reaction_target,priority:2;comment:目标ID"`
	Emoji      Emoji      `gorm:"type:varchar(16);not null;index:idx_reaction_target,priority:3;comment:互动类型"`
	Version    uint64     `gorm:"not null;default:1;comment:版本号"`
	CreatedAt  time.Time  `gorm:"comment:创建时间"`
	UpdatedAt  time.Time  `gorm:"comment:更新时间"`
}

func (Reaction) TableName() string { return "reaction" }

// Target 返回互动目标
func (r *Reaction) Target() TargetRef {
	return TargetRef{Kind: r.TargetKind, ID: r.TargetID}
}

// ReactionCounts 目标上的冗余计数
type ReactionCounts struct {
	Like    int64 `json:"like"`
	Dislike int64 `json:"dislike"`
}

// CounterDelta 一次切换产生的带符号计数增量
type CounterDelta struct {
	Like    int64 `json:"like"`
	Dislike int64 `json:"dislike"`
}

func (d CounterDelta) IsZero() bool { return d.Like == 0 && d.Dislike == 0 }

func (e Emoji) delta(sign int64) CounterDelta {
	if e == EmojiLike {
		return CounterDelta{Like: sign}
	}
	return CounterDelta{Dislike: sign}
}

// Incr 对应互动 +1
func (e Emoji) Incr() CounterDelta { return e.delta(1) }

// Decr 对应互动 -1
func (e Emoji) Decr() CounterDelta { return e.delta(-1) }

// Add 合并两个增量
func (d CounterDelta) Add(o CounterDelta) CounterDelta {
	return CounterDelta{Like: d.Like + o.Like, Dislike: d.Dislike + o.Dislike}
}
