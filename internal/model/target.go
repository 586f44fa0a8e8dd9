package model

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// TargetKind 可互动内容的类型（封闭枚举）
type TargetKind string

const (
	TargetStory   TargetKind = "story"
	TargetComment TargetKind = "comment"
	TargetPost    TargetKind = "post"
)

// TargetKinds 全部内容类型
var TargetKinds = []TargetKind{TargetStory, TargetComment, TargetPost}

func (k TargetKind) Valid() bool {
	switch k {
	case TargetStory, TargetComment, TargetPost:
		return true
	}
	return false
}

// ParseTargetKind 解析路由/请求中的类型字符串
func ParseTargetKind(s string) (TargetKind, bool) {
	k := TargetKind(s)
	return k, k.Valid()
}

// TargetRef 互动目标引用
type TargetRef struct {
	Kind TargetKind `json:"target_type"`
	ID   uint       `json:"target_id"`
}

func (t TargetRef) Valid() bool { return t.Kind.Valid() && t.ID != 0 }

func (t TargetRef) String() string { return fmt.Sprintf("%s:%d", t.Kind, t.ID) }

// 强类型的目标ID
type (
	StoryID   uint
	CommentID uint
	PostID    uint
)

func (id StoryID) Target() TargetRef   { return TargetRef{Kind: TargetStory, ID: uint(id)} }
func (id CommentID) Target() TargetRef { return TargetRef{Kind: TargetComment, ID: uint(id)} }
func (id PostID) Target() TargetRef    { return TargetRef{Kind: TargetPost, ID: uint(id)} }

// NewTargetRef 经强类型ID构造目标引用，类型未知时 ok=false
func NewTargetRef(kind TargetKind, id uint) (TargetRef, bool) {
	switch kind {
	case TargetStory:
		return StoryID(id).Target(), true
	case TargetComment:
		return CommentID(id).Target(), true
	case TargetPost:
		return PostID(id).Target(), true
	}
	return TargetRef{}, false
}

// ParseTargetRef 解析路由/请求中的类型字符串与ID
func ParseTargetRef(kind string, id uint) (TargetRef, bool) {
	return NewTargetRef(TargetKind(kind), id)
}

// Reactable 带冗余互动计数的内容记录
type Reactable interface {
	TableName() string
	Counts() ReactionCounts
	Deleted() bool
}

// NewReactable 按类型返回对应内容模型的空值，用于计数查询与加锁
func NewReactable(kind TargetKind) (Reactable, bool) {
	switch kind {
	case TargetStory:
		return &Story{}, true
	case TargetComment:
		return &Comment{}, true
	case TargetPost:
		return &Post{}, true
	}
	return nil, false
}

// Story 故事
type Story struct {
	ID           uint           `gorm:"primaryKey"`
	AuthorID     uint           `gorm:"not null;index;comment:作者ID"`
	Title        string         `gorm:"type:varchar(255);not null;comment:标题"`
	Description  string         `gorm:"type:text;comment:简介"`
	LikeCount    int64          `gorm:"not null;default:0;comment:点赞数"`
	DislikeCount int64          `gorm:"not null;default:0;comment:点踩数"`
	CreatedAt    time.Time      `gorm:"comment:创建时间"`
	UpdatedAt    time.Time      `gorm:"comment:更新时间"`
	DeletedAt    gorm.DeletedAt `gorm:"index"`
}

func (Story) TableName() string { return "story" }

func (s *Story) Counts() ReactionCounts {
	return ReactionCounts{Like: s.LikeCount, Dislike: s.DislikeCount}
}

func (s *Story) Deleted() bool { return s.DeletedAt.Valid }

// Comment 评论，挂在故事下
type Comment struct {
	ID           uint           `gorm:"primaryKey"`
	StoryID      uint           `gorm:"not null;index;comment:故事ID"`
	AuthorID     uint           `gorm:"not null;index;comment:作者ID"`
	Content      string         `gorm:"type:text;not null;comment:评论内容"`
	LikeCount    int64          `gorm:"not null;default:0;comment:点赞数"`
	DislikeCount int64          `gorm:"not null;default:0;comment:点踩数"`
	CreatedAt    time.Time      `gorm:"comment:创建时间"`
	UpdatedAt    time.Time      `gorm:"comment:更新时间"`
	DeletedAt    gorm.DeletedAt `gorm:"index"`
}

func (Comment) TableName() string { return "comment" }

func (c *Comment) Counts() ReactionCounts {
	return ReactionCounts{Like: c.LikeCount, Dislike: c.DislikeCount}
}

func (c *Comment) Deleted() bool { return c.DeletedAt.Valid }

// Post 动态
type Post struct {
	ID           uint           `gorm:"primaryKey"`
	AuthorID     uint           `gorm:"not null;index;comment:作者ID"`
	Content      string         `gorm:"type:text;not null;comment:内容"`
	LikeCount    int64          `gorm:"not null;default:0;comment:点赞数"`
	DislikeCount int64          `gorm:"not null;default:0;comment:点踩数"`
	CreatedAt    time.Time      `gorm:"comment:创建时间"`
	UpdatedAt    time.Time      `gorm:"comment:更新时间"`
	DeletedAt    gorm.DeletedAt `gorm:"index"`
}

func (Post) TableName() string { return "post" }

func (p *Post) Counts() ReactionCounts {
	return ReactionCounts{Like: p.LikeCount, Dislike: p.DislikeCount}
}

func (p *Post) Deleted() bool { return p.DeletedAt.Valid }

// AllModels 需要自动迁移的模型
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Friendship{},
		&Reaction{},
		&Story{},
		&Comment{},
		&Post{},
	}
}
