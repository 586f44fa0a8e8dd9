package repository

import (
	"context"
	"strings"

	"storyhub/internal/model"

	"gorm.io/gorm"
	"gorm.io/plugin/dbresolver"
)

type UserRepository struct {
	orm *gorm.DB
}

func NewUserRepository(orm *gorm.DB) *UserRepository {
	return &UserRepository{orm: orm}
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	return translate(r.orm.WithContext(ctx).Create(user).Error)
}

func (r *UserRepository) GetByID(ctx context.Context, id uint) (*model.User, error) {
	var u model.User
	if err := r.orm.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// GetByUsernameOrEmail 登录查询，强制走主库（注册后立即登录时副本可能尚未同步）
func (r *UserRepository) GetByUsernameOrEmail(ctx context.Context, identifier string) (*model.User, error) {
	var u model.User
	err := r.orm.WithContext(ctx).
		Clauses(dbresolver.Write).
		Where("username = ? OR email = ?", identifier, identifier).
		First(&u).Error
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// UserQuery 用户分页查询条件
type UserQuery struct {
	IDs     []uint // 非 nil 时限定在这些用户内
	Exclude uint   // 排除的用户（通常是查看者自己）
	Name    string // 用户名/昵称模糊匹配，不区分大小写
	Page    int
	Limit   int
}

// FindPage 分页查询用户，返回当前页与总数
func (r *UserRepository) FindPage(ctx context.Context, q UserQuery) ([]model.User, int64, error) {
	if q.IDs != nil && len(q.IDs) == 0 {
		return nil, 0, nil
	}
	db := r.orm.WithContext(ctx).Model(&model.User{})
	if q.IDs != nil {
		db = db.Where("id IN ?", q.IDs)
	}
	if q.Exclude != 0 {
		db = db.Where("id <> ?", q.Exclude)
	}
	if name := strings.TrimSpace(q.Name); name != "" {
		like := "%" + strings.ToLower(name) + "%"
		db = db.Where("LOWER(username) LIKE ? OR LOWER(nickname) LIKE ?", like, like)
	}
	// 条件共享给 Count 与 Find
	db = db.Session(&gorm.Session{})

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var users []model.User
	err := db.Order("id").
		Offset((q.Page - 1) * q.Limit).
		Limit(q.Limit).
		Find(&users).Error
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}
