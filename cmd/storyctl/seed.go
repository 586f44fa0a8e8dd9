package main

import (
	"fmt"

	"storyhub/internal/model"
	"storyhub/pkg/password"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var seedOpts struct {
	users    int
	stories  int
	comments int
	posts    int
	password string
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "生成测试用户与内容（计数从0开始）",
	RunE:  runSeed,
}

func init() {
	f := seedCmd.Flags()
	f.IntVar(&seedOpts.users, "users", 20, "用户数")
	f.IntVar(&seedOpts.stories, "stories", 10, "故事数")
	f.IntVar(&seedOpts.comments, "comments", 30, "评论数")
	f.IntVar(&seedOpts.posts, "posts", 10, "动态数")
	f.StringVar(&seedOpts.password, "password", "storyhub123", "所有用户的登录密码")
}

func runSeed(cmd *cobra.Command, args []string) error {
	if seedOpts.users < 1 {
		return fmt.Errorf("--users must be positive")
	}
	orm, err := openDB()
	if err != nil {
		return err
	}
	hash, err := password.Hash(seedOpts.password)
	if err != nil {
		return err
	}

	err = orm.WithContext(cmd.Context()).Transaction(func(tx *gorm.DB) error {
		users := make([]model.User, seedOpts.users)
		for i := range users {
			users[i] = model.User{
				Username:     fmt.Sprintf("%s_%d", gofakeit.Username(), i),
				Email:        fmt.Sprintf("%d_%s", i, gofakeit.Email()),
				Nickname:     gofakeit.Name(),
				PasswordHash: hash,
			}
		}
		if err := tx.CreateInBatches(users, 100).Error; err != nil {
			return fmt.Errorf("create users: %w", err)
		}
		author := func() uint { return users[gofakeit.Number(0, len(users)-1)].ID }

		stories := make([]model.Story, seedOpts.stories)
		for i := range stories {
			stories[i] = model.Story{
				AuthorID:    author(),
				Title:       gofakeit.Sentence(4),
				Description: gofakeit.Sentence(20),
			}
		}
		if len(stories) > 0 {
			if err := tx.CreateInBatches(stories, 100).Error; err != nil {
				return fmt.Errorf("create stories: %w", err)
			}
		}

		if len(stories) > 0 && seedOpts.comments > 0 {
			comments := make([]model.Comment, seedOpts.comments)
			for i := range comments {
				comments[i] = model.Comment{
					StoryID:  stories[gofakeit.Number(0, len(stories)-1)].ID,
					AuthorID: author(),
					Content:  gofakeit.Sentence(12),
				}
			}
			if err := tx.CreateInBatches(comments, 100).Error; err != nil {
				return fmt.Errorf("create comments: %w", err)
			}
		}

		posts := make([]model.Post, seedOpts.posts)
		for i := range posts {
			posts[i] = model.Post{AuthorID: author(), Content: gofakeit.Sentence(15)}
		}
		if len(posts) > 0 {
			if err := tx.CreateInBatches(posts, 100).Error; err != nil {
				return fmt.Errorf("create posts: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "已生成 用户:%d 故事:%d 评论:%d 动态:%d（密码: %s）\n",
		seedOpts.users, seedOpts.stories, seedOpts.comments, seedOpts.posts, seedOpts.password)
	return nil
}
