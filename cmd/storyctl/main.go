package main

import (
	"fmt"
	"os"

	"storyhub/config"
	"storyhub/internal/model"
	dbPkg "storyhub/pkg/db"
	"storyhub/pkg/logger"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "storyctl",
	Short: "StoryHub 运维命令行：造数据、修复冗余计数",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.LoadConfig()
		logger.InitLogger(cfg.Log)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
		_ = dbPkg.CloseDB()
	},
	SilenceUsage: true,
}

// openDB 连接数据库并迁移表结构
func openDB() (*gorm.DB, error) {
	orm, err := dbPkg.InitDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := dbPkg.AutoMigrate(model.AllModels()...); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return orm, nil
}

func main() {
	rootCmd.AddCommand(seedCmd, reconcileCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
