package main

import (
	"fmt"

	"storyhub/internal/model"
	"storyhub/internal/repository"
	"storyhub/internal/service"

	"github.com/spf13/cobra"
)

var reconcileConcurrency int

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [story|comment|post|friends ...]",
	Short: "按权威记录重算冗余计数（不带参数时修复全部）",
	Args:  cobra.ArbitraryArgs,
	RunE:  runReconcile,
}

func init() {
	reconcileCmd.Flags().IntVarP(&reconcileConcurrency, "concurrency", "c", 0, "并发度，0 表示使用配置值")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	orm, err := openDB()
	if err != nil {
		return err
	}
	consistency := cfg.Consistency
	if reconcileConcurrency > 0 {
		consistency.ReconcileConcurrency = reconcileConcurrency
	}
	counters := service.NewCounterAggregator(repository.NewCounterRepository(orm), consistency)

	if len(args) == 0 {
		for _, k := range model.TargetKinds {
			args = append(args, string(k))
		}
		args = append(args, "friends")
	}

	ctx := cmd.Context()
	inconsistent := 0
	for _, arg := range args {
		var report service.ReconcileReport
		if arg == "friends" {
			report, err = counters.ReconcileAllFriendCounts(ctx)
		} else {
			kind, ok := model.ParseTargetKind(arg)
			if !ok {
				return fmt.Errorf("unknown kind %q", arg)
			}
			report, err = counters.ReconcileAll(ctx, kind)
		}
		if err != nil {
			return fmt.Errorf("reconcile %s: %w", arg, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%-8s checked=%d repaired=%d inconsistent=%d\n",
			report.Kind, report.Checked, report.Repaired, len(report.Inconsistent))
		for _, t := range report.Inconsistent {
			fmt.Fprintf(cmd.OutOrStdout(), "  ! %s 已删除但仍有互动记录\n", t)
		}
		inconsistent += len(report.Inconsistent)
	}
	if inconsistent > 0 {
		return fmt.Errorf("%d targets need manual repair", inconsistent)
	}
	return nil
}
