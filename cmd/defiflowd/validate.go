package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"DefiFlow/internal/config"
	"DefiFlow/internal/flow"
)

// validateFile 读取图文件并输出校验结果。配置文件缺失时使用零容差。
func validateFile(cmd *cobra.Command, configPath, path string) error {
	tolerance := decimal.Zero
	if cfg, err := config.Load(configPath); err == nil {
		tolerance = cfg.AmountTolerance()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("读取工作流图失败: %w", err)
	}
	g, err := flow.DecodeGraph(data)
	if err != nil {
		return fmt.Errorf("解析工作流图失败: %w", err)
	}

	out := json.NewEncoder(cmd.OutOrStdout())
	out.SetIndent("", "  ")
	err = flow.Validate(g, flow.WithAmountTolerance(tolerance))
	var verr *flow.ValidationError
	switch {
	case err == nil:
		return out.Encode(map[string]any{"valid": true, "nodes": len(g.Nodes), "edges": len(g.Edges)})
	case errors.As(err, &verr):
		_ = out.Encode(map[string]any{"valid": false, "rule": verr.Rule, "nodeIds": verr.NodeIDs, "reason": verr.Reason})
		return fmt.Errorf("工作流图未通过校验: %s", verr.Reason)
	default:
		return err
	}
}
