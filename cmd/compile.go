package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sunbk201/rulesync/internal/engine"
	"github.com/sunbk201/rulesync/internal/model"
	"github.com/sunbk201/rulesync/internal/rule/common"
	"github.com/sunbk201/rulesync/internal/rule/compiler"
	"github.com/sunbk201/rulesync/internal/rule/variable"
)

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile the stored rule model and print the rule table as JSON",
	RunE:  runCompile,
}

var (
	compileURL  string
	compileType string
)

func init() {
	compileCmd.Flags().StringVar(&compileURL, "url", "", "Evaluate the compiled rules against this URL instead of printing them")
	compileCmd.Flags().StringVar(&compileType, "type", string(common.ResourceMainFrame), "Resource type used with --url")
}

func runCompile(cmd *cobra.Command, args []string) error {
	cfg, err := loadToolConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	snapshot, err := model.Load(ctx, st)
	if err != nil {
		return err
	}
	slog.Debug("model.Load", slog.Any("snapshot", snapshot))

	res, err := compiler.Compile(compiler.Input{
		Groups:      snapshot.Groups,
		LegacyRules: snapshot.Rules,
		Variables:   variable.New(snapshot.EnvironmentVariables),
		Enabled:     snapshot.ExtensionEnabled,
		Limits:      limitsFromConfig(cfg),
	})
	if err != nil {
		return err
	}
	for _, d := range res.Diagnostics {
		slog.Warn("Rule skipped", slog.Any("diagnostic", d))
	}

	var out any = res.Rules
	if compileURL != "" {
		eng := engine.NewMemory(limitsFromConfig(cfg))
		if err := eng.UpdateRules(ctx, engine.UpdateOptions{AddRules: res.Rules}); err != nil {
			return fmt.Errorf("install rules: %w", err)
		}
		outcome, err := eng.Evaluate(compileURL, common.ResourceType(compileType))
		if err != nil {
			return err
		}
		out = outcome
	} else if res.Rules == nil {
		out = []common.CompiledRule{}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
