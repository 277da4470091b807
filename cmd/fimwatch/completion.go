package fimwatch

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/varalys/fimwatch/internal/hasher"
	"github.com/varalys/fimwatch/internal/types"
)

func init() {
	cmd := &cobra.Command{
		Use:       "completion [bash|zsh|fish|powershell]",
		Short:     "Generate shell completion scripts",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return rootCmd.GenBashCompletionV2(out, true)
			case "zsh":
				return rootCmd.GenZshCompletion(out)
			case "fish":
				return rootCmd.GenFishCompletion(out, true)
			case "powershell":
				return rootCmd.GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
		Example: `  fimwatch completion bash > /etc/bash_completion.d/fimwatch
  fimwatch completion zsh > "${fpath[1]}/_fimwatch"`,
	}
	rootCmd.AddCommand(cmd)
}

// completeSnapshotIDs offers the ids of stored baselines, newest first.
func completeSnapshotIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	s, err := loadSettings(cmd)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	sums, err := s.store(hasher.New()).List()
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	var ids []string
	for i := len(sums) - 1; i >= 0; i-- {
		if strings.HasPrefix(sums[i].ID, toComplete) {
			ids = append(ids, fmt.Sprintf("%s\t%d files", sums[i].ID, sums[i].EntryCount))
		}
	}
	return ids, cobra.ShellCompDirectiveNoFileComp
}

func completeSeverities(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return []string{string(types.SevLow), string(types.SevMed), string(types.SevHigh)}, cobra.ShellCompDirectiveNoFileComp
}

func completeFindingKinds(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	kinds := make([]string, len(types.FindingKinds))
	for i, k := range types.FindingKinds {
		kinds[i] = string(k)
	}
	return kinds, cobra.ShellCompDirectiveNoFileComp
}
