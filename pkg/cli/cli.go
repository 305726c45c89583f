package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gentoomaniac/dedup-backup/pkg/db"
	"github.com/manifoldco/promptui"
)

var ErrNoRuns = errors.New("no runs recorded")

// PromptPath asks for a path on the terminal when it was not given on the command line.
func PromptPath(label string, mustExist bool) (string, error) {
	prompt := promptui.Prompt{
		Label: label,
		Validate: func(input string) error {
			input = strings.TrimSpace(input)
			if input == "" {
				return errors.New("a path is required")
			}
			if !mustExist {
				return nil
			}
			info, err := os.Stat(input)
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", input)
			}
			return nil
		},
	}
	prompt.Stdout = os.Stderr

	path, err := prompt.Run()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(path), nil
}

// PromptRuns lets the user pick one of the recorded runs. Runs are expected newest first.
func PromptRuns(runs []*db.Run) (*db.Run, error) {
	if len(runs) == 0 {
		return nil, ErrNoRuns
	}
	if len(runs) == 1 {
		return runs[0], nil
	}

	runSearchFunc := func(input string, idx int) bool {
		run := runs[idx]

		return strings.Contains(strings.ToLower(run.Source), strings.ToLower(input))
	}

	size := len(runs)
	if size >= 10 {
		size = 10
	}

	selector := promptui.Select{
		Label:             "Select a backup run",
		Items:             runs,
		Searcher:          runSearchFunc,
		StartInSearchMode: true,
		HideSelected:      true,
		Size:              size,
		Templates: &promptui.SelectTemplates{
			Active:   fmt.Sprintf("%s {{ .ID | cyan }} {{ .Source | cyan }}", promptui.IconSelect),
			Inactive: "  {{ .ID }} {{ .Source }}",
			Details: `
{{ "Details:" | bold }}
	{{ "Started:" | bold }}	{{ .Started | cyan }}
	{{ "Destination:" | bold }}	{{ .Destination | cyan }}
	{{ "Mode:" | bold }}	{{ .Mode | cyan }}
	{{ "Status:" | bold }}	{{ .Status | cyan }}
	{{ "Errors:" | bold }}	{{ .Errors | cyan }}
`,
			Selected: "{{ .ID }} {{ .Source }}",
		},
	}

	// keep stdout clean for the report
	selector.Stdout = os.Stderr

	index, _, err := selector.Run()
	if err != nil {
		os.Stdout.Sync()
		return nil, err
	}

	return runs[index], nil
}
