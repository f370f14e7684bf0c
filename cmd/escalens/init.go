package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"escalens/internal/logger"
	"escalens/internal/store"
)

const starterConfig = `# escalens configuration. Every key has an UPPER_SNAKE env override,
# e.g. FILL_MODE=external escalens run.

store: workbook              # workbook | sqlite
workbook_path: ./escalations.xlsx
source_sheet: Escalations
# db_path: ./escalens.db

days_back: 30
confidence_threshold: 60

fill_mode: mock              # mirror | mock | external
# mock_if_no_credential: true
# source_issue_field: Reported Issue      # mirror mode: column to copy issue type from
# source_cause_field: Suspected Cause     # mirror mode: column to copy root cause from
# allowed_issue_types: [Bug, Configuration, How-To, Performance, Feature Request]
# allowed_root_causes: [Product Defect, User Error, Missing Documentation, Integration Failure, Known Limitation]

# llm_provider: anthropic    # anthropic | openai
# llm_model: ""              # provider default when empty
# llm_workers: 4
# llm_example_count: 12
# llm_example_max_chars: 300
# anthropic_api_key: ""      # or ANTHROPIC_API_KEY / .env
# openai_api_key: ""

report_output_dir: ./reports
report_name: escalations
# slack_bot_token: ""
# slack_channel_id: ""

schedule: "0 9 * * 1"        # Mondays 09:00
timezone: Local
`

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Scaffold a starter config.yaml and workbook",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}
		return scaffold(dir)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

// scaffold writes config.yaml and an empty workbook into dir. Existing files
// are never overwritten.
func scaffold(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	log := logger.New()

	configPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", configPath)
	}
	if err := os.WriteFile(configPath, []byte(starterConfig), 0644); err != nil {
		return err
	}
	log.WithField("path", configPath).Info("config scaffolded")

	workbookPath := filepath.Join(dir, "escalations.xlsx")
	if _, err := os.Stat(workbookPath); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", workbookPath)
	}
	if err := store.CreateWorkbook(workbookPath, "Escalations"); err != nil {
		return err
	}
	log.WithField("path", workbookPath).Info("workbook scaffolded")
	return nil
}
