package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mentorcertai/cert-issuer/internal/exam"
)

var passMark int

var scoreCmd = &cobra.Command{
	Use:   "score <questions.json|->",
	Short: "Grade a submitted exam",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readInput(args[0])
		if err != nil {
			return err
		}
		var questions []exam.Question
		if err := json.Unmarshal(raw, &questions); err != nil {
			return fmt.Errorf("failed to parse questions: %w", err)
		}

		summary, err := exam.Grade(exam.NormalizeYesNo(questions))
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), struct {
			exam.Summary
			Passed bool `json:"passed"`
		}{summary, exam.Passed(summary.Score, passMark)})
	},
}

func init() {
	scoreCmd.Flags().IntVar(&passMark, "pass-mark", exam.DefaultPassMark, "minimum passing score")
	rootCmd.AddCommand(scoreCmd)
}
