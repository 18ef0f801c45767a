package cmd

import (
	"github.com/spf13/cobra"
)

func newServeTasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve-tasks",
		Short: "Run one crawl worker that reads tasks from stdin",
		Long: `Worker child started by crawl when crawler.isolation is "process". It keeps
one browser for its whole life, reads one JSON task per line on stdin and
answers each with one JSON result line on stdout. It exits when stdin is
closed. Logs go to stderr.`,
		Hidden: true,
		Annotations: map[string]string{
			servicesAnnotation: servicesLite,
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return appInstance.ServeTasks(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
