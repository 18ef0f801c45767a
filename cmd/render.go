package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/site-ingest/internal/crawler"
	"github.com/JakeFAU/site-ingest/internal/fetcher/process"
)

func newRenderCmd() *cobra.Command {
	var task crawler.Task
	cmd := &cobra.Command{
		Use:    "render",
		Short:  "Render one URL and print its TaskResult as JSON",
		Long:   `Renders a single URL with the crawl's render and cleaner settings. The result is written as a single JSON line on stdout; logs go to stderr.`,
		Hidden: true,
		Annotations: map[string]string{
			servicesAnnotation: servicesLite,
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if task.URL == "" {
				return fmt.Errorf("--url is required")
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			result, err := appInstance.RenderTask(cmd.Context(), task)
			if err != nil {
				return err
			}
			return process.Encode(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&task.URL, "url", "", "URL to render")
	cmd.Flags().IntVar(&task.Depth, "depth", 0, "link depth of the URL")
	cmd.Flags().StringVar(&task.CorrelationID, "task-id", "", "correlation id for log lines")
	return cmd
}
