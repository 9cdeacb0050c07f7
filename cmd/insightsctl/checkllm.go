package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/seanankenbruck/ecommerce-insights/internal/app"
	"github.com/seanankenbruck/ecommerce-insights/internal/llm"
)

const samplePrompt = "Reply with the single word OK."

func newCheckLLMCmd() *cobra.Command {
	var skipCompletion bool

	cmd := &cobra.Command{
		Use:   "check-llm",
		Short: "Check that the Ollama server answers and the configured model is installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd)
			client := app.NewOllama(cfg.LLM)
			ctx := cmd.Context()

			pterm.DefaultSection.Println("Ollama")
			pterm.Info.Printf("Server: %s\n", cfg.LLM.BaseURL)
			pterm.Info.Printf("Model: %s\n", client.Model())

			models, err := client.ListModels(ctx)
			if err != nil {
				return fmt.Errorf("server unreachable: %w", err)
			}
			if err := renderModels(models); err != nil {
				return err
			}

			if err := client.Health(ctx); err != nil {
				pterm.Error.Println(err)
				pterm.Info.Printf("Install it with: ollama pull %s\n", client.Model())
				return fmt.Errorf("health check failed")
			}
			pterm.Success.Println("Model is installed")

			if skipCompletion {
				return nil
			}

			spinner, _ := pterm.DefaultSpinner.Start("Requesting a sample completion")
			completion, err := client.Complete(ctx, llm.CompletionRequest{Prompt: samplePrompt, Temperature: 0})
			if err != nil {
				spinner.Fail("Completion failed")
				return err
			}
			spinner.Success(fmt.Sprintf("Completion in %s (%d prompt tokens, %d generated)",
				completion.Duration.Round(time.Millisecond), completion.PromptTokens, completion.GeneratedTokens))
			pterm.Println(strings.TrimSpace(completion.Text))
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipCompletion, "skip-completion", false, "Only check the server and model list")
	return cmd
}

func renderModels(models []llm.Model) error {
	if len(models) == 0 {
		pterm.Warning.Println("No models installed")
		return nil
	}
	data := pterm.TableData{{"Model", "Size (MB)", "Modified"}}
	for _, m := range models {
		data = append(data, []string{
			m.Name,
			fmt.Sprintf("%.0f", float64(m.Size)/(1<<20)),
			m.ModifiedAt.Format("2006-01-02"),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
