package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aschepis/backscratcher/llmcore/llm"
	"github.com/aschepis/backscratcher/llmcore/runtime"
	"github.com/spf13/cobra"
)

var (
	runClient     string
	runStream     bool
	runSystem     string
	runRole       string
	runCompletion bool
)

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Send a prompt to a client and print the response",
	Long:  "Send a prompt to a configured client. The prompt is read from stdin when no argument is given.",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runClient, "client", "c", "", "client name (default: default_client from config)")
	runCmd.Flags().BoolVarP(&runStream, "stream", "s", false, "stream the response as it is generated")
	runCmd.Flags().StringVar(&runSystem, "system", "", "system message sent before the prompt")
	runCmd.Flags().StringVar(&runRole, "role", "", "role of the prompt message (default: the client's default_role)")
	runCmd.Flags().BoolVar(&runCompletion, "completion", false, "send the prompt as a completion instead of a chat")
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck // No remedy for close errors on exit

	clientName := runClient
	if clientName == "" {
		clientName = a.cfg.DefaultClient
	}
	if clientName == "" {
		return fmt.Errorf("no client given and no default_client configured")
	}

	text, err := promptText(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	opts := []runtime.Option{runtime.WithLogger(a.logger)}
	if a.store != nil {
		opts = append(opts, runtime.WithRecorder(a.store))
	}
	rt, err := runtime.New(a.cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to create runtime: %w", err)
	}

	prompt, err := buildPrompt(rt, clientName, text)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	if runStream {
		return streamResponse(ctx, rt, clientName, prompt, out, cmd.ErrOrStderr())
	}

	result, err := rt.Call(ctx, clientName, prompt)
	if err != nil {
		return err
	}
	content, err := result.Content()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, content)
	return err
}

func promptText(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt from stdin: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("prompt is empty")
	}
	return text, nil
}

func buildPrompt(rt *runtime.Runtime, clientName, text string) (llm.RenderedPrompt, error) {
	if runCompletion {
		if runSystem != "" {
			text = runSystem + "\n\n" + text
		}
		return llm.CompletionPrompt(text), nil
	}

	role := runRole
	if role == "" {
		opts, err := rt.ChatOptions(clientName)
		if err != nil {
			return llm.RenderedPrompt{}, err
		}
		role = opts.DefaultRole
	}

	var messages []llm.RenderedMessage
	if runSystem != "" {
		messages = append(messages, llm.NewTextMessage(llm.RoleSystem, runSystem))
	}
	messages = append(messages, llm.NewTextMessage(role, text))
	return llm.ChatPrompt(messages...), nil
}

func streamResponse(ctx context.Context, rt *runtime.Runtime, clientName string, prompt llm.RenderedPrompt, out, errOut io.Writer) error {
	stream, err := rt.Stream(ctx, clientName, prompt)
	if err != nil {
		return err
	}
	defer stream.Close() //nolint:errcheck // Close errors are not actionable here

	var (
		printed int
		last    *llm.CompleteResponse
	)
	for stream.Next() {
		last = stream.Current()
		// Partial responses only grow, so print the new suffix.
		if len(last.Content) > printed {
			if _, err := io.WriteString(out, last.Content[printed:]); err != nil {
				return err
			}
			printed = len(last.Content)
		}
	}
	_, _ = fmt.Fprintln(out)

	if err := stream.Err(); err != nil {
		return err
	}
	if truncated(last) {
		fmt.Fprintf(errOut, "Warning: response incomplete (finish reason: %s)\n", last.Metadata.FinishReason)
	}
	return nil
}

// truncated reports whether a cleanly ended stream stopped for a reason other
// than stop. Streams that end without any finish reason count as complete,
// the same as a single-shot call.
func truncated(last *llm.CompleteResponse) bool {
	return last != nil && !llm.IsCompleteFinishReason(last.Metadata.FinishReason)
}
