package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/itsmostafa/gosandbox/internal/host"
	"github.com/itsmostafa/gosandbox/internal/render"
)

var verboseReplies bool

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Start a console and talk to it interactively",
	Long: `Start a console subprocess and read submissions from the terminal.

Lines accumulate until a blank line, which submits them as one message.
Ctrl-C discards the pending submission, Ctrl-D exits.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loaded.BuildPolicy()
		if err != nil {
			return err
		}

		// The console outlives the first Ctrl-C; only Close ends it.
		client, err := host.Start(context.WithoutCancel(cmd.Context()), host.Options{Args: consoleArgs(cmd)})
		if err != nil {
			return err
		}
		defer client.Close()

		interactive := term.IsTerminal(int(os.Stdin.Fd()))
		out := cmd.OutOrStdout()
		if interactive {
			render.FormatHeader(out, render.Header{Name: loaded.Name, Engine: loaded.Engine, Policy: p})
		}

		interrupts := make(chan os.Signal, 1)
		signal.Notify(interrupts, os.Interrupt)
		defer signal.Stop(interrupts)

		return attach(client, cmd.InOrStdin(), out, interrupts, interactive)
	},
}

func init() {
	attachCmd.Flags().BoolVarP(&verboseReplies, "verbose", "v", false, "Show the round-trip time of each reply")
	rootCmd.AddCommand(attachCmd)
}

type sendResult struct {
	reply host.Reply
	err   error
}

// attach runs the prompt loop until in is exhausted.
func attach(client *host.Client, in io.Reader, out io.Writer, interrupts <-chan os.Signal, interactive bool) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	prompt := func(continuation bool) {
		if interactive {
			fmt.Fprint(out, render.Prompt(continuation))
		}
	}

	var pending []string
	submit := func() error {
		input := strings.Join(pending, "\n")
		pending = pending[:0]

		done := make(chan sendResult, 1)
		go func() {
			reply, err := client.Send(input)
			done <- sendResult{reply, err}
		}()
		for {
			select {
			case res := <-done:
				if res.err != nil {
					return res.err
				}
				render.FormatReply(out, res.reply, verboseReplies)
				return nil
			case <-interrupts:
				if err := client.Interrupt(); err != nil {
					return err
				}
			}
		}
	}

	prompt(false)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				if len(pending) > 0 {
					if err := submit(); err != nil {
						return err
					}
				}
				if interactive {
					fmt.Fprintln(out)
				}
				return nil
			}
			if strings.TrimSpace(line) == "" {
				if len(pending) > 0 {
					if err := submit(); err != nil {
						return err
					}
				}
				prompt(false)
				continue
			}
			pending = append(pending, line)
			prompt(true)
		case <-interrupts:
			pending = pending[:0]
			if err := client.Interrupt(); err != nil {
				return err
			}
			if interactive {
				fmt.Fprintln(out)
				render.FormatInterrupted(out)
			}
			prompt(false)
		}
	}
}
