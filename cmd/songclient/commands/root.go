// Package commands implements the songclient CLI.
package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cyberinferno/songstream/client"
)

var (
	serverAddr string
	outDir     string
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "songclient",
	Short: "Interactive client for songserver",
	Long: `songclient reads commands from stdin, sends them to a songserver and
prints the responses. A successful play downloads the stream into --out.

Examples:
  songclient --addr localhost:6999 --out ./downloads
  > register ana pw
  > login ana pw
  > play "Demo - A440"`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE:          run,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Flags().StringVar(&serverAddr, "addr", "localhost:6999", "control address of the server")
	rootCmd.Flags().StringVar(&outDir, "out", ".", "directory streamed songs are written to")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for each response")
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}

func run(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(client.DefaultConfig(serverAddr))
	c.OnConnectionState(func(ev client.ConnectionStateEvent) {
		if ev.State == client.Disconnected && ev.Error != nil {
			PrintErr("connection to %s lost: %v", ev.Address, ev.Error)
		}
	})

	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", serverAddr, err)
	}
	defer c.Close()

	host, _, err := net.SplitHostPort(serverAddr)
	if err != nil {
		return fmt.Errorf("invalid address %s: %w", serverAddr, err)
	}

	var downloads sync.WaitGroup
	defer downloads.Wait()

	return repl(ctx, c, cmd.InOrStdin(), cmd.OutOrStdout(), func(song string, info client.PlayInfo) {
		downloads.Add(1)
		go func() {
			defer downloads.Done()
			download(ctx, cmd.OutOrStdout(), host, song, info)
		}()
	})
}

func repl(ctx context.Context, c *client.Client, in io.Reader, out io.Writer, onPlay func(string, client.PlayInfo)) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(out, "> ")
			continue
		}

		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := c.Do(reqCtx, line)
		cancel()
		if err != nil {
			return err
		}

		fmt.Fprintln(out, resp)

		if verb, song, ok := strings.Cut(line, " "); ok && strings.EqualFold(verb, "play") {
			if info, err := client.ParsePlay(resp); err == nil {
				onPlay(strings.Trim(strings.TrimSpace(song), `"`), info)
			}
		}

		if strings.EqualFold(line, "terminate") {
			return nil
		}

		fmt.Fprint(out, "> ")
	}

	return scanner.Err()
}

func download(ctx context.Context, out io.Writer, host, song string, info client.PlayInfo) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		PrintErr("failed to create %s: %v", outDir, err)
		return
	}

	path := filepath.Join(outDir, filepath.Base(song)+".wav")
	f, err := os.Create(path)
	if err != nil {
		PrintErr("failed to create %s: %v", path, err)
		return
	}
	defer f.Close()

	n, err := client.Stream(ctx, host, info.Port, f)
	if err != nil {
		PrintErr("stream of %s failed after %d bytes: %v", song, n, err)
		return
	}

	fmt.Fprintf(out, "\nsaved %s (%d bytes, %s)\n", path, n, info.Format)
}
