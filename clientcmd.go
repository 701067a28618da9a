package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"chatserver/internal/client"
	"chatserver/utils"

	"github.com/spf13/cobra"
)

// newClientCommand は対話用クライアントです。"/secure <user> <text>" で暗号化DMを送ります。
func newClientCommand() *cobra.Command {
	var addr, username string
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Interactive client; lines are sent as-is, /secure <user> <text> sends an encrypted DM",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := utils.InitLogger("warn")
			if err != nil {
				return err
			}
			defer logger.Sync()

			c, err := client.Dial(cmd.Context(), addr, logger)
			if err != nil {
				return err
			}
			defer c.Close()
			if username != "" {
				if err := c.Login(username); err != nil {
					return err
				}
			}

			go printEvents(cmd.OutOrStdout(), c)
			return readInput(cmd.InOrStdin(), c)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:1337", "chat server address")
	cmd.Flags().StringVar(&username, "user", "", "log in with this username on connect")
	return cmd
}

func printEvents(out io.Writer, c *client.Client) {
	for ev := range c.Events() {
		if ev.Secure {
			fmt.Fprintf(out, "[secure] %s: %s\n", ev.From, ev.Plaintext)
			continue
		}
		fmt.Fprintln(out, ev.Message.String())
	}
	if err := c.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "connection error:", err)
	}
}

func readInput(in io.Reader, c *client.Client) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case strings.HasPrefix(line, "/secure "):
			peer, text, ok := strings.Cut(strings.TrimPrefix(line, "/secure "), " ")
			if !ok || text == "" {
				fmt.Fprintln(os.Stderr, "usage: /secure <user> <text>")
				continue
			}
			if err := c.SendSecure(peer, text); err != nil {
				return err
			}
		default:
			if err := c.WriteLine(line); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}
