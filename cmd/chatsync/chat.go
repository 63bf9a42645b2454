package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/swflcoders/chatsync/internal/client"
	"github.com/swflcoders/chatsync/internal/utils"
)

func newChatCmd() *cobra.Command {
	var server string
	var room string
	var userID string
	var username string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join a room from the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID == "" {
				userID = "cli-" + utils.NewCorrelationID()[:8]
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rest := &client.RESTClient{BaseURL: server}
			transport := &client.WSTransport{
				BaseURL:  "ws" + strings.TrimPrefix(server, "http"),
				RoomID:   room,
				UserID:   userID,
				Username: username,
			}

			seen := make(map[string]bool)
			var agent *client.Agent
			opts := client.Options{
				RoomID:   room,
				UserID:   userID,
				Username: username,
				OnUpdate: func() {
					for _, entry := range agent.Snapshot().Messages {
						key := entry.Message.ID
						if key == "" {
							key = entry.Message.ClientMessageID
						}
						if seen[key] || entry.Pending {
							continue
						}
						seen[key] = true
						fmt.Printf("[%s] %s: %s\n",
							entry.Message.CreatedAt.Local().Format("15:04:05"),
							entry.Message.Username,
							entry.Message.Text)
					}
				},
			}
			agent = client.New(transport, rest, rest, opts)
			go agent.Run(ctx)

			if err := agent.Connect(); err != nil {
				return fmt.Errorf("connect: %w", err)
			}

			fmt.Printf("Connected to %s as %s in room %s\n", server, username, room)
			fmt.Println("Type messages and press Enter to send. /status, /disconnect, /connect, /quit.")

			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				switch {
				case line == "":
					continue
				case line == "/quit":
					agent.Disconnect()
					return nil
				case line == "/disconnect":
					agent.Disconnect()
				case line == "/connect":
					if err := agent.Connect(); err != nil {
						fmt.Printf("connect: %v\n", err)
					}
				case line == "/status":
					snap := agent.Snapshot()
					fmt.Printf("state=%s attempts=%d", snap.State, snap.Attempts)
					if snap.LastError != "" {
						fmt.Printf(" last_error=%q", snap.LastError)
					}
					fmt.Println()
				default:
					if err := agent.Send(line); err != nil {
						fmt.Printf("send: %v\n", err)
					}
				}
				if ctx.Err() != nil {
					break
				}
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "server base URL")
	cmd.Flags().StringVar(&room, "room", "general", "room to join")
	cmd.Flags().StringVar(&userID, "user", "", "stable user id (generated when empty)")
	cmd.Flags().StringVar(&username, "name", "cli-user", "display name")
	return cmd
}
