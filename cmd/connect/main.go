package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/maheshrc27/postflow/pkg/authpoll"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	apiKey    string
	scopes    []string
	spaceID   string
	interval  time.Duration
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "postflow-connect <platform>",
	Short: "Link a social account to postflow",
	Long:  `Requests an authorization URL for the platform, prints it, and waits until the account is linked in the browser.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runConnect,
}

func init() {
	rootCmd.Flags().StringVarP(&serverURL, "server", "s", "http://localhost:3000", "postflow server URL")
	rootCmd.Flags().StringVarP(&apiKey, "api-key", "k", os.Getenv("POSTFLOW_API_KEY"), "API key (defaults to $POSTFLOW_API_KEY)")
	rootCmd.Flags().StringSliceVar(&scopes, "scopes", nil, "override the platform's default scopes")
	rootCmd.Flags().StringVar(&spaceID, "space", "", "group the linked account under this space")
	rootCmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "status poll interval")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "give up after this long")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type authorizeOptions struct {
	Scopes  []string `url:"scopes,comma,omitempty"`
	SpaceID string   `url:"space_id,omitempty"`
}

type client struct {
	base   string
	apiKey string
	http   *http.Client
}

func (c *client) get(ctx context.Context, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return resp.StatusCode, fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
}

func runConnect(cmd *cobra.Command, args []string) error {
	if apiKey == "" {
		return errors.New("an API key is required (--api-key or $POSTFLOW_API_KEY)")
	}
	platform := args[0]
	c := &client{base: strings.TrimRight(serverURL, "/"), apiKey: apiKey, http: &http.Client{Timeout: 15 * time.Second}}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	qs, err := query.Values(authorizeOptions{Scopes: scopes, SpaceID: spaceID})
	if err != nil {
		return fmt.Errorf("encode query: %w", err)
	}
	var authz transfer.AuthorizeURLResponse
	if _, err := c.get(ctx, "/auth/"+url.PathEscape(platform)+"/url?"+qs.Encode(), &authz); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Open this URL to authorize %s:\n\n  %s\n\n", platform, authz.URL)

	var task transfer.AuthTaskView
	statusPath := "/auth/" + url.PathEscape(platform) + "/task/" + url.PathEscape(authz.TaskID)

	poller := authpoll.New(interval, timeout, func(ctx context.Context) (bool, error) {
		if _, err := c.get(ctx, statusPath, &task); err != nil {
			return false, err
		}
		return task.Status == models.AuthTaskStatusCompleted, nil
	})
	poller.OnTick = func(remaining time.Duration) {
		fmt.Fprintf(out, "\rwaiting for authorization... %3ds", int(remaining.Seconds()))
	}
	poller.OnError = func(err error) {
		fmt.Fprintf(cmd.ErrOrStderr(), "\npoll: %v\n", err)
	}

	result, err := poller.Run(ctx)
	fmt.Fprintln(out)
	if err != nil {
		return err
	}

	switch result {
	case authpoll.Completed:
		fmt.Fprintf(out, "Linked %s account %s\n", platform, task.AccountID)
		return nil
	case authpoll.TimedOut:
		return fmt.Errorf("authorization not completed within %s", timeout)
	default:
		return errors.New("cancelled")
	}
}
