package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jrsteele09/election-session/activity"
	"github.com/jrsteele09/election-session/credentials"
	"github.com/jrsteele09/election-session/crosstab"
	"github.com/jrsteele09/election-session/crosstab/redisbus"
	"github.com/jrsteele09/election-session/events"
	"github.com/jrsteele09/election-session/expiry"
	"github.com/jrsteele09/election-session/gateway"
	"github.com/jrsteele09/election-session/internal/config"
	"github.com/jrsteele09/election-session/sessions"
	"github.com/jrsteele09/election-session/tab"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var agentFlags struct {
	baseURL       string
	email         string
	jarPath       string
	redisAddr     string
	redisPassword string
	redisDB       int
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Keep a session alive against the auth proxy as a headless tab",
	Long: `Opens one tab against the auth proxy. Every line read from stdin counts
as a key press. The lines "login", "logout", "extend", "dismiss", "status"
and "quit" are commands. The password is read from AGENT_PASSWORD.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig()
		if err != nil {
			return err
		}
		if agentFlags.baseURL == "" {
			agentFlags.baseURL = c.GetBaseURL()
		}
		return runAgent(cmd.Context(), c, os.Stdin)
	},
}

func init() {
	agentCmd.Flags().StringVar(&agentFlags.baseURL, "base-url", "", "portal origin serving the auth proxy (defaults to BASE_URL)")
	agentCmd.Flags().StringVar(&agentFlags.email, "email", os.Getenv("AGENT_EMAIL"), "account to sign in with")
	agentCmd.Flags().StringVar(&agentFlags.jarPath, "jar", "", "bbolt file persisting the credentials between runs")
	agentCmd.Flags().StringVar(&agentFlags.redisAddr, "redis", "", "redis address shared with other agents for cross-tab signals")
	agentCmd.Flags().StringVar(&agentFlags.redisPassword, "redis-password", os.Getenv("REDIS_PASSWORD"), "redis password")
	agentCmd.Flags().IntVar(&agentFlags.redisDB, "redis-db", 0, "redis database")
}

func runAgent(ctx context.Context, c config.Config, in io.Reader) error {
	jar, err := credentials.NewCookieJar()
	if err != nil {
		return err
	}
	cookies, err := credentials.NewCookieStore(jar, agentFlags.baseURL)
	if err != nil {
		return err
	}

	var store credentials.Store = cookies
	if agentFlags.jarPath != "" {
		persisted, err := credentials.OpenBoltStore(agentFlags.jarPath)
		if err != nil {
			return err
		}
		defer persisted.Close()
		if persisted.HasCredential() {
			if err := credentials.Copy(cookies, persisted); err != nil {
				return err
			}
		}
		store = credentials.Tee(cookies, persisted)
	}

	client, err := gateway.NewClient(agentFlags.baseURL, gateway.WithJar(jar), gateway.WithCredentials(cookies))
	if err != nil {
		return err
	}

	var channel crosstab.Channel
	if agentFlags.redisAddr != "" {
		rc, err := redisbus.Dial(ctx, agentFlags.redisAddr, agentFlags.redisPassword, agentFlags.redisDB)
		if err != nil {
			return err
		}
		defer rc.Close()
		channel, err = redisbus.New(rc)
		if err != nil {
			return err
		}
	}

	feed := activity.NewFeed()
	t, err := tab.Open(ctx, c, tab.Deps{
		Gateway: client,
		Store:   store,
		Channel: channel,
		Navigator: sessions.NavigatorFunc(func(route string) {
			log.Info().Str("route", route).Msg("navigate")
		}),
	}, feed)
	if err != nil {
		return err
	}
	defer t.Close()

	t.Events.Subscribe(func(e events.SessionExpired) {
		log.Warn().Str("reason", string(e.Reason)).Msg("session expired")
	})
	t.Notifier.Subscribe(func(st expiry.Status) {
		switch st.Phase {
		case expiry.PhaseWarning:
			log.Warn().Dur("remaining", st.Remaining).Msg("session about to expire, type \"extend\" to stay signed in")
		case expiry.PhaseExpired:
			log.Warn().Str("reason", string(st.Reason)).Msg("session ended, type \"login\" to sign in again")
		}
	})
	go func() { _ = t.Notifier.Run(ctx, time.Second) }()

	if !t.Manager.IsAuthenticated() && agentFlags.email != "" {
		agentLogin(ctx, t)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := agentCommand(ctx, t, feed, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func agentCommand(ctx context.Context, t *tab.Tab, feed *activity.Feed, line string) (quit bool) {
	var err error
	switch line {
	case "quit", "exit":
		return true
	case "login":
		agentLogin(ctx, t)
	case "logout":
		err = t.Manager.Logout(ctx)
	case "extend":
		err = t.Notifier.Extend(ctx)
	case "dismiss":
		err = t.Notifier.Dismiss(ctx)
	case "status":
		printStatus(t)
	default:
		feed.Publish(activity.Event{Kind: activity.KindKeyPress})
	}
	if err != nil {
		log.Error().Err(err).Str("command", line).Msg("command failed")
	}
	return false
}

func agentLogin(ctx context.Context, t *tab.Tab) {
	if err := t.Manager.Login(ctx, agentFlags.email, os.Getenv("AGENT_PASSWORD")); err != nil {
		log.Error().Str("message", t.Manager.Snapshot().Error).Msg("login failed")
	}
}

func printStatus(t *tab.Tab) {
	snap := t.Manager.Snapshot()
	fmt.Printf("state:   %s\n", snap.State)
	if snap.Principal != nil {
		fmt.Printf("user:    %s (%s)\n", snap.Principal.DisplayName, snap.Principal.Role)
	}
	if deadline, ok := t.Manager.InactivityDeadline(); ok {
		fmt.Printf("expires: %s\n", time.Until(deadline).Round(time.Second))
	}
	fmt.Printf("notice:  %s\n", t.Notifier.Status().Phase)
}
