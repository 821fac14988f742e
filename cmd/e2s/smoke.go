package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/envie2sortir/envie2sortir/auth"
)

type smokeOptions struct {
	BaseURL  string
	Email    string
	Password string
	Rounds   int
}

// NewSmokeAuthCommand creates the smoke-auth command.
func NewSmokeAuthCommand(root *RootOptions) *cobra.Command {
	opts := &smokeOptions{}
	cmd := &cobra.Command{
		Use:   "smoke-auth",
		Short: "Check login and logout against a running server",
		Long: `Sign up (or log in when the account exists), check the session cookie
and /api/auth/me, then log out and check the cookie is gone and /api/auth/me
answers 401. Repeats --rounds times.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			for i := 1; i <= opts.Rounds; i++ {
				if err := smokeRound(ctx, opts); err != nil {
					return fmt.Errorf("round %d: %w", i, err)
				}
				root.log.WithField("round", i).Info("auth round passed")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "auth smoke test passed (%d rounds)\n", opts.Rounds)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.BaseURL, "base-url", "http://localhost:8080", "server base URL")
	cmd.Flags().StringVar(&opts.Email, "email", "smoke@envie2sortir.test", "account email")
	cmd.Flags().StringVar(&opts.Password, "password", "smoke-password", "account password")
	cmd.Flags().IntVar(&opts.Rounds, "rounds", 1, "number of login/logout cycles")
	return cmd
}

type smokeClient struct {
	http *http.Client
	base *url.URL
}

func smokeRound(ctx context.Context, opts *smokeOptions) error {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return fmt.Errorf("base url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	c := &smokeClient{http: &http.Client{Jar: jar, Timeout: 10 * time.Second}, base: base}

	status, err := c.post(ctx, "/api/auth/signup", map[string]string{
		"email": opts.Email, "password": opts.Password, "first_name": "Smoke", "last_name": "Test",
	})
	if err != nil {
		return err
	}
	if status == http.StatusConflict {
		if status, err = c.post(ctx, "/api/auth/login", map[string]string{"email": opts.Email, "password": opts.Password}); err != nil {
			return err
		}
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return fmt.Errorf("login answered %d", status)
	}
	if !c.hasSession() {
		return fmt.Errorf("no %s cookie after login", auth.SessionCookie)
	}
	if err := c.expectMe(ctx, http.StatusOK); err != nil {
		return err
	}

	if status, err = c.post(ctx, "/api/auth/logout", nil); err != nil {
		return err
	}
	if status != http.StatusNoContent && status != http.StatusOK {
		return fmt.Errorf("logout answered %d", status)
	}
	if c.hasSession() {
		return fmt.Errorf("%s cookie still set after logout", auth.SessionCookie)
	}
	return c.expectMe(ctx, http.StatusUnauthorized)
}

func (c *smokeClient) post(ctx context.Context, path string, body any) (int, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.String()+path, rdr)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *smokeClient) expectMe(ctx context.Context, want int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.String()+"/api/auth/me", nil)
	if err != nil {
		return err
	}
	status, err := c.do(req)
	if err != nil {
		return err
	}
	if status != want {
		return fmt.Errorf("/api/auth/me answered %d, want %d", status, want)
	}
	return nil
}

func (c *smokeClient) do(req *http.Request) (int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (c *smokeClient) hasSession() bool {
	for _, ck := range c.http.Jar.Cookies(c.base) {
		if ck.Name == auth.SessionCookie && ck.Value != "" {
			return true
		}
	}
	return false
}
