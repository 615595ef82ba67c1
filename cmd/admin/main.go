package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"xuesigner/internal/app"
	"xuesigner/internal/config"
	"xuesigner/internal/domain"
	"xuesigner/internal/utility"

	"github.com/spf13/cobra"
)

const (
	exitOK    = 0
	exitUsage = 1
	exitAPI   = 2
)

const requestTimeout = 30 * time.Second

// apiError marks failures talking to the running server, as opposed to
// mistakes in the command line.
type apiError struct{ err error }

func (e *apiError) Error() string { return e.err.Error() }
func (e *apiError) Unwrap() error { return e.err }

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return exitOK
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return exitAPI
	}
	return exitUsage
}

func newRootCommand() *cobra.Command {
	var socket string

	root := &cobra.Command{
		Use:           "xue-admin",
		Short:         "Manage claim codes on a running signer",
		Long:          `xue-admin talks to the signer's admin API over its local unix socket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Help()
			return errors.New("a command is required")
		},
	}
	root.PersistentFlags().StringVar(&socket, "socket",
		utility.Getenv("ADMIN_SOCKET", config.DefaultConfig().AdminSocket),
		"Path to the admin socket (env ADMIN_SOCKET)")

	client := func() *adminClient { return newAdminClient(socket) }

	root.AddCommand(
		newAddCodeCommand(client),
		newAddCodesFromFileCommand(client),
		newExtendCodesCommand(client),
		newListCodesCommand(client),
	)
	return root
}

func newAddCodeCommand(client func() *adminClient) *cobra.Command {
	return &cobra.Command{
		Use:     "add-code <code>",
		Aliases: []string{"addCode"},
		Short:   "Register a code, valid for 7 days",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == "" {
				return errors.New("code must not be empty")
			}
			var res domain.AdminRes
			if err := client().post(cmd.Context(), "/codes", domain.AddCodeReq{Code: args[0]}, &res); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added code %s\n", args[0])
			return nil
		},
	}
}

func newAddCodesFromFileCommand(client func() *adminClient) *cobra.Command {
	return &cobra.Command{
		Use:     "add-codes-from-file <path>",
		Aliases: []string{"addCodesFromFile"},
		Short:   "Register every non-empty line of a file as a code",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codes, err := readCodes(args[0])
			if err != nil {
				return err
			}
			if len(codes) == 0 {
				return fmt.Errorf("no codes found in %s", args[0])
			}
			var res domain.AdminRes
			if err := client().post(cmd.Context(), "/codes/bulk", domain.AddCodesReq{Codes: codes}, &res); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %d codes\n", res.Affected)
			return nil
		},
	}
}

func newExtendCodesCommand(client func() *adminClient) *cobra.Command {
	return &cobra.Command{
		Use:     "extend-codes <days>",
		Aliases: []string{"extendCodes"},
		Short:   "Shift the expiry of every code by a number of days (may be negative)",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			days, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("days must be an integer, got %q", args[0])
			}
			var res domain.AdminRes
			if err := client().post(cmd.Context(), "/codes/extend", domain.ExtendCodesReq{Days: days}, &res); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Extended %d codes by %d days\n", res.Affected, days)
			return nil
		},
	}
}

func newListCodesCommand(client func() *adminClient) *cobra.Command {
	return &cobra.Command{
		Use:   "list-codes",
		Short: "List registered codes and their expiry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var codes []app.CodeView
			if err := client().get(cmd.Context(), "/codes", &codes); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, c := range codes {
				fmt.Fprintf(out, "%s\t%s\n", c.Code, c.Expiry.Format(time.RFC3339))
			}
			return nil
		},
	}
}

// readCodes returns the trimmed, non-empty lines of path.
func readCodes(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var codes []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			codes = append(codes, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return codes, nil
}

type adminClient struct {
	http *http.Client
}

func newAdminClient(socket string) *adminClient {
	var d net.Dialer
	return &adminClient{http: &http.Client{
		Timeout: requestTimeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return d.DialContext(ctx, "unix", socket)
			},
		},
	}}
}

func (c *adminClient) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://admin"+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *adminClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://admin"+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *adminClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &apiError{fmt.Errorf("admin API unreachable: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) != nil || e.Error == "" {
			e.Error = resp.Status
		}
		return &apiError{fmt.Errorf("admin API: %s", e.Error)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &apiError{fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
