package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/darkswarm/internal/network"
)

// torProjectOnion is the Tor Project's own onion service.
const torProjectOnion = "http://2gzyxa5ihm7nsggfxnu52rck2vv4rvmdlkiu3ber7fzs2xqxczfebsid.onion/"

// ErrTorUnavailable is returned by status when onion services cannot be reached.
var ErrTorUnavailable = errors.New("tor is not accessible")

type statusOptions struct {
	dialOnly bool
	checkURL string
}

func newStatusCmd(a *app) *cobra.Command {
	opts := &statusOptions{}
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Checks that the Tor proxy is reachable and can open onion services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.status(cmd.Context(), opts)
		},
	}
	f := statusCmd.Flags()
	f.BoolVar(&opts.dialOnly, "dial-only", false, "Only check that the proxy port accepts connections.")
	f.StringVar(&opts.checkURL, "check-url", torProjectOnion, "Onion address fetched through the proxy.")
	f.String("proxy", "", "SOCKS or HTTP proxy for onion fetches. (Overrides config/env)")
	bindConfigFlag(statusCmd, "proxy", "network.proxy_url")
	return statusCmd
}

func (a *app) status(ctx context.Context, opts *statusOptions) error {
	nc := a.cfg.Network
	if nc.ProxyURL == "" {
		_, err := fmt.Fprintln(a.stdout, "No proxy configured; onion addresses cannot be resolved.")
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: network.proxy_url is empty", ErrTorUnavailable)
	}
	proxyURL, err := url.Parse(nc.ProxyURL)
	if err != nil {
		return fmt.Errorf("invalid proxy url: %w", err)
	}

	if err := network.ValidateProxy(ctx, proxyURL, nc.DialTimeout); err != nil {
		a.logger.Warn("Proxy unreachable.", zap.String("proxy", proxyURL.Host), zap.Error(err))
		fmt.Fprintf(a.stdout, "Proxy %s is not reachable.\n\n", proxyURL.Host)
		fmt.Fprintln(a.stdout, "  Install Tor with 'apt install tor' or 'brew install tor',")
		fmt.Fprintln(a.stdout, "  then start it with 'systemctl start tor' or 'brew services start tor'.")
		return fmt.Errorf("%w: %w", ErrTorUnavailable, err)
	}
	fmt.Fprintf(a.stdout, "Proxy %s is reachable.\n", proxyURL.Host)
	if opts.dialOnly {
		return nil
	}

	nc.CheckProxy = false
	client, err := newDarkWebClient(ctx, nc, a.logger)
	if err != nil {
		return err
	}
	code, err := fetchStatus(ctx, client, opts.checkURL)
	if err != nil || code >= http.StatusBadRequest {
		fmt.Fprintf(a.stdout, "Onion check against %s failed.\n", opts.checkURL)
		if err == nil {
			err = fmt.Errorf("status %d", code)
		}
		return fmt.Errorf("%w: %w", ErrTorUnavailable, err)
	}
	_, err = fmt.Fprintf(a.stdout, "Tor is running and onion services answer (HTTP %d).\n", code)
	return err
}

func fetchStatus(ctx context.Context, client *http.Client, address string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}
