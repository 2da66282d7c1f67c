package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	hwhttp "github.com/abdul-hamid-achik/hitwire/packages/http"
	"github.com/abdul-hamid-achik/hitwire/packages/proxy"
)

var proxyCheckCmd = &cobra.Command{
	Use:   "proxy-check <url>",
	Short: "Show which proxy a request to url would use",
	Long: `Resolve the proxy mode from --noproxy, the collection proxy, the global
proxy and the proxy environment variables, then apply the bypass rules
to url.

Examples:
  hitwire proxy-check https://api.example.com
  hitwire proxy-check http://localhost:8080 --proxy http://proxy:3128 --bypass localhost
  HTTPS_PROXY=http://proxy:3128 NO_PROXY=.internal hitwire proxy-check https://a.internal`,
	Args: cobra.ExactArgs(1),
	RunE: proxyCheckCommand,
}

var proxyCheckSettings settingsFlags

func init() {
	proxyCheckSettings.register(proxyCheckCmd)
}

func proxyCheckCommand(cmd *cobra.Command, args []string) error {
	target := args[0]
	if err := hwhttp.ValidateURL(target); err != nil {
		return configExit(err)
	}

	cfg, err := proxyCheckSettings.load(cmd)
	if err != nil {
		return configExit(err)
	}

	decision := proxy.Resolve(proxy.Inputs{
		NoProxy:    cfg.GetNoProxy(),
		Collection: cfg.Collection(),
		Global:     cfg.GlobalProxy(),
		System:     proxy.SystemFromEnvironment(),
	})

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Mode: %s\n", decision.Mode)
	if bypass := decision.BypassList(); bypass != "" {
		fmt.Fprintf(out, "Bypass rules: %s\n", bypass)
	}

	route, err := decision.RouteFor(target)
	if err != nil {
		fmt.Fprintf(out, "Proxy setup failed, connecting directly: %v\n", err)
		return configExit(err)
	}

	switch {
	case route.Bypassed:
		fmt.Fprintln(out, "Route: direct (bypassed)")
	case route.URL == nil:
		fmt.Fprintln(out, "Route: direct")
	case route.SOCKS:
		fmt.Fprintf(out, "Route: SOCKS proxy %s\n", route.Redacted())
	default:
		fmt.Fprintf(out, "Route: HTTP proxy %s\n", route.Redacted())
	}
	return nil
}
