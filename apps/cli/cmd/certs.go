package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/hitwire/packages/certs"
)

var certsCmd = &cobra.Command{
	Use:   "certs",
	Short: "Show the aggregated CA certificates",
	Long: `Aggregate the trust anchors a request would use and print how many
certificates each source contributed.

Sources are the system bundle, the root certificate directories, the custom
bundle (--cacert or customCaCertificate) and the file named by
HITWIRE_EXTRA_CA_CERTS.

Examples:
  hitwire certs
  hitwire certs --cacert corp-ca.pem --keep-default-ca=false
  hitwire certs --json`,
	Args: cobra.NoArgs,
	RunE: certsCommand,
}

var (
	certsSettings settingsFlags
	certsJSONFlag bool
	certsPEMFlag  bool
)

func init() {
	certsSettings.register(certsCmd)
	certsCmd.Flags().BoolVar(&certsJSONFlag, "json", false, "Print counts as JSON")
	certsCmd.Flags().BoolVar(&certsPEMFlag, "pem", false, "Print the merged PEM bundle")
}

func certsCommand(cmd *cobra.Command, args []string) error {
	cfg, err := certsSettings.load(cmd)
	if err != nil {
		return configExit(err)
	}

	e, err := newEngine(cfg)
	if err != nil {
		return configExit(err)
	}
	defer func() { _ = e.logger.Sync() }()

	result, err := e.aggregator.GetCACertificates(certs.Options{
		CACertFilePath:         cfg.CACertFilePath(),
		ShouldKeepDefaultCerts: cfg.GetKeepDefaultCACertificates(),
	})
	if err != nil {
		return configExit(err)
	}

	out := cmd.OutOrStdout()
	switch {
	case certsPEMFlag:
		fmt.Fprint(out, result.CACertificates)
	case certsJSONFlag:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			certs.Count
			Unique int `json:"unique"`
		}{result.Count, len(result.Blocks())})
	default:
		fmt.Fprintf(out, "CA Certificates: %s\n", result.Count)
		fmt.Fprintf(out, "Unique: %d\n", len(result.Blocks()))
	}
	return nil
}
