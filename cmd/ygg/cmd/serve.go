package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ssargent/yggdrasil/pkg/api"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start the YggdrasilDB REST API server with authentication.

Example:
  ygg serve --api-key=mysecretkey --port=8080`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := configFromContext(cmd)

		port, _ := cmd.Flags().GetInt("port")
		if !cmd.Flags().Changed("port") && cfg.Port != 0 {
			port = cfg.Port
		}
		apiKey, _ := cmd.Flags().GetString("api-key")
		if apiKey == "" {
			apiKey = cfg.APIKey
		}
		if apiKey == "" {
			return fmt.Errorf("--api-key is required (or api_key in the config file)")
		}

		svc, err := serviceFromContext(cmd)
		if err != nil {
			return err
		}
		return api.StartServer(svc, api.ServerConfig{
			Port:   port,
			Bind:   cfg.Bind,
			APIKey: apiKey,
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().String("api-key", "", "API key for authentication")
}
