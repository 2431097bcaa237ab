package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func (r *runner) newHealthcheckCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check every queue connection, data connection and the mail provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := r.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			result := s.app.Ready(cmd.Context())
			out := cmd.OutOrStdout()
			if asJSON {
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				if err := encoder.Encode(result); err != nil {
					return fmt.Errorf("encode health result: %w", err)
				}
			} else {
				for _, check := range result.Checks {
					line := fmt.Sprintf("%-24s %s", check.Name, check.Status)
					if check.Message != "" {
						line += "  " + check.Message
					}
					if check.Error != "" {
						line += "  error=" + check.Error
					}
					fmt.Fprintln(out, line)
				}
				fmt.Fprintf(out, "overall: %s\n", result.Status)
			}
			if !result.IsHealthy() {
				return errors.New("healthcheck failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the aggregated result as JSON")
	return cmd
}

func (r *runner) newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := r.loadConfig(cmd.Flags()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	})

	var (
		showSecrets bool
		format      string
	)
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, secrets, err := r.loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch strings.ToLower(format) {
			case "yaml":
				render := cfg.YAML
				if !showSecrets {
					render = func() ([]byte, error) { return cfg.RedactedYAML(secrets) }
				}
				data, err := render()
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			case "text":
				if showSecrets {
					fmt.Fprint(out, cfg.String())
				} else {
					fmt.Fprint(out, cfg.Redacted(secrets))
				}
				return nil
			default:
				return fmt.Errorf("unsupported format %q (expected yaml or text)", format)
			}
		},
	}
	showCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "show secret values")
	showCmd.Flags().StringVar(&format, "format", "yaml", "output format: yaml or text")
	configCmd.AddCommand(showCmd)

	return configCmd
}
