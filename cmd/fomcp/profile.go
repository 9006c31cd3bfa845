package main

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dynamicsmcp/fomcp/internal/config"
	"github.com/dynamicsmcp/fomcp/internal/ui"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage environment profiles",
}

var profileAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Add or update an environment profile",
	Long: `Add or update an environment profile.

With flags, the profile is created non-interactively:
  fomcp profile add prod --base-url https://prod.operations.dynamics.com

Without --base-url an interactive form opens. Pass --client-secret - to
read the secret from a hidden prompt instead of the command line.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		baseURL, _ := cmd.Flags().GetString("base-url")
		authMode, _ := cmd.Flags().GetString("auth-mode")
		clientID, _ := cmd.Flags().GetString("client-id")
		clientSecret, _ := cmd.Flags().GetString("client-secret")
		tenantID, _ := cmd.Flags().GetString("tenant-id")
		language, _ := cmd.Flags().GetString("language")
		cacheDir, _ := cmd.Flags().GetString("cache-dir")
		noVerify, _ := cmd.Flags().GetBool("no-verify-ssl")

		cfg := config.DefaultConfig()
		cfg.BaseURL = baseURL
		if authMode != "" {
			cfg.AuthMode = config.AuthMode(authMode)
		}
		cfg.ClientID = clientID
		cfg.TenantID = tenantID
		cfg.Language = language
		cfg.CacheDir = cacheDir
		cfg.VerifySSL = !noVerify

		if clientSecret == "-" {
			secret, err := readSecret("Client secret: ")
			if err != nil {
				return err
			}
			cfg.ClientSecret = secret
		} else {
			cfg.ClientSecret = clientSecret
		}

		if cfg.BaseURL == "" {
			if err := runProfileForm(&name, cfg); err != nil {
				return err
			}
		}
		if name == "" {
			return fmt.Errorf("profile name is required")
		}

		cfg.Normalize()
		if err := registry.Set(name, cfg); err != nil {
			return err
		}
		if !quietFlag {
			fmt.Printf("%s profile %q saved (%s)\n", ui.RenderPassIcon(), name, cfg.BaseURL)
		}
		return nil
	},
}

// runProfileForm collects the profile interactively.
func runProfileForm(name *string, cfg *config.Config) error {
	mode := string(cfg.AuthMode)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Profile name").
				Placeholder("e.g., prod, uat, dev").
				Value(name).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("name is required")
					}
					return nil
				}),

			huh.NewInput().
				Title("Environment URL").
				Description("The D365 F&O base URL").
				Placeholder("https://myenv.operations.dynamics.com").
				Value(&cfg.BaseURL).
				Validate(func(s string) error {
					if !strings.HasPrefix(s, "https://") && !strings.HasPrefix(s, "http://") {
						return fmt.Errorf("must be an http(s) URL")
					}
					return nil
				}),

			huh.NewSelect[string]().
				Title("Authentication").
				Options(
					huh.NewOption("Default credential chain (az login, managed identity)", string(config.AuthDefault)),
					huh.NewOption("Client credentials (app registration)", string(config.AuthClientCredentials)),
				).
				Value(&mode),
		),

		huh.NewGroup(
			huh.NewInput().Title("Tenant ID").Value(&cfg.TenantID),
			huh.NewInput().Title("Client ID").Value(&cfg.ClientID),
			huh.NewInput().
				Title("Client secret").
				EchoMode(huh.EchoModePassword).
				Value(&cfg.ClientSecret),
		).WithHideFunc(func() bool {
			return mode != string(config.AuthClientCredentials)
		}),

		huh.NewGroup(
			huh.NewInput().
				Title("Label language").
				Placeholder(config.DefaultLanguage).
				Value(&cfg.Language),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}
	cfg.AuthMode = config.AuthMode(mode)
	return nil
}

// readSecret reads a line from the terminal without echo.
func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	secret, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(string(secret)), nil
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		names := registry.Names()
		def := registry.DefaultName()

		if jsonOutput {
			type entry struct {
				Name    string `json:"name"`
				BaseURL string `json:"base_url"`
				Default bool   `json:"default"`
			}
			out := make([]entry, 0, len(names))
			for _, name := range names {
				cfg, err := registry.Get(name)
				if err != nil {
					continue
				}
				out = append(out, entry{Name: name, BaseURL: cfg.BaseURL, Default: name == def})
			}
			return printJSON(out)
		}

		if len(names) == 0 {
			fmt.Println("No profiles configured. Run 'fomcp profile add' to create one.")
			return nil
		}
		for _, name := range names {
			cfg, err := registry.Get(name)
			if err != nil {
				continue
			}
			marker := "  "
			if name == def {
				marker = ui.RenderAccent("* ")
			}
			fmt.Printf("%s%-16s %s\n", marker, name, ui.RenderMuted(cfg.BaseURL))
		}
		return nil
	},
}

var profileShowCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Show a profile's configuration (secrets omitted)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := registry.Get(args[0])
		if err != nil {
			return err
		}
		// The json tag on ClientSecret already drops it.
		if jsonOutput {
			return printJSON(cfg)
		}
		fmt.Printf("base_url:        %s\n", cfg.BaseURL)
		fmt.Printf("auth_mode:       %s\n", cfg.AuthMode)
		fmt.Printf("tenant_id:       %s\n", orDash(cfg.TenantID))
		fmt.Printf("client_id:       %s\n", orDash(cfg.ClientID))
		fmt.Printf("language:        %s\n", cfg.Language)
		fmt.Printf("verify_ssl:      %s\n", yesNo(cfg.VerifySSL))
		fmt.Printf("use_cache_first: %s\n", yesNo(cfg.UseCacheFirst))
		fmt.Printf("cache_dir:       %s\n", cfg.CacheDir)
		return nil
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Remove a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := registry.Remove(args[0]); err != nil {
			return err
		}
		if !quietFlag {
			fmt.Printf("%s profile %q removed\n", ui.RenderPassIcon(), args[0])
		}
		return nil
	},
}

var profileUseCmd = &cobra.Command{
	Use:   "use NAME",
	Short: "Set the default profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := registry.SetDefault(args[0]); err != nil {
			return err
		}
		if !quietFlag {
			fmt.Printf("%s default profile is now %q\n", ui.RenderPassIcon(), args[0])
		}
		return nil
	},
}

func init() {
	profileAddCmd.Flags().String("base-url", "", "environment base URL")
	profileAddCmd.Flags().String("auth-mode", "", "auth mode: default or client_credentials")
	profileAddCmd.Flags().String("client-id", "", "app registration client id")
	profileAddCmd.Flags().String("client-secret", "", "app registration secret ('-' prompts without echo)")
	profileAddCmd.Flags().String("tenant-id", "", "Entra tenant id")
	profileAddCmd.Flags().String("language", "", "default label language (BCP-47)")
	profileAddCmd.Flags().String("cache-dir", "", "metadata cache directory")
	profileAddCmd.Flags().Bool("no-verify-ssl", false, "disable TLS verification")

	profileCmd.AddCommand(profileAddCmd)
	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileRemoveCmd)
	profileCmd.AddCommand(profileUseCmd)
}
