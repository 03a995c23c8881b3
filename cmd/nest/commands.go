package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nestapp/nest/internal/api"
	"github.com/nestapp/nest/internal/config"
	"github.com/nestapp/nest/internal/draft"
	"github.com/nestapp/nest/internal/markdown"
	"github.com/nestapp/nest/internal/storage"
	"github.com/nestapp/nest/internal/syncer"
)

func newBackendClient() (*api.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return api.New(cfg.API.BaseURL, cfg.API.Token), nil
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage the parent profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the parent profile as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newBackendClient()
		if err != nil {
			return err
		}

		parent, err := client.FetchParent(cmd.Context())
		if err != nil {
			return err
		}
		if parent == nil {
			printWarning("No profile yet. Run `nest setup` to create one.")
			return nil
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(parent)
	},
}

func init() {
	profileCmd.AddCommand(profileShowCmd)
}

// --- children ---

var childrenCmd = &cobra.Command{
	Use:   "children",
	Short: "Manage child records",
}

var childrenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered children",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newBackendClient()
		if err != nil {
			return err
		}

		children, err := client.FetchChildren(cmd.Context())
		if err != nil {
			return err
		}
		if len(children) == 0 {
			fmt.Println("No children registered.")
			return nil
		}

		for _, c := range children {
			age := ""
			d := draft.Child{Birthdate: c.Birthdate}
			if years, ok := d.Age(time.Now()); ok {
				age = fmt.Sprintf(" (%d)", years)
			}
			extra := ""
			if len(c.Interests) > 0 {
				extra = "  " + strings.Join(c.Interests, ", ")
			}
			fmt.Printf("%s  %s%s%s\n", colorize(colorCyan, string(c.ID)), c.Name, age, extra)
		}
		return nil
	},
}

var childrenAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a child directly, without the setup wizard",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		child, err := childFromFlags(cmd, args[0])
		if err != nil {
			return err
		}

		client, err := newBackendClient()
		if err != nil {
			return err
		}

		created, err := client.CreateChild(cmd.Context(), child, "")
		if err != nil {
			return err
		}
		printSuccess("Added %s (id %s)", created.Name, created.ID)
		return nil
	},
}

var childrenEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Update a child record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newBackendClient()
		if err != nil {
			return err
		}

		existing, err := fetchChild(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}

		child := mergeChildFlags(cmd, existing)
		updated, err := client.UpdateChild(cmd.Context(), args[0], child)
		if err != nil {
			return err
		}
		printSuccess("Updated %s", updated.Name)
		return nil
	},
}

var childrenDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a child record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newBackendClient()
		if err != nil {
			return err
		}

		if err := client.DeleteChild(cmd.Context(), args[0]); err != nil {
			var apiErr *api.APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
				printWarning("Child %s was already gone.", args[0])
				return nil
			}
			return err
		}
		printSuccess("Deleted child %s", args[0])
		return nil
	},
}

func childFromFlags(cmd *cobra.Command, name string) (api.Child, error) {
	birthdate, _ := cmd.Flags().GetString("birthdate")
	gender, _ := cmd.Flags().GetString("gender")
	interests, _ := cmd.Flags().GetString("interests")

	if birthdate != "" {
		if _, err := time.Parse("2006-01-02", birthdate); err != nil {
			return api.Child{}, fmt.Errorf("invalid birthdate %q: use YYYY-MM-DD", birthdate)
		}
	}
	return api.Child{
		Name:      name,
		Birthdate: birthdate,
		Gender:    gender,
		Interests: draft.NormalizeTags(splitTags(interests)),
	}, nil
}

func mergeChildFlags(cmd *cobra.Command, existing api.Child) api.Child {
	if cmd.Flags().Changed("name") {
		existing.Name, _ = cmd.Flags().GetString("name")
	}
	if cmd.Flags().Changed("birthdate") {
		existing.Birthdate, _ = cmd.Flags().GetString("birthdate")
	}
	if cmd.Flags().Changed("gender") {
		existing.Gender, _ = cmd.Flags().GetString("gender")
	}
	if cmd.Flags().Changed("interests") {
		raw, _ := cmd.Flags().GetString("interests")
		existing.Interests = draft.NormalizeTags(splitTags(raw))
	}
	return existing
}

func fetchChild(ctx context.Context, client *api.Client, id string) (api.Child, error) {
	children, err := client.FetchChildren(ctx)
	if err != nil {
		return api.Child{}, err
	}
	for _, c := range children {
		if string(c.ID) == id {
			return c, nil
		}
	}
	return api.Child{}, fmt.Errorf("child %s not found", id)
}

func init() {
	childrenAddCmd.Flags().String("birthdate", "", "birthdate (YYYY-MM-DD)")
	childrenAddCmd.Flags().String("gender", "", "gender")
	childrenAddCmd.Flags().String("interests", "", "comma-separated interests")

	childrenEditCmd.Flags().String("name", "", "new name")
	childrenEditCmd.Flags().String("birthdate", "", "birthdate (YYYY-MM-DD)")
	childrenEditCmd.Flags().String("gender", "", "gender")
	childrenEditCmd.Flags().String("interests", "", "comma-separated interests")

	childrenCmd.AddCommand(childrenListCmd)
	childrenCmd.AddCommand(childrenAddCmd)
	childrenCmd.AddCommand(childrenEditCmd)
	childrenCmd.AddCommand(childrenDeleteCmd)
}

// --- content ---

var contentCmd = &cobra.Command{
	Use:   "content",
	Short: "Work with guidance content",
}

var contentRenderCmd = &cobra.Command{
	Use:   "render [file]",
	Short: "Render markdown guidance content to sanitized HTML",
	Long: `Render markdown to sanitized HTML using the same renderer the app uses
for guidance content. Reads from a file argument or stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var src []byte
		var err error
		if len(args) == 1 {
			src, err = os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading input: %w", err)
			}
		} else {
			src, err = io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
		}

		fmt.Println(markdown.Render(string(src)))
		return nil
	},
}

func init() {
	contentCmd.AddCommand(contentRenderCmd)
}

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay pending child deletions against the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening local storage: %w", err)
		}
		defer store.Close()

		client := api.New(cfg.API.BaseURL, cfg.API.Token)
		worker := syncer.NewWorker(store, client, 0)

		n := 0
		for {
			done, err := worker.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			if !done {
				break
			}
			n++
		}
		if n == 0 {
			fmt.Println("Nothing to sync.")
			return nil
		}
		printSuccess("Processed %d pending deletion(s)", n)
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetTokenCmd = &cobra.Command{
	Use:   "set-token",
	Short: "Store the API token in the platform secret store",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprint(os.Stderr, "API token: ")
		token, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("reading token: %w", err)
		}
		if len(token) == 0 {
			return errors.New("empty token")
		}

		if err := config.SetAPIToken(string(token)); err != nil {
			return fmt.Errorf("storing token: %w", err)
		}
		printSuccess("Token stored")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetTokenCmd)
}
