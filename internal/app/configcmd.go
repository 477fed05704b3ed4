package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/hooknotify/internal/output"
)

var configPlain bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage stored settings and secrets",
	Long: `Manage key/value settings kept in the database. Values are encrypted
with the local key unless --plain is given; 'get' decrypts transparently.

Keys read by hooknotify:
  webhook_url      default webhook when a notification carries none
  telegram_token   bot token for the telegram backend`,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Store a setting (encrypted by default)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openEnv("cli")
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.db.SetConfig(cmd.Context(), args[0], args[1], !configPlain); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Set %s.\n", args[0])
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Print a stored setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openEnv("cli")
		if err != nil {
			return err
		}
		defer rt.Close()

		v, ok, err := rt.db.GetConfig(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s is not set", args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), v)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored settings with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openEnv("cli")
		if err != nil {
			return err
		}
		defer rt.Close()

		entries, err := rt.db.GetAllConfig(cmd.Context())
		if err != nil {
			return err
		}
		for i := range entries {
			if entries[i].IsEncrypted {
				entries[i].Value = mask(entries[i].Value)
			}
		}
		if flagJSON {
			return writeJSON(cmd.OutOrStdout(), entries)
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), output.StyleMuted.Render("No settings stored."))
			return nil
		}
		tbl := output.NewTable("Key", "Value", "Encrypted", "Updated")
		for _, e := range entries {
			tbl.AddRow(e.Key, e.Value, fmt.Sprint(e.IsEncrypted), time.Unix(e.UpdatedAt, 0).Format("2006-01-02 15:04"))
		}
		return tbl.Fprint(cmd.OutOrStdout())
	},
}

var configDeleteCmd = &cobra.Command{
	Use:   "delete KEY",
	Short: "Remove a stored setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openEnv("cli")
		if err != nil {
			return err
		}
		defer rt.Close()

		ok, err := rt.db.DeleteConfig(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s is not set", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s.\n", args[0])
		return nil
	},
}

func init() {
	configSetCmd.Flags().BoolVar(&configPlain, "plain", false, "Store the value unencrypted")
	configCmd.AddCommand(configSetCmd, configGetCmd, configListCmd, configDeleteCmd)
	rootCmd.AddCommand(configCmd)
}

// mask keeps the last four characters of a secret.
func mask(v string) string {
	if len(v) <= 4 {
		return strings.Repeat("*", len(v))
	}
	return strings.Repeat("*", 8) + v[len(v)-4:]
}
