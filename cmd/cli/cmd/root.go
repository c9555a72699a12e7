package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "storectl",
	Short: "storectl operates the sellerpilot scheduler",
	Long: `storectl is the command-line interface for the sellerpilot scheduler's admin API.

The scheduler runs the recurring marketplace jobs of every seller account: review,
product and dialogue syncs, spreadsheet exports, follow-up sequences and the
rate-limited backfill queue. storectl lets an operator inspect and nudge them:

  List jobs with their last and next run:
    storectl jobs list

  Run a job now (refused while it is already running):
    storectl jobs run review_sync

  Queue a backfill for a tenant:
    storectl backfill enqueue --tenant <uuid> --target 200

  Start or cancel a follow-up sequence:
    storectl sequence start --tenant <uuid> --conversation c-1 --type no_reply_nudge \
      --message "Any questions left?" --message "Still interested?"
    storectl sequence cancel <sequence-id>

Configuration:
  Set the API endpoint and credentials via environment variables or a config file:
    SELLERPILOT_URL      Admin API endpoint (default: http://localhost:6262)
    SELLERPILOT_TOKEN    Admin bearer token`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".storectl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".storectl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "SELLERPILOT_VARNAME"
	viper.SetEnvPrefix("SELLERPILOT")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.storectl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6262", "Scheduler admin API URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "Admin token for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}

// newClient builds an admin client from the resolved config.
// It prints a hint and returns nil when no token is configured.
func newClient(cmd *cobra.Command) *AdminClient {
	token := viper.GetString("token")
	if token == "" {
		cmd.Println("Admin token not found. Please set it using the --token flag or the SELLERPILOT_TOKEN environment variable")
		return nil
	}
	return NewAdminClient(viper.GetString("url"), token)
}
