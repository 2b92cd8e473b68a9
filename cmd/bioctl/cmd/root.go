package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "bioctl",
	Short: "Bioctl is a command line tool for the bioreactor experiment hub",
	Long: `bioctl is the command-line interface for the bioreactor experiment hub.

The hub runs untrusted user scripts in isolated containers and forwards
their hardware commands to the single physical bioreactor through a
serializing relay.

Common workflows:

  Submit an experiment script:
    bioctl submit experiment.py

  Check experiment status:
    bioctl status <experiment-id>

  Cancel a running experiment:
    bioctl cancel <experiment-id>

  List and download results:
    bioctl results <experiment-id>
    bioctl results <experiment-id> --download results.zip

  Check hub health:
    bioctl health

Configuration:
  Set the API endpoint via environment variables or a config file:
    BIOREACTOR_URL    Hub endpoint (default: http://localhost:8000)`,
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

		// Search config in home directory with name ".bioctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".bioctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "BIOREACTOR_VARNAME"
	viper.SetEnvPrefix("BIOREACTOR")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.bioctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:8000", "Hub URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
}
