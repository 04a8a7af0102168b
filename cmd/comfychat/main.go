package main

import (
	"log"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"comfychat/client"
	"comfychat/history"
	"comfychat/settings"
)

type cli struct {
	store *settings.FileStore
}

func setupFlags(cmd *cobra.Command) error {
	cmd.PersistentFlags().String("settings", "comfychat.json", "Path to the settings file.")
	cmd.PersistentFlags().String("server", "", "ComfyUI server address, overrides the stored one.")
	cmd.PersistentFlags().Duration("timeout", 10*time.Minute, "How long to wait for a generation result. 0 waits forever.")
	viper.SetEnvPrefix("comfychat")
	viper.AutomaticEnv()
	return viper.BindPFlags(cmd.PersistentFlags())
}

// setupConfig loads the settings file and applies command line overrides.
func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	store, err := settings.Open(viper.GetString("settings"))
	if err != nil {
		return err
	}
	if server := viper.GetString("server"); server != "" {
		// naming a server on the command line implies the integration is on
		store.Settings().ServerURL = server
		store.Settings().Enabled = true
	}
	c.store = store
	return nil
}

// newClient builds the server client from the loaded settings.
func (c *cli) newClient() (*client.Client, error) {
	cc, err := client.NewClient(c.store.Settings().ServerURL)
	if err != nil {
		return nil, err
	}
	if token := c.store.Settings().CSRFToken; token != "" {
		cc.SetCSRFToken(token)
	}
	return cc, nil
}

// records wires the record store over the loaded settings.
func (c *cli) records() *history.Store {
	return history.NewStore(c.store.Settings(), c.store, nil)
}

func main() {
	cli := &cli{}

	root := &cobra.Command{
		Use:               "comfychat",
		Short:             "Generate images on a ComfyUI server from chat prompts",
		PersistentPreRunE: cli.setupConfig,
		SilenceUsage:      true,
	}
	if err := setupFlags(root); err != nil {
		log.Fatal(err)
	}

	root.AddCommand(
		cli.generateCmd(),
		cli.validateCmd(),
		cli.probeCmd(),
		cli.statsCmd(),
		cli.historyCmd(),
		cli.restoreCmd(),
	)

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}
