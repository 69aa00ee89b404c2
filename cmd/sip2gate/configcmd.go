package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sip2gate/sip2gate/config"
)

var (
	initPath  string
	initForce bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		sample, err := config.Sample()
		if err != nil {
			return err
		}
		if _, err := os.Stat(initPath); err == nil && !initForce {
			return fmt.Errorf("%s exists, use --force to overwrite", initPath)
		}
		if err := os.WriteFile(initPath, []byte(sample), 0o600); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", initPath)
		return nil
	},
}

func init() {
	configInitCmd.Flags().StringVarP(&initPath, "output", "o", "sip2gate.yaml", "where to write the sample")
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
}
