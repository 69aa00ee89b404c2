package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/sip2gate/sip2gate/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long:  "Load the configuration, apply defaults and run every validation\ncheck without starting the gateway. Exits non-zero on the first problem.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
			os.Exit(1)
		}

		ids := make([]string, 0, len(cfg.Branches))
		for id := range cfg.Branches {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		fmt.Printf("VALID: %d branch(es), listen %s\n", len(ids), cfg.Listen)
		for _, id := range ids {
			br := cfg.Branches[id]
			scheme := "tcp"
			if br.TLS.Enabled {
				scheme = "tls"
			}
			login := "no login"
			if br.Credentials != nil {
				login = "login as " + br.Credentials.User
			}
			fmt.Printf("  %-16s %s://%s:%d  institution=%s  %s\n",
				id, scheme, br.Host, br.Port, br.InstitutionID, login)
		}
		if cfg.MasterKey == "" {
			fmt.Println("note: no master key configured; transaction events will be suppressed")
		}
	},
}
