package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/config"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List the provider catalog the server would load",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		providers, err := config.LoadCatalog(cfg.Resource.CatalogFile)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PROVIDER\tMODEL\tCOST/1K\tPRIORITY\tRPM\tCAPABILITIES\tDISABLED")
		for _, p := range providers {
			names := make([]string, 0, len(p.Models))
			for name := range p.Models {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				spec := p.Models[name]
				fmt.Fprintf(w, "%s\t%s\t%.4f\t%.1f\t%d\t%s\t%t\n",
					p.Name, name, spec.CostPer1K, p.Priority, p.RateLimits.RequestsPerMinute,
					strings.Join(spec.Capabilities, ","), p.Disabled)
			}
		}
		return w.Flush()
	},
}
