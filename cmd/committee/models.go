package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lorenzotomasdiez/committee/internal/models"
	"github.com/lorenzotomasdiez/committee/internal/openrouter"
)

func newModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List OpenRouter models and check the configured ones",
		Args:  cobra.NoArgs,
		RunE:  runModels,
	}
	cmd.Flags().Bool("free", false, "Only list free models")
	cmd.Flags().String("search", "", "Filter by id or name")
	return cmd
}

func runModels(cmd *cobra.Command, args []string) error {
	free, _ := cmd.Flags().GetBool("free")
	search, _ := cmd.Flags().GetString("search")

	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	all, err := a.llm.ListModels(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing models: %w", err)
	}
	catalog := models.NewCatalog(all)

	freeIDs := map[string]bool{}
	for _, m := range catalog.Free() {
		freeIDs[m.ID] = true
	}
	list := catalog.Search(search)
	if free {
		var only []openrouter.Model
		for _, m := range list {
			if freeIDs[m.ID] {
				only = append(only, m)
			}
		}
		list = only
	}
	a.printer.PrintModels(list, func(m openrouter.Model) bool { return freeIDs[m.ID] })

	resolver := models.NewResolver(a.cfg.Model, a.cfg.AgentModels)
	if err := resolver.Validate(catalog); err != nil {
		a.printer.PrintError(err.Error())
	}
	return nil
}
