package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/dustin/sitepulse/internal/content"
)

func newContentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "content",
		Short: "Show the cached generated-content document and whether it is stale",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			return renderContent(cmd.OutOrStdout(), content.NewStore(cfg.GeneratedContentPath()), cfg.GeneratedContentPath())
		},
	}
}

func renderContent(w io.Writer, store *content.Store, path string) error {
	g, stale, err := store.Load()
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(w, "no generated content at %s; GET /api/ai-content serves {}\n", path)
		return nil
	}
	if err != nil {
		return err
	}

	status := "fresh"
	if stale {
		status = "stale"
	}
	lastGenerated := g.LastGenerated
	if lastGenerated == "" {
		lastGenerated = "unknown"
	}

	t := newTable(w, "Generated Content")
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"Path", path},
		{"Last generated", lastGenerated},
		{"Status", status},
		{"Meta description", g.MetaDescription},
		{"Hero tagline", g.HeroTagline},
		{"Project descriptions", len(g.ProjectDescriptions)},
		{"Skill tags", len(g.SkillTags)},
	})
	t.Render()
	return nil
}
