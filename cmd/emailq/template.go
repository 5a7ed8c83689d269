package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/djshoppre/emailq/internal/template"
)

func newTemplateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Manage email templates",
	}
	cmd.AddCommand(newTemplatePutCmd(a), newTemplateListCmd(a))
	return cmd
}

func newTemplatePutCmd(a *app) *cobra.Command {
	var tpl template.Template

	cmd := &cobra.Command{
		Use:   "put <name>",
		Short: "Create or replace a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Database.URL == "" {
				return errNoDatabase
			}
			tpl.TemplateName = args[0]
			if _, err := template.Render(&tpl, nil); err != nil {
				return err
			}

			ts, err := openTemplates(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			defer ts.Close()

			if err := ts.Save(cmd.Context(), &tpl); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved template %s\n", tpl.TemplateName)
			return nil
		},
	}
	cmd.Flags().StringVar(&tpl.SubjectPart, "subject", "", "subject part")
	cmd.Flags().StringVar(&tpl.HtmlPart, "html", "", "HTML part")
	cmd.Flags().StringVar(&tpl.TextPart, "text", "", "text part")
	return cmd
}

func newTemplateListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ts, err := openTemplates(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			defer ts.Close()

			list, err := ts.writer.List(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSUBJECT")
			for _, t := range list {
				fmt.Fprintf(w, "%s\t%s\n", t.TemplateName, t.SubjectPart)
			}
			return w.Flush()
		},
	}
}
