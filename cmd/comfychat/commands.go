package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"comfychat/client"
	"comfychat/generation"
	"comfychat/history"
	"comfychat/settings"
	"comfychat/template"
)

// consoleAnchor stands in for a chat message's anchor when driving the
// orchestrator from a terminal.
type consoleAnchor struct {
	id       string
	prompt   string
	location settings.AnchorLocation
	rendered string
}

func (a *consoleAnchor) ID() string                         { return a.id }
func (a *consoleAnchor) Location() settings.AnchorLocation { return a.location }
func (a *consoleAnchor) Prompt() string                    { return a.prompt }

func (a *consoleAnchor) SetPending(pending bool) {
	if pending {
		log.Printf("generating for %q...", a.prompt)
	}
}

func (a *consoleAnchor) RenderImage(url string, interactive bool) {
	a.rendered = url
	if interactive {
		log.Printf("image ready: %s", url)
	} else {
		log.Printf("restored: %s", url)
	}
}

func (c *cli) generateCmd() *cobra.Command {
	var outFile string
	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Submit a prompt and wait for the generated image",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := c.newClient()
			if err != nil {
				return err
			}
			records := c.records()

			// no notifier: the error path below reports failures itself
			orch := generation.New(c.store, cc, records, nil)
			orch.Timeout = viper.GetDuration("timeout")

			// progress bar in the manner of the server's own UI: one bar per
			// executing node, created on the first tick
			var bar *progressbar.ProgressBar
			orch.OnProgress = func(p client.Progress) {
				if bar == nil || bar.GetMax() != p.Max {
					bar = progressbar.Default(int64(p.Max), "sampling")
				}
				bar.Set(p.Value)
			}

			prompt := strings.Join(args, " ")
			anchor := &consoleAnchor{
				id:       "console",
				prompt:   prompt,
				location: settings.AnchorLocation{MessageIndex: -1},
			}
			if err := orch.Generate(cmd.Context(), prompt, anchor); err != nil {
				return errors.New(generation.UserMessage(err))
			}

			if outFile != "" {
				recs := records.List()
				data, err := cc.GetImage(cmd.Context(), recs[0].File)
				if err != nil {
					return fmt.Errorf("downloading image: %w", err)
				}
				if err := os.WriteFile(outFile, data, 0o644); err != nil {
					return err
				}
				log.Printf("saved %s", outFile)
			}
			return c.store.Flush()
		},
	}
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "Save the generated image to this file.")
	return cmd
}

func (c *cli) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [workflow.json]",
		Short: "Check a workflow template without resolving its placeholders",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := c.store.Settings().WorkflowText
			if len(args) == 1 {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				text = string(data)
			}
			if text == "" {
				return errors.New("no workflow template stored and no file given")
			}

			err := template.Validate(text)
			if err == nil {
				fmt.Println("workflow is valid")
				return nil
			}
			var perr *template.ParseError
			if errors.As(err, &perr) {
				fmt.Println("workflow is not valid:", perr.Msg)
				if perr.Excerpt != "" {
					fmt.Printf("near: ...%s...\n", perr.Excerpt)
				}
				fmt.Println("common mistakes:")
				for _, hint := range perr.Hints {
					fmt.Println("  -", hint)
				}
				os.Exit(1)
			}
			return err
		},
	}
}

func (c *cli) probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check that the ComfyUI server is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := c.newClient()
			if err != nil {
				return err
			}
			if err := cc.Probe(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("server is reachable")
			return nil
		},
	}
}

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the server's system and device stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := c.newClient()
			if err != nil {
				return err
			}
			stats, err := cc.GetSystemStats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("os: %s, python: %s\n", stats.System.OS, stats.System.PythonVersion)
			for _, gpu := range stats.Devices {
				fmt.Printf("%s (%s): %d/%d VRAM free\n", gpu.Name, gpu.Type, gpu.VRAM_Free, gpu.VRAM_Total)
			}
			return nil
		},
	}
}

func (c *cli) historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the stored generation history",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List stored generations, newest first",
			RunE: func(cmd *cobra.Command, args []string) error {
				for _, rec := range c.records().List() {
					fmt.Printf("%s  %s  %q\n", rec.CreatedAt.Format("2006-01-02 15:04:05"), rec.ID, rec.OriginalPrompt)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <id>",
			Short: "Remove one stored generation",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if !c.records().Remove(args[0]) {
					return fmt.Errorf("no record with id %s", args[0])
				}
				return c.store.Flush()
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove every stored generation",
			RunE: func(cmd *cobra.Command, args []string) error {
				c.records().Clear()
				return c.store.Flush()
			},
		},
	)
	return cmd
}

func (c *cli) restoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <anchors.json>",
		Short: "Reattach stored results to a set of exported chat anchors",
		Long: "Reads a JSON array of anchors exported by the chat frontend, each\n" +
			"{\"id\": ..., \"prompt\": ..., \"selector\": ..., \"messageIndex\": ..., \"messageId\": ...},\n" +
			"and matches the most recent stored result for each distinct prompt back onto them.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			anchors, err := loadAnchors(args[0])
			if err != nil {
				return err
			}
			cc, err := c.newClient()
			if err != nil {
				return err
			}

			matcher := history.NewMatcher(c.records(), func(rec settings.ImageRecord) string {
				return cc.RenderURL(rec.File)
			})
			summary := matcher.RestoreAll(anchors)
			fmt.Printf("restored %d, failed %d\n", summary.Restored, summary.Failed)
			return nil
		},
	}
}

func loadAnchors(path string) ([]history.Anchor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var exported []struct {
		ID           string `json:"id"`
		Prompt       string `json:"prompt"`
		Selector     string `json:"selector"`
		MessageIndex *int   `json:"messageIndex"`
		MessageID    string `json:"messageId"`
	}
	if err := json.Unmarshal(data, &exported); err != nil {
		return nil, fmt.Errorf("parsing anchors: %w", err)
	}

	anchors := make([]history.Anchor, 0, len(exported))
	for _, e := range exported {
		index := -1
		if e.MessageIndex != nil {
			index = *e.MessageIndex
		}
		anchors = append(anchors, &consoleAnchor{
			id:     e.ID,
			prompt: e.Prompt,
			location: settings.AnchorLocation{
				Selector:     e.Selector,
				MessageIndex: index,
				MessageID:    e.MessageID,
			},
		})
	}
	return anchors, nil
}
