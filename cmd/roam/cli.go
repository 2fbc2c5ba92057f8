package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/roam/internal/backup"
	"github.com/hpungsan/roam/internal/cachestorage"
	"github.com/hpungsan/roam/internal/errors"
	"github.com/hpungsan/roam/internal/model"
	"github.com/hpungsan/roam/internal/orchestrator"
	"github.com/hpungsan/roam/internal/worker"
)

// maxStdinBytes bounds piped payloads.
const maxStdinBytes = 10 << 20

// newCLIApp creates the CLI application with all commands.
func newCLIApp(a *app) *cli.App {
	app := &cli.App{
		Name:    "roam",
		Usage:   "Offline-first sync layer for the Roam travel app",
		Version: Version,
		Commands: []*cli.Command{
			serveCmd(a),
			statusCmd(a),
			syncCmd(a),
			itineraryCmd(a),
			messageCmd(a),
			cacheCmd(a),
			statsCmd(a),
			exportCmd(a),
			importCmd(a),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// StatusOutput is printed by the status command.
type StatusOutput struct {
	Sync    orchestrator.State        `json:"sync"`
	Storage orchestrator.StorageStats `json:"storage"`
}

// statusCmd creates the status command.
func statusCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show connectivity, pending work and storage counts",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "probe", Value: true, Usage: "Probe the health endpoint first"},
		},
		Action: func(c *cli.Context) error {
			if c.Bool("probe") {
				a.probe(c.Context)
			}
			a.orch.RefreshPendingCounts(c.Context)
			return outputJSON(StatusOutput{
				Sync:    a.orch.State(),
				Storage: a.orch.GetStorageStats(c.Context),
			})
		},
	}
}

// syncCmd creates the sync command.
func syncCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Push pending itineraries and messages to the server",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "assume-online", Usage: "Skip the health probe and treat the network as up"},
		},
		Action: func(c *cli.Context) error {
			if c.Bool("assume-online") {
				a.orch.SetConnectivity(true, "")
			} else {
				a.probe(c.Context)
			}

			res, err := a.orch.SyncPendingData(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(res)
		},
	}
}

// itineraryCmd groups the itinerary subcommands.
func itineraryCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "itinerary",
		Usage: "Manage locally saved itineraries",
		Subcommands: []*cli.Command{
			{
				Name:  "save",
				Usage: "Save an itinerary (optionally reads a JSON payload from stdin)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "Existing itinerary id to update"},
					&cli.StringFlag{Name: "destination", Aliases: []string{"d"}, Usage: "Trip destination"},
					&cli.StringFlag{Name: "start", Usage: "Start date (YYYY-MM-DD)"},
					&cli.StringFlag{Name: "end", Usage: "End date (YYYY-MM-DD)"},
					&cli.Float64Flag{Name: "budget", Usage: "Trip budget"},
					&cli.StringFlag{Name: "prefs", Usage: "Comma-separated preferences"},
					&cli.BoolFlag{Name: "draft", Usage: "Keep local only; drafts never sync"},
				},
				Action: func(c *cli.Context) error {
					input := orchestrator.ItineraryInput{
						ID:          c.String("id"),
						Destination: c.String("destination"),
						StartDate:   c.String("start"),
						EndDate:     c.String("end"),
						Budget:      c.Float64("budget"),
						Preferences: parseTags(c.String("prefs")),
						Draft:       c.Bool("draft"),
					}
					if stdinHasData() {
						payload, err := readStdin()
						if err != nil {
							return outputError(err)
						}
						if payload != "" {
							input.Payload = json.RawMessage(payload)
						}
					}

					it, err := a.orch.SaveItineraryOffline(c.Context, input)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(it)
				},
			},
			{
				Name:  "list",
				Usage: "List itineraries",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "draft|sync_pending|synced"},
				},
				Action: func(c *cli.Context) error {
					var (
						items []*model.Itinerary
						err   error
					)
					if s := c.String("status"); s != "" {
						status := model.ItineraryStatus(s)
						if !status.Valid() {
							return outputError(errors.NewInvalidRequest("invalid status: " + s))
						}
						items, err = a.store.ItinerariesByStatus(c.Context, status)
					} else {
						items, err = a.store.ListItineraries(c.Context)
					}
					if err != nil {
						return outputError(err)
					}
					return outputJSON(nonNil(items))
				},
			},
		},
	}
}

// messageCmd groups the chat message subcommands.
func messageCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "message",
		Usage: "Queue and inspect chat messages",
		Subcommands: []*cli.Command{
			{
				Name:      "queue",
				Usage:     "Queue a message (content from args or stdin)",
				ArgsUsage: "[content]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "room", Aliases: []string{"r"}, Usage: "Chat room id"},
					&cli.StringFlag{Name: "sender", Usage: "Sender id"},
					&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Value: "text", Usage: "text|location|emergency"},
				},
				Action: func(c *cli.Context) error {
					content := strings.Join(c.Args().Slice(), " ")
					if content == "" && stdinHasData() {
						var err error
						if content, err = readStdin(); err != nil {
							return outputError(err)
						}
					}

					m, err := a.orch.SaveChatMessageOffline(c.Context, orchestrator.MessageInput{
						RoomID:   c.String("room"),
						SenderID: c.String("sender"),
						Content:  content,
						Kind:     model.MessageKind(c.String("kind")),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(m)
				},
			},
			{
				Name:  "list",
				Usage: "List messages",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "pending|sent|failed"},
					&cli.StringFlag{Name: "room", Aliases: []string{"r"}, Usage: "Chat room id"},
				},
				Action: func(c *cli.Context) error {
					var (
						items []*model.ChatMessage
						err   error
					)
					switch {
					case c.String("room") != "":
						items, err = a.store.MessagesByRoom(c.Context, c.String("room"))
					case c.String("status") != "":
						items, err = a.store.MessagesByStatus(c.Context, model.MessageStatus(c.String("status")))
					default:
						items, err = a.store.ListMessages(c.Context)
					}
					if err != nil {
						return outputError(err)
					}
					if s := c.String("status"); s != "" && c.String("room") != "" {
						filtered := items[:0]
						for _, m := range items {
							if string(m.Status) == s {
								filtered = append(filtered, m)
							}
						}
						items = filtered
					}
					return outputJSON(nonNil(items))
				},
			},
			{
				Name:      "resend",
				Usage:     "Send one message now, resetting it if it had failed",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return outputError(errors.NewInvalidRequest("message id is required"))
					}
					m, err := a.orch.ResendMessage(c.Context, c.Args().First())
					if m != nil {
						if jerr := outputJSON(m); jerr != nil {
							return jerr
						}
					}
					if err != nil {
						return outputError(err)
					}
					return nil
				},
			},
		},
	}
}

// cacheCmd groups the API and worker cache subcommands.
func cacheCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect and maintain the API and response caches",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Print a live API cache entry",
				ArgsUsage: "<url>",
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return outputError(errors.NewInvalidRequest("url is required"))
					}
					url := c.Args().First()
					data := a.orch.GetCachedResponse(c.Context, url)
					if data == nil {
						return outputError(errors.NewNotFound("api_cache", url))
					}
					return outputJSON(data)
				},
			},
			{
				Name:      "put",
				Usage:     "Cache a JSON body read from stdin",
				ArgsUsage: "<url>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "ttl", Value: "60m", Usage: "Time to live, e.g. 30m, 2h, 1d"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return outputError(errors.NewInvalidRequest("url is required"))
					}
					minutes, err := parseTTL(c.String("ttl"))
					if err != nil {
						return outputError(errors.NewInvalidRequest(err.Error()))
					}
					if !stdinHasData() {
						return outputError(errors.NewInvalidRequest("data must be piped via stdin"))
					}
					data, err := readStdin()
					if err != nil {
						return outputError(err)
					}

					url := c.Args().First()
					if err := a.orch.CacheResponse(c.Context, url, json.RawMessage(data), minutes); err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]any{"url": url, "ttl_minutes": minutes})
				},
			},
			{
				Name:  "sweep",
				Usage: "Delete expired API cache entries",
				Action: func(c *cli.Context) error {
					return outputJSON(map[string]int{"removed": a.orch.ClearExpiredCache(c.Context)})
				},
			},
			{
				Name:  "clear",
				Usage: "Delete every API cache entry",
				Action: func(c *cli.Context) error {
					n, err := a.store.ClearCache(c.Context)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]int{"removed": n})
				},
			},
			{
				Name:  "maintain",
				Usage: "Evict stale responses from the worker's dynamic cache",
				Action: func(c *cli.Context) error {
					caches, err := cachestorage.Open(a.baseDir, a.cfg)
					if err != nil {
						return outputError(err)
					}
					defer caches.Close()

					w := worker.New(worker.OptionsFromConfig(a.cfg), caches, nil, nil, nil, a.logger)
					n, err := w.Maintain(c.Context)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]int{"evicted": n})
				},
			},
		},
	}
}

// statsCmd creates the stats command.
func statsCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Count records in the local store",
		Action: func(c *cli.Context) error {
			return outputJSON(a.orch.GetStorageStats(c.Context))
		},
	}
}

// exportCmd creates the export command.
func exportCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write the local store to a JSONL backup",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Output file (default: ~/.roam/exports/roam-<timestamp>.jsonl)"},
			&cli.StringFlag{Name: "collections", Usage: "Comma-separated collections to include"},
		},
		Action: func(c *cli.Context) error {
			out, err := backup.Export(c.Context, a.store, a.cfg, backup.ExportInput{
				Path:        c.String("path"),
				Collections: parseTags(c.String("collections")),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// importCmd creates the import command.
func importCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Restore records from a JSONL backup",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "error", Usage: "On collision: error|replace|skip"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewInvalidRequest("path is required"))
			}
			out, err := backup.Import(c.Context, a.store, a.cfg, backup.ImportInput{
				Path: c.Args().First(),
				Mode: backup.ImportMode(c.String("mode")),
			})
			if err != nil {
				return outputError(err)
			}
			if out.Errors == nil {
				out.Errors = []backup.ImportError{}
			}
			return outputJSON(out)
		},
	}
}

// Output helpers

// outputJSON writes v as indented JSON to stdout.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if rErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", rErr.Code, rErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads piped content from stdin, up to maxStdinBytes.
func readStdin() (string, error) {
	return readStdinWithLimit(os.Stdin, maxStdinBytes)
}

func readStdinWithLimit(r io.Reader, limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if int64(len(data)) > limit {
		return "", errors.NewInvalidRequest(fmt.Sprintf("stdin exceeds %d bytes", limit))
	}
	return strings.TrimSpace(string(data)), nil
}

// parseTags splits a comma-separated string into a slice of tags.
func parseTags(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// parseTTL parses "30m", "2h" or "1d" into minutes.
func parseTTL(s string) (int, error) {
	units := map[string]int{"m": 1, "h": 60, "d": 24 * 60}
	for suffix, mult := range units {
		numStr, ok := strings.CutSuffix(s, suffix)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid ttl: %s", s)
		}
		if n <= 0 {
			return 0, fmt.Errorf("ttl must be positive")
		}
		return n * mult, nil
	}
	return 0, fmt.Errorf("ttl must end with m, h or d, e.g., 30m")
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
