package list

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/mainthub/notifier/internal/app"
	"github.com/mainthub/notifier/internal/buildinfo"
	"github.com/mainthub/notifier/internal/conf"
	"github.com/mainthub/notifier/internal/listview"
	"github.com/mainthub/notifier/internal/logger"
	"github.com/mainthub/notifier/internal/notification"
)

// Options are the list command flags.
type Options struct {
	Text    string
	Fields  []string
	Filters []string
	Sort    string
	Desc    bool
	Page    int
	PerPage int
	File    string
	JSON    bool
}

// Query converts the flags into a list query.
func (o Options) Query(settings *conf.Settings) (listview.Query, error) {
	q := listview.Query{
		Text:         o.Text,
		SearchFields: o.Fields,
		SortKey:      o.Sort,
		SortDir:      listview.Asc,
		Page:         o.Page,
		PerPage:      o.PerPage,
	}
	if o.Desc {
		q.SortDir = listview.Desc
	}
	if settings != nil {
		if q.PerPage <= 0 {
			q.PerPage = settings.List.PerPage
		}
		q.Locale = settings.List.Locale
	}
	for _, kv := range o.Filters {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return q, fmt.Errorf("invalid filter format: %s (expected field=value)", kv)
		}
		if q.Filters == nil {
			q.Filters = make(map[string]string)
		}
		q.Filters[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return q, nil
}

// Command creates the command that searches, sorts and pages notifications
// or any JSON array of objects.
func Command(build *buildinfo.Context) *cobra.Command {
	var opts Options

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Search, filter, sort and page notifications",
		Long: `List notifications loaded from the backend (demo data when it is
unreachable). With --file, any JSON array of objects is listed instead; dotted
field names address nested values.

Examples:
  notifier list --q=pump --sort=createdAt --desc
  notifier list --filter=priority=CRITICAL --per-page=5 --page=2
  notifier list --file=interventions.json --sort=technician.name --fields=site,technician.name`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings := conf.GetSettings()
			q, err := opts.Query(settings)
			if err != nil {
				return err
			}

			if opts.File != "" {
				return listFile(cmd.OutOrStdout(), opts, q)
			}

			s := *settings
			s.WebServer.Enabled = false
			a, err := app.New(&s, app.Options{Build: build, Offline: true, Logger: logger.Global().Module("list")})
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Service.Reload(cmd.Context()); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "backend unavailable, listing demo data: %v\n", err)
			}
			if len(q.SearchFields) == 0 {
				q.SearchFields = notification.DefaultSearchFields
			}
			result := listview.View(a.Service.Store().All(), q, notification.RecordField)
			if opts.JSON {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			return WriteRecords(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&opts.Text, "q", "", "Case-insensitive text search")
	cmd.Flags().StringSliceVar(&opts.Fields, "fields", nil, "Fields searched by --q (default: title, message, project, type)")
	cmd.Flags().StringSliceVar(&opts.Filters, "filter", nil, "Exact-match filters in format field=value")
	cmd.Flags().StringVar(&opts.Sort, "sort", "", "Sort field")
	cmd.Flags().BoolVar(&opts.Desc, "desc", false, "Sort descending")
	cmd.Flags().IntVar(&opts.Page, "page", 1, "Page number (clamped into range)")
	cmd.Flags().IntVar(&opts.PerPage, "per-page", 0, "Rows per page (default: list.perpage)")
	cmd.Flags().StringVar(&opts.File, "file", "", "List a JSON array of objects instead of notifications")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Print the page as JSON")

	return cmd
}

func listFile(w io.Writer, opts Options, q listview.Query) error {
	data, err := os.ReadFile(opts.File)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", opts.File, err)
	}
	var rows []map[string]any
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("%s is not a JSON array of objects: %w", opts.File, err)
	}
	if len(q.SearchFields) == 0 && q.Text != "" {
		return fmt.Errorf("--fields is required with --q when listing a file")
	}
	return writeJSON(w, listview.View(rows, q, listview.MapGetter))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteRecords prints a page of notifications as a table: a header, a rule,
// one line per record and a page footer.
func WriteRecords(w io.Writer, result listview.Result[*notification.Record]) error {
	rows := make([][]string, 0, len(result.Rows))
	for _, rec := range result.Rows {
		read := "no"
		if rec.IsRead {
			read = "yes"
		}
		rows = append(rows, []string{
			rec.ID, string(rec.Priority), string(rec.Type), read,
			rec.Timestamp.Local().Format("2006-01-02 15:04"), rec.Title,
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		StyleFunc(func(_, _ int) lipgloss.Style { return cellStyle }).
		Headers("ID", "PRIORITY", "TYPE", "READ", "CREATED", "TITLE").
		Rows(rows...)

	if _, err := fmt.Fprintln(w, t.Render()); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "page %d/%d, %d matching\n", result.Page, result.TotalPages, result.TotalCount)
	return err
}

var cellStyle = lipgloss.NewStyle().Padding(0, 1)
