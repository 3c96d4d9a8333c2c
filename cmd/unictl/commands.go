package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"finitefield.org/university-web/internal/loadstate"
	"finitefield.org/university-web/internal/sections"
)

func newListCmd(ctx context.Context, a *app) *cobra.Command {
	var (
		search   string
		category string
		page     string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "list <section>",
		Short: "list the items of a section",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			query := url.Values{}
			if category != "" {
				query.Set("category", category)
			}
			if page != "" {
				query.Set("page", page)
			}
			params := loadstate.Params{Lang: a.lang, Query: query, Search: search}
			items, err := a.catalog.ListAny(ctx, a.client, args[0], params.Lang, params.Values())
			if err != nil {
				return a.describe(err)
			}
			if asJSON {
				return writeJSON(a.out, items)
			}
			return a.printRows(items)
		},
	}
	cmd.Flags().StringVarP(&search, "search", "s", "", "search term")
	cmd.Flags().StringVar(&category, "category", "", "category filter")
	cmd.Flags().StringVar(&page, "page", "", "page number")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newGetCmd(ctx context.Context, a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <section> <id>",
		Short: "show one item of a section",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			item, err := a.catalog.GetAny(ctx, a.client, args[0], a.lang, args[1])
			if err != nil {
				return a.describe(err)
			}
			return writeJSON(a.out, item)
		},
	}
}

func newDownloadCmd(ctx context.Context, a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "download <document-id>",
		Short: "save a document's file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			doc, err := sections.Documents.Get(ctx, a.client, a.lang, args[0])
			if err != nil {
				return a.describe(err)
			}
			if strings.TrimSpace(doc.DownloadURL) == "" {
				return fmt.Errorf("document %s has no file", doc.ID)
			}
			file, err := a.client.Download(ctx, doc.DownloadURL)
			if err != nil {
				return a.describe(err)
			}
			defer file.Close()

			target := output
			if target == "" {
				target = defaultTarget(doc.FileName, file.FileName)
			}
			n, err := saveFile(target, file.Body)
			if err != nil {
				return err
			}
			a.logger.Debug("document saved", zap.String("document", doc.ID), zap.String("path", target), zap.Int64("bytes", n))
			fmt.Fprintf(a.out, "%s (%d bytes)\n", target, n)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "destination file (defaults to the document's file name)")
	return cmd
}

// defaultTarget picks a file name in the working directory from names the
// server supplied. Directory parts are dropped.
func defaultTarget(names ...string) string {
	for _, name := range names {
		base := filepath.Base(filepath.FromSlash(strings.TrimSpace(name)))
		switch base {
		case "", ".", "..", string(filepath.Separator):
			continue
		}
		return base
	}
	return "download"
}

// saveFile writes r to path through a temporary sibling so a failed transfer
// never leaves a truncated file behind.
const downloadMode os.FileMode = 0o644

func saveFile(path string, r io.Reader) (int64, error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".unictl-*")
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}
	n, err := io.Copy(tmp, r)
	if err == nil {
		err = tmp.Chmod(downloadMode)
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return 0, fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, fmt.Errorf("write %s: %w", path, err)
	}
	return n, nil
}

// describe keeps the error chain but leads with the localized message.
func (a *app) describe(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sections.ErrUnknownSection) {
		return fmt.Errorf("%s (%s): %w", a.bundle.T(a.lang, "error.unknown_section"), strings.Join(a.catalog.Names(), ", "), err)
	}
	return fmt.Errorf("%s: %w", loadstate.LocalizedMessage(a.bundle, a.lang, err), err)
}

type row struct {
	ID    string
	Label string
	Extra string
}

// rowsOf reduces any list of view models to id, label and one detail column.
func rowsOf(items any) ([]row, error) {
	raw, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	var rows []row
	gjson.ParseBytes(raw).ForEach(func(_, item gjson.Result) bool {
		rows = append(rows, row{
			ID:    item.Get("id").String(),
			Label: firstOf(item, "title", "name", "question"),
			Extra: firstOf(item, "short_date", "degree", "position", "category"),
		})
		return true
	})
	return rows, nil
}

func firstOf(item gjson.Result, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(item.Get(key).String()); v != "" {
			return v
		}
	}
	return ""
}

func (a *app) printRows(items any) error {
	rows, err := rowsOf(items)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(a.out, a.bundle.T(a.lang, "state.empty"))
		return nil
	}
	for _, r := range rows {
		line := fmt.Sprintf("%-6s %s", r.ID, r.Label)
		if r.Extra != "" {
			line += "  [" + r.Extra + "]"
		}
		fmt.Fprintln(a.out, line)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
