package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"finitefield.org/university-web/internal/i18n"
	"finitefield.org/university-web/internal/loadstate"
)

func newBrowseCmd(ctx context.Context, a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "browse <section>",
		Short: "interactively browse a section",
		Long: `Browse loads a section and then reads commands from stdin:

  :lang <code>   switch language (ru, en, ky)
  :retry         repeat the last request
  :filter k=v    set a query filter; an empty value clears it
  :quit          exit

Any other line is a search term.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return a.browse(ctx, args[0])
		},
	}
}

// lockedWriter serializes observer output with prompt output.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, format, args...)
}

func (a *app) browse(ctx context.Context, name string) error {
	entry, err := a.catalog.Lookup(name)
	if err != nil {
		return a.describe(err)
	}
	out := &lockedWriter{w: a.out}

	var fetch loadstate.FetchFunc[any] = func(ctx context.Context, p loadstate.Params) (any, error) {
		return entry.ListAny(ctx, a.client, p.Lang, p.Values())
	}
	ctrl := loadstate.New[any](fetch, loadstate.Params{Lang: a.lang},
		loadstate.WithTimeout(a.requestTimeout()),
		loadstate.WithSearchDebounce(a.cfg.Locale.SearchDebounce),
		loadstate.WithLogger(a.logger.Named("browse")),
		loadstate.WithObserver(func(st loadstate.State[any]) {
			a.render(out, st)
		}),
	)
	defer ctrl.Close()
	ctrl.Mount(ctx)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(a.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := a.handleLine(ctrl, out, line); quit {
				return nil
			}
		}
	}
}

// handleLine applies one line of input and reports whether to stop.
func (a *app) handleLine(ctrl *loadstate.Controller[any], out *lockedWriter, line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, ":") {
		ctrl.Search(trimmed)
		return false
	}
	command, arg, _ := strings.Cut(strings.TrimPrefix(trimmed, ":"), " ")
	arg = strings.TrimSpace(arg)
	switch command {
	case "quit", "q":
		return true
	case "retry", "r":
		ctrl.Retry()
	case "lang":
		lang, ok := i18n.Normalize(arg)
		if !ok {
			out.printf("unsupported language %q (supported: %s)\n", arg, supportedLanguages())
			return false
		}
		ctrl.SetLanguage(lang)
	case "filter":
		key, value, found := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			out.printf("usage: :filter key=value\n")
			return false
		}
		ctrl.SetFilter(key, strings.TrimSpace(value))
	default:
		out.printf("unknown command :%s\n", command)
	}
	return false
}

func (a *app) render(out *lockedWriter, st loadstate.State[any]) {
	lang := st.Params.Lang
	if st.Loading() {
		out.printf("%s\n", a.bundle.T(lang, "state.loading"))
		return
	}
	switch st.Status {
	case loadstate.StatusError:
		out.printf("! %s\n  %s: :retry\n",
			loadstate.LocalizedMessage(a.bundle, lang, st.Err),
			a.bundle.T(lang, "action.retry"))
	case loadstate.StatusSuccess:
		rows, err := rowsOf(st.Data)
		if err != nil {
			out.printf("! %v\n", err)
			return
		}
		if len(rows) == 0 {
			out.printf("%s\n", a.bundle.T(lang, "state.empty"))
			return
		}
		var b strings.Builder
		for _, r := range rows {
			fmt.Fprintf(&b, "%-6s %s", r.ID, r.Label)
			if r.Extra != "" {
				b.WriteString("  [" + r.Extra + "]")
			}
			b.WriteByte('\n')
		}
		out.printf("%s", b.String())
	}
}
