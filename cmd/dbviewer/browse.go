package main

import (
	"context"
	"dbviewer/internal/client"
	"dbviewer/internal/core"
	"dbviewer/internal/data"
	"dbviewer/internal/logger"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
)

// handleBrowse is a terminal front end over a running server. Its
// connection config and view preferences live in a local state file, so a
// second run reconnects on its own.
func handleBrowse(args []string) int {
	fs := flag.NewFlagSet("browse", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "Server base URL")
	stateFile := fs.String("state", filepath.Join(".", "dbviewer-client.db"), "Local state file")
	host := fs.String("url", "", "Connect: host, host:port or tcp:// tunnel address")
	user := fs.String("u", "", "Connect: username")
	database := fs.String("d", "", "Connect: database (or database to switch to)")
	direct := fs.String("direct", "", "Connect: postgres:// URL")
	table := fs.String("table", "", "Table to show (lists tables when empty)")
	page := fs.Int("page", 0, "Zero-based page")
	pageSize := fs.Int("page-size", 0, "Page size (10, 25, 50 or 100; remembered per table)")
	disconnect := fs.Bool("disconnect", false, "Disconnect and forget the saved connection")
	fs.Parse(args)

	logger.Log.SetLevel(logrus.WarnLevel)
	db, err := data.InitDB(*stateFile)
	if err != nil {
		fmt.Printf("Failed to open state file: %v\n", err)
		return 1
	}
	defer db.Close()

	c, err := client.New(*server, data.NewStateRepo(db), client.Options{ReadRetries: 2})
	if err != nil {
		fmt.Printf("Failed to create client: %v\n", err)
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if *disconnect {
		if err := c.Disconnect(ctx); err != nil {
			printError(err)
			return 1
		}
		fmt.Println("Disconnected.")
		return 0
	}

	info, err := c.ReconnectOnLoad(ctx)
	if err != nil {
		fmt.Print("Saved connection is no longer valid: ")
		printError(err)
	}

	switch {
	case *direct != "":
		info, err = c.Validate(ctx, core.ConnectionConfig{Kind: core.ConnDirectURL, URL: *direct})
	case *host != "":
		password, perr := readPassword()
		if perr != nil {
			fmt.Printf("Failed to read password: %v\n", perr)
			return 1
		}
		info, err = c.Validate(ctx, core.ConnectionConfig{Kind: core.ConnHostBased, URL: *host, Username: *user, Password: password, Database: *database})
	case *database != "" && info.Status == core.StatusConnected && info.Database != *database:
		info, err = c.SwitchDatabase(ctx, *database)
	}
	if err != nil {
		printError(err)
		return 1
	}
	if info.Status != core.StatusConnected {
		fmt.Println("Not connected. Use -url/-u/-d or -direct to connect.")
		return 1
	}
	fmt.Printf("Connected to %q on %s\n", info.Database, info.Host)

	if *table == "" {
		tables, err := c.ListTables(ctx)
		if err != nil {
			printError(err)
			return 1
		}
		for _, t := range tables {
			fmt.Println(t)
		}
		return 0
	}

	view := c.NewTableView()
	view.Select(*table)
	if *pageSize > 0 {
		view.SetPageSize(*pageSize)
	}
	schema, rows, err := view.Load(ctx, *page)
	if err != nil {
		printError(err)
		return 1
	}
	printPage(schema, view.VisibleColumns(), rows)
	return 0
}

func printPage(schema *core.TableSchema, cols []core.Column, page *core.Page) {
	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	headers := make([]string, len(cols))
	for i, col := range cols {
		headers[i] = col.HeaderName
	}
	fmt.Fprintln(w, strings.Join(headers, "\t"))
	for _, row := range page.Rows {
		cells := make([]string, len(cols))
		for i, col := range cols {
			cells[i] = formatCell(row[col.Name])
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	w.Flush()

	pages := (page.TotalCount + int64(page.PageSize) - 1) / int64(page.PageSize)
	fmt.Printf("\n%s: page %d of %d, %d rows total\n", schema.Table, page.Page+1, pages, page.TotalCount)
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case time.Time:
		return x.Format(time.RFC3339)
	}
	return fmt.Sprint(v)
}
