package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/budgetmailer/budgetmailer_sdk_go/pkg/budgetmailer"
)

var defaultColumns = []string{"id", "email", "unsubscribed"}

// writeLists renders contact lists as a table, marking the primary one.
func writeLists(w io.Writer, lists []budgetmailer.ContactList) error {
	green := color.New(color.FgGreen).SprintFunc()

	table := tablewriter.NewWriter(w)
	table.Header([]string{"ID", "List", "Primary"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignLeft
	})

	var data [][]string
	for _, l := range lists {
		primary := ""
		if l.Primary {
			primary = green("yes")
		}
		data = append(data, []string{l.ID, l.List, primary})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

// writeContacts renders the requested fields of each contact as a table.
// Missing fields render empty.
func writeContacts(w io.Writer, contacts []budgetmailer.Contact, columns []string) error {
	if len(columns) == 0 {
		columns = defaultColumns
	}

	table := tablewriter.NewWriter(w)
	headers := make([]string, len(columns))
	for i, c := range columns {
		headers[i] = strings.ToUpper(c)
	}
	table.Header(headers)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignLeft
	})

	var data [][]string
	for _, contact := range contacts {
		row := make([]string, len(columns))
		for i, c := range columns {
			row[i] = field(contact, c)
		}
		data = append(data, row)
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d contact(s)\n", len(contacts))
	return err
}

func field(c budgetmailer.Contact, name string) string {
	v, ok := c[name]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, len(t))
		for i, p := range t {
			parts[i] = fmt.Sprint(p)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(t)
	}
}

// writeContact prints one contact as indented JSON with sorted keys.
func writeContact(w io.Writer, c budgetmailer.Contact) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

func writeTags(w io.Writer, tags []string) error {
	sorted := append([]string(nil), tags...)
	sort.Strings(sorted)
	for _, t := range sorted {
		if _, err := fmt.Fprintln(w, t); err != nil {
			return err
		}
	}
	return nil
}

func writeOutcome(w io.Writer, what string, o budgetmailer.Outcome) error {
	label := color.New(color.FgGreen).SprintFunc()
	if o == budgetmailer.OutcomeNotFound {
		label = color.New(color.FgYellow).SprintFunc()
	}
	_, err := fmt.Fprintf(w, "%s: %s\n", what, label(o.String()))
	return err
}
