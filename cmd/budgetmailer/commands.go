package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/budgetmailer/budgetmailer_sdk_go/pkg/budgetmailer"
)

func newListsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "lists",
		Short: "Show the contact lists of the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lists, err := a.client.GetLists(cmd.Context())
			if err != nil {
				return err
			}
			return writeLists(a.out, lists)
		},
	}
}

func newContactsCmd(a *app) *cobra.Command {
	var (
		offset, limit int
		sortOrder     string
		unsubscribed  string
		all           bool
		columns       []string
	)
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "List contacts of a list",
		Long: `List contacts of the default list, or the one given with --list.

Examples:
  # First page, newest first
  budgetmailer contacts --sort DESC

  # Every subscribed contact, showing a custom field
  budgetmailer contacts --all --unsubscribed false --columns email,firstName`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := budgetmailer.ContactsQuery{Offset: offset, Limit: limit, Sort: sortOrder}
			if unsubscribed != "" {
				b, err := strconv.ParseBool(unsubscribed)
				if err != nil {
					return errors.Wrap(err, "--unsubscribed")
				}
				q.Unsubscribed = budgetmailer.Bool(b)
			}

			var (
				contacts []budgetmailer.Contact
				err      error
			)
			if all {
				contacts, err = a.client.AllContacts(cmd.Context(), q, "")
			} else {
				contacts, err = a.client.GetContacts(cmd.Context(), q, "")
			}
			if err != nil {
				return err
			}
			return writeContacts(a.out, contacts, columns)
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of contacts to skip")
	cmd.Flags().IntVar(&limit, "limit", budgetmailer.DefaultLimit, "Page size")
	cmd.Flags().StringVar(&sortOrder, "sort", budgetmailer.SortAsc, "Sort order: ASC or DESC")
	cmd.Flags().StringVar(&unsubscribed, "unsubscribed", "", "Filter on unsubscribed state (true or false)")
	cmd.Flags().BoolVar(&all, "all", false, "Fetch every page")
	cmd.Flags().StringSliceVar(&columns, "columns", defaultColumns, "Contact fields to show")
	return cmd
}

func newContactCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contact",
		Short: "Read, create, update or delete a single contact",
	}
	cmd.AddCommand(
		newContactGetCmd(a),
		newContactCreateCmd(a),
		newContactUpdateCmd(a),
		newContactDeleteCmd(a),
	)
	return cmd
}

func newContactGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <email-or-id>",
		Short: "Print a contact as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contact, ok, err := a.client.GetContact(cmd.Context(), args[0], "")
			if err != nil {
				return err
			}
			if !ok {
				return errors.Errorf("contact %s not found", args[0])
			}
			return writeContact(a.out, contact)
		},
	}
}

// contactFlags collects the body of create and update from --json and --set.
type contactFlags struct {
	raw string
	set map[string]string
}

func (f *contactFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.raw, "json", "", "Contact fields as a JSON object")
	cmd.Flags().StringToStringVar(&f.set, "set", nil, "Contact field as key=value, repeatable")
}

// contact merges --set over --json.
func (f *contactFlags) contact() (budgetmailer.Contact, error) {
	c := budgetmailer.Contact{}
	if f.raw != "" {
		if err := json.Unmarshal([]byte(f.raw), &c); err != nil {
			return nil, errors.Wrap(err, "--json")
		}
	}
	for k, v := range f.set {
		c[k] = v
	}
	return c, nil
}

func newContactCreateCmd(a *app) *cobra.Command {
	var f contactFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a contact",
		Example: `  budgetmailer contact create --set email=jane@example.com --set firstName=Jane
  budgetmailer contact create --json '{"email":"jane@example.com","tags":["vip"]}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := f.contact()
			if err != nil {
				return err
			}
			if c.Email() == "" {
				return fmt.Errorf("an email field is required: %w", budgetmailer.ErrInvalidArgument)
			}
			created, err := a.client.PostContact(cmd.Context(), c, "")
			if err != nil {
				return err
			}
			return writeContact(a.out, created)
		},
	}
	f.register(cmd)
	return cmd
}

func newContactUpdateCmd(a *app) *cobra.Command {
	var (
		f         contactFlags
		subscribe string
	)
	cmd := &cobra.Command{
		Use:   "update <email-or-id>",
		Short: "Update fields of a contact",
		Long: `Update fields of a contact. --subscribe true re-subscribes the contact and
--subscribe false unsubscribes it; without the flag the state is untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := f.contact()
			if err != nil {
				return err
			}
			var sub *bool
			if subscribe != "" {
				b, err := strconv.ParseBool(subscribe)
				if err != nil {
					return errors.Wrap(err, "--subscribe")
				}
				sub = budgetmailer.Bool(b)
			}
			outcome, err := a.client.PutContact(cmd.Context(), args[0], c, "", sub)
			if err != nil {
				return err
			}
			return writeOutcome(a.out, "update "+args[0], outcome)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&subscribe, "subscribe", "", "Set the subscription state (true or false)")
	return cmd
}

func newContactDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <email-or-id>",
		Short: "Delete a contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outcome, err := a.client.DeleteContact(cmd.Context(), args[0], "")
			if err != nil {
				return err
			}
			return writeOutcome(a.out, "delete "+args[0], outcome)
		},
	}
}

func newTagsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tags",
		Short: "Manage the tags of a contact",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list <email-or-id>",
			Short: "Print the tags of a contact, one per line",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				tags, err := a.client.GetTags(cmd.Context(), args[0], "")
				if err != nil {
					return err
				}
				return writeTags(a.out, tags)
			},
		},
		&cobra.Command{
			Use:   "add <email-or-id> <tag>...",
			Short: "Add tags to a contact",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.client.PostTags(cmd.Context(), args[0], args[1:], ""); err != nil {
					return err
				}
				_, err := fmt.Fprintf(a.out, "added %d tag(s) to %s\n", len(args)-1, args[0])
				return err
			},
		},
		&cobra.Command{
			Use:   "remove <email-or-id> <tag>",
			Short: "Remove a tag from a contact",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.client.DeleteTag(cmd.Context(), args[0], args[1], ""); err != nil {
					return err
				}
				_, err := fmt.Fprintf(a.out, "removed %s from %s\n", args[1], args[0])
				return err
			},
		},
	)
	return cmd
}

func newBulkCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "bulk <file|->",
		Short: "Create or update many contacts from a JSON array",
		Long: `Read a JSON array of contact objects from a file, or from stdin when the
argument is "-", and upload it in one request. Existing contacts are matched
by email and updated.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contacts, err := readContacts(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			if err := a.client.PostContacts(cmd.Context(), contacts, ""); err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.out, "uploaded %d contact(s)\n", len(contacts))
			return err
		},
	}
}

func readContacts(stdin io.Reader, path string) ([]budgetmailer.Contact, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	var contacts []budgetmailer.Contact
	if err := json.Unmarshal(data, &contacts); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	for i, c := range contacts {
		if c.Email() == "" {
			return nil, fmt.Errorf("contact %d has no email: %w", i, budgetmailer.ErrInvalidArgument)
		}
	}
	return contacts, nil
}

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the local response cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Remove every cached response",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := a.client.PurgeCache(); err != nil {
				return err
			}
			_, err := fmt.Fprintln(a.out, "Cache purged.")
			return err
		},
	})
	return cmd
}
