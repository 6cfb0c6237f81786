// internal/cli/lending.go
package cli

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jules-labs/libranexus/internal/catalog"
	"github.com/jules-labs/libranexus/internal/clients"
)

// idArgs parses every positional argument as a UUID.
func idArgs(args []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, len(args))
	for i, a := range args {
		id, err := uuid.Parse(a)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

// userFlag registers --user; empty means the caller.
func userFlag(cmd *cobra.Command) func() (uuid.UUID, error) {
	raw := cmd.Flags().String("user", "", "member id, defaults to the caller")
	return func() (uuid.UUID, error) {
		if *raw == "" {
			return uuid.Nil, nil
		}
		return uuid.Parse(*raw)
	}
}

func newTitleCommand(client func() *clients.Client) *cobra.Command {
	cmd := &cobra.Command{Use: "title", Short: "Catalog titles and copies"}

	var in catalog.NewTitle
	add := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a title with its first copies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Name = args[0]
			title, err := client().AddTitle(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(cmd, title)
		},
	}
	add.Flags().StringVar(&in.Author, "author", "", "author")
	add.Flags().StringVar(&in.ISBN, "isbn", "", "ISBN")
	add.Flags().StringSliceVar(&in.Categories, "category", nil, "category, repeatable")
	add.Flags().IntVar(&in.Copies, "copies", 1, "initial copies")

	search := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the catalog, or list it without a query",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var q string
			if len(args) == 1 {
				q = args[0]
			}
			views, err := client().Search(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printJSON(cmd, views)
		},
	}

	restock := &cobra.Command{
		Use:   "restock <title-id> <n>",
		Short: "Add copies to a title",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := idArgs(args[:1])
			if err != nil {
				return err
			}
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			copies, err := client().AddCopies(cmd.Context(), ids[0], n)
			if err != nil {
				return err
			}
			return printJSON(cmd, copies)
		},
	}

	verify := &cobra.Command{
		Use:   "verify <title-id>",
		Short: "Check a title's copies against its open loans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := idArgs(args)
			if err != nil {
				return err
			}
			report, err := client().Verify(cmd.Context(), ids[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}

	show := &cobra.Command{
		Use:   "show <title-id>",
		Short: "Show a title with its copies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := idArgs(args)
			if err != nil {
				return err
			}
			view, err := client().Title(cmd.Context(), ids[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, view)
		},
	}

	remove := &cobra.Command{
		Use:   "remove-copy <copy-id>",
		Short: "Withdraw a copy that is not on loan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := idArgs(args)
			if err != nil {
				return err
			}
			return client().RemoveCopy(cmd.Context(), ids[0])
		},
	}

	cmd.AddCommand(add, search, show, restock, remove, verify)
	return cmd
}

func newLoanCommand(client func() *clients.Client) *cobra.Command {
	cmd := &cobra.Command{Use: "loan", Short: "Borrow, extend and return"}

	borrow := &cobra.Command{
		Use:   "borrow <title-id>",
		Short: "Borrow any available copy of a title",
		Args:  cobra.ExactArgs(1),
	}
	borrowUser := userFlag(borrow)
	copyID := borrow.Flags().String("copy", "", "borrow this specific copy instead")
	borrow.RunE = func(cmd *cobra.Command, args []string) error {
		ids, err := idArgs(args)
		if err != nil {
			return err
		}
		user, err := borrowUser()
		if err != nil {
			return err
		}
		var cp uuid.UUID
		if *copyID != "" {
			if cp, err = uuid.Parse(*copyID); err != nil {
				return err
			}
		}
		loan, err := client().Borrow(cmd.Context(), user, ids[0], cp)
		if err != nil {
			return err
		}
		return printJSON(cmd, loan)
	}

	extend := &cobra.Command{
		Use:   "extend <title-id>",
		Short: "Extend the loan of a title once",
		Args:  cobra.ExactArgs(1),
	}
	extendUser := userFlag(extend)
	extend.RunE = func(cmd *cobra.Command, args []string) error {
		ids, err := idArgs(args)
		if err != nil {
			return err
		}
		user, err := extendUser()
		if err != nil {
			return err
		}
		loan, err := client().Extend(cmd.Context(), user, ids[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, loan)
	}

	ret := &cobra.Command{
		Use:   "return <loan-id>",
		Short: "Return a loan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := idArgs(args)
			if err != nil {
				return err
			}
			loan, err := client().Return(cmd.Context(), ids[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, loan)
		},
	}

	list := &cobra.Command{
		Use:   "list <member-id>",
		Short: "List a member's loans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := idArgs(args)
			if err != nil {
				return err
			}
			loans, err := client().Loans(cmd.Context(), ids[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, loans)
		},
	}

	overdue := &cobra.Command{
		Use:   "overdue",
		Short: "List overdue loans",
		RunE: func(cmd *cobra.Command, _ []string) error {
			loans, err := client().Overdue(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, loans)
		},
	}

	cmd.AddCommand(borrow, extend, ret, list, overdue)
	return cmd
}

func newQueueCommand(client func() *clients.Client) *cobra.Command {
	cmd := &cobra.Command{Use: "queue", Short: "Title wait lists"}

	join := &cobra.Command{Use: "join <title-id>", Short: "Join a title's wait list", Args: cobra.ExactArgs(1)}
	joinUser := userFlag(join)
	join.RunE = func(cmd *cobra.Command, args []string) error {
		ids, err := idArgs(args)
		if err != nil {
			return err
		}
		user, err := joinUser()
		if err != nil {
			return err
		}
		entry, err := client().Reserve(cmd.Context(), user, ids[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, entry)
	}

	leave := &cobra.Command{
		Use:   "leave <title-id> <member-id>",
		Short: "Leave a title's wait list",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := idArgs(args)
			if err != nil {
				return err
			}
			return client().Leave(cmd.Context(), ids[1], ids[0])
		},
	}

	position := &cobra.Command{
		Use:   "position <title-id> <member-id>",
		Short: "Show a member's place in a wait list",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := idArgs(args)
			if err != nil {
				return err
			}
			pos, err := client().Position(cmd.Context(), ids[1], ids[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, pos)
		},
	}

	show := &cobra.Command{
		Use:   "show <title-id>",
		Short: "List a title's wait list in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := idArgs(args)
			if err != nil {
				return err
			}
			entries, err := client().Queue(cmd.Context(), ids[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, entries)
		},
	}

	expire := &cobra.Command{
		Use:   "expire <older-than>",
		Short: "Drop notified reservations older than a duration, e.g. 72h",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := client().ExpireNotified(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}

	cmd.AddCommand(join, leave, position, show, expire)
	return cmd
}
