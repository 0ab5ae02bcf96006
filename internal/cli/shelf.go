package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hitoshi/shelfmate/internal/model"
	"github.com/hitoshi/shelfmate/internal/shelf"
)

func (a *app) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <book-id>",
		Short: "Show a book's shelf status and reading progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			userID, err := a.userID(ctx)
			if err != nil {
				return err
			}

			view, err := a.controller().Describe(ctx, userID, args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(a.out, "Status:   %s\n", statusLabel(view.Status))
			switch view.Status {
			case model.StatusCurrentlyReading:
				fmt.Fprintf(a.out, "Progress: %s\n", progressLine(view.CurrentPage, view.PageCount, view.Percent))
			case model.StatusRead:
				fmt.Fprintf(a.out, "Rating:   %s\n", ratingLabel(view.Rating))
			}
			return nil
		},
	}
}

func (a *app) newShelveCmd() *cobra.Command {
	var (
		rating string
		yes    bool
	)

	cmd := &cobra.Command{
		Use:   "shelve <book-id> <to-read|currently-reading|read>",
		Short: "Put a book on a shelf",
		Long: `Put a book on a shelf.

Only one book can be currently-reading. If another book is already being
read, shelfmatectl asks before moving it back to to-read. Use --yes to
replace it without asking.

Books shelved as read need a rating (pos, mid or neg).

Examples:
  shelfmatectl shelve 7f3c to-read
  shelfmatectl shelve 7f3c currently-reading --yes
  shelfmatectl shelve 7f3c read --rating pos`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			bookID := args[0]

			status, err := model.ParseShelfStatus(args[1])
			if err != nil {
				return err
			}
			if !status.Shelvable() {
				return model.NewInvalidStatusError(args[1])
			}
			r, err := model.ParseRating(rating)
			if err != nil {
				return err
			}

			userID, err := a.userID(ctx)
			if err != nil {
				return err
			}
			ctrl := a.controller()

			if status != model.StatusCurrentlyReading {
				if _, err := ctrl.SetStatus(ctx, shelf.SetStatusRequest{
					UserID: userID,
					BookID: bookID,
					Status: status,
					Rating: r,
				}); err != nil {
					return err
				}
				a.ok("Shelved %s as %s", bookID, status)
				return nil
			}

			in, err := ctrl.BeginCurrentlyReading(ctx, userID, bookID)
			if err != nil {
				return err
			}
			if !in.Conflict() {
				a.ok("Now reading %s", bookID)
				return nil
			}

			title := in.DisplacedTitle()
			if !yes && !a.confirm(fmt.Sprintf("Replace %s?", title)) {
				if err := in.Cancel(); err != nil {
					return err
				}
				a.warn("Kept %q as currently reading", title)
				return nil
			}
			if _, err := in.Confirm(ctx); err != nil {
				return err
			}
			a.ok("Now reading %s (moved %q to to-read)", bookID, title)
			return nil
		},
	}

	cmd.Flags().StringVar(&rating, "rating", "", "Rating for read books: pos, mid or neg")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Replace the currently-reading book without asking")
	return cmd
}

func (a *app) newProgressCmd() *cobra.Command {
	var percent int

	cmd := &cobra.Command{
		Use:   "progress <book-id> [page]",
		Short: "Record reading progress by page or percent",
		Long: `Record reading progress for the currently-reading book.

Reaching the last page (or 100%) marks the book as read.

Examples:
  shelfmatectl progress 7f3c 120
  shelfmatectl progress 7f3c --percent 40`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			bookID := args[0]
			byPercent := cmd.Flags().Changed("percent")

			if byPercent == (len(args) == 2) {
				return fmt.Errorf("give either a page number or --percent")
			}

			userID, err := a.userID(ctx)
			if err != nil {
				return err
			}
			ctrl := a.controller()

			var result *shelf.ProgressResult
			if byPercent {
				result, err = ctrl.UpdateProgressPercent(ctx, userID, bookID, percent)
			} else {
				page, convErr := strconv.Atoi(args[1])
				if convErr != nil {
					return fmt.Errorf("page must be a number: %q", args[1])
				}
				result, err = ctrl.UpdateProgress(ctx, userID, bookID, page)
			}
			if err != nil {
				return err
			}

			if result.Completed {
				a.ok("Finished %s. Rate it with: shelfmatectl rate %s <pos|mid|neg>", bookID, bookID)
				return nil
			}
			a.ok("Progress saved: page %d (%d%%)", result.Entry.Page(), result.Percent)
			return nil
		},
	}

	cmd.Flags().IntVar(&percent, "percent", 0, "Progress as a percentage (0-100)")
	return cmd
}

func (a *app) newCompleteCmd() *cobra.Command {
	var page int

	cmd := &cobra.Command{
		Use:   "complete <book-id>",
		Short: "Mark a book as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			userID, err := a.userID(ctx)
			if err != nil {
				return err
			}

			if _, err := a.controller().CompleteBook(ctx, userID, args[0], page); err != nil {
				return err
			}
			a.ok("Finished %s. Rate it with: shelfmatectl rate %s <pos|mid|neg>", args[0], args[0])
			return nil
		},
	}

	cmd.Flags().IntVar(&page, "page", 0, "Final page reached")
	return cmd
}

func (a *app) newRateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rate <book-id> <pos|mid|neg>",
		Short: "Rate a book you have read",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := model.ParseRating(args[1])
			if err != nil {
				return err
			}
			if !r.IsSet() {
				return model.NewInvalidRatingError(args[1])
			}

			userID, err := a.userID(ctx)
			if err != nil {
				return err
			}
			if _, err := a.controller().RateBook(ctx, userID, args[0], r); err != nil {
				return err
			}
			a.ok("Rated %s %s", args[0], ratingLabel(r))
			return nil
		},
	}
}

func (a *app) newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <book-id>",
		Short: "Take a book off your shelves",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			userID, err := a.userID(ctx)
			if err != nil {
				return err
			}

			deleted, err := a.controller().DeleteEntry(ctx, userID, args[0])
			if err != nil {
				return err
			}
			if !deleted {
				a.warn("%s was not on your shelves", args[0])
				return nil
			}
			a.ok("Removed %s", args[0])
			return nil
		},
	}
}

func (a *app) newShelfCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shelf [currently-reading|to-read|read|lastread]",
		Short: "List the books on your shelves",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			userID, err := a.userID(ctx)
			if err != nil {
				return err
			}
			ctrl := a.controller()

			if len(args) == 0 {
				snap, err := ctrl.Snapshot(ctx, userID)
				if err != nil {
					return err
				}
				var current []model.ShelvedBook
				if snap.CurrentlyReading != nil {
					current = append(current, *snap.CurrentlyReading)
				}
				a.printShelf(model.StatusCurrentlyReading, current)
				a.printShelf(model.StatusToRead, snap.ToRead)
				a.printShelf(model.StatusRead, snap.Read)
				return nil
			}

			if args[0] == "lastread" {
				last, err := ctrl.LastRead(ctx, userID)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s by %s, finished %s, rated %s\n",
					last.Book.Title,
					authorsOf(last.Book.Authors),
					last.Entry.DateFinished.Format("2006-01-02"),
					ratingLabel(last.Entry.Rating),
				)
				return nil
			}

			status, err := model.ParseShelfStatus(args[0])
			if err != nil {
				return err
			}
			books, err := ctrl.Shelf(ctx, userID, status)
			if err != nil {
				return err
			}
			a.printShelf(status, books)
			return nil
		},
	}
}

func (a *app) printShelf(status model.ShelfStatus, books []model.ShelvedBook) {
	a.header("%s (%d)", status, len(books))
	tw := a.table()
	for _, sb := range books {
		detail := ""
		switch status {
		case model.StatusCurrentlyReading:
			page := sb.Entry.Page()
			detail = progressLine(page, sb.Book.PageCount, shelf.PageToPercent(page, sb.Book.PageCount))
		case model.StatusRead:
			detail = ratingLabel(sb.Entry.Rating)
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", sb.Book.ID, sb.Book.Title, authorsOf(sb.Book.Authors), detail)
	}
	tw.Flush()
}
