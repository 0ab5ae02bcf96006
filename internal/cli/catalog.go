package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hitoshi/shelfmate/internal/dto"
	"github.com/hitoshi/shelfmate/internal/model"
)

func (a *app) newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login --token <token>",
		Short: "Save a session token to the config file",
		Long: `Save a session token to the config file.

Get a token by signing in through the web login; the server returns it
as the session token. The token is checked against the profile endpoint
before it is saved.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token := strings.TrimSpace(a.flagToken)
			if token == "" {
				return fmt.Errorf("--token is required")
			}
			a.cfg.Token = token
			a.cfg.UserID = ""
			a.backend = nil

			user, err := a.api().Profile(cmd.Context())
			if err != nil {
				return err
			}
			a.cfg.UserID = user.ID

			if err := SaveConfig(a.cfg); err != nil {
				return err
			}
			a.ok("Logged in as %s (saved to %s)", displayName(user), a.cfg.Path())
			return nil
		},
	}
}

func (a *app) newProfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Show your profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := a.api().Profile(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Name:   %s\n", displayName(user))
			fmt.Fprintf(a.out, "Email:  %s\n", user.Email)
			fmt.Fprintf(a.out, "ID:     %s\n", user.ID)
			if len(user.Genres) > 0 {
				fmt.Fprintf(a.out, "Genres: %s\n", strings.Join(user.Genres, ", "))
			}
			return nil
		},
	}
}

func (a *app) newSearchCmd() *cobra.Command {
	var searchType string

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the catalog by title, author or ISBN",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st := model.SearchType(searchType)
			if !st.Valid() {
				return fmt.Errorf("unknown search type %q (any, title, author, isbn)", searchType)
			}

			books, err := a.api().Search(cmd.Context(), strings.Join(args, " "), searchType)
			if err != nil {
				return err
			}
			if len(books) == 0 {
				a.warn("No books found")
				return nil
			}
			tw := a.table()
			for _, b := range books {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", b.ID, b.Title, authorsOf(b.Authors))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&searchType, "type", string(model.SearchAny), "Search field: any, title, author or isbn")
	return cmd
}

func (a *app) newBookCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "book <book-id>",
		Short: "Show a book's details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.api().Book(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			a.header("%s", b.Title)
			fmt.Fprintf(a.out, "By:        %s\n", authorsOf(b.Authors))
			if b.PageCount > 0 {
				fmt.Fprintf(a.out, "Pages:     %d\n", b.PageCount)
			}
			if len(b.ISBN) > 0 {
				fmt.Fprintf(a.out, "ISBN:      %s\n", strings.Join(b.ISBN, ", "))
			}
			if b.Publisher != "" {
				fmt.Fprintf(a.out, "Publisher: %s\n", b.Publisher)
			}
			if b.PublicationDate != "" {
				fmt.Fprintf(a.out, "Published: %s\n", b.PublicationDate)
			}
			if len(b.GenreTags) > 0 {
				fmt.Fprintf(a.out, "Genres:    %s\n", strings.Join(b.GenreTags, ", "))
			}
			if b.Summary != "" {
				fmt.Fprintf(a.out, "\n%s\n", b.Summary)
			}
			return nil
		},
	}
}

func (a *app) newRecsCmd() *cobra.Command {
	var refresh int

	cmd := &cobra.Command{
		Use:   "recs",
		Short: "Show recommended books",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			userID, err := a.userID(ctx)
			if err != nil {
				return err
			}
			recs, err := a.api().Recommendations(ctx, userID, refresh)
			if err != nil {
				return err
			}
			a.printRecs(recs)
			return nil
		},
	}

	cmd.Flags().IntVar(&refresh, "refresh", 0, "Ask for a fresh batch (number of refreshes so far)")
	return cmd
}

func (a *app) newOnboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard <genre>...",
		Short: "Save your favourite genres and get first recommendations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := a.api().Onboard(cmd.Context(), args)
			if err != nil {
				return err
			}
			a.ok("Saved genres: %s", strings.Join(args, ", "))
			a.printRecs(recs)
			return nil
		},
	}
}

func (a *app) printRecs(recs []dto.Recommendation) {
	if len(recs) == 0 {
		a.warn("No recommendations yet")
		return
	}
	tw := a.table()
	for i, r := range recs {
		fmt.Fprintf(tw, "%d.\t%s\t%s\t%s\n", i+1, r.BookID, r.Title, authorsOf(r.Authors))
	}
	tw.Flush()
}

func displayName(u *dto.User) string {
	if u.Name != "" {
		return u.Name
	}
	if u.Email != "" {
		return u.Email
	}
	return u.ID
}
