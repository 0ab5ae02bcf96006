package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hitoshi/shelfmate/internal/dto"
)

const timeLayout = "2006-01-02 15:04"

func (a *app) newPostsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "posts <book-id>",
		Short: "List forum posts about a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			posts, err := a.api().Posts(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(posts) == 0 {
				a.warn("No posts yet")
				return nil
			}
			tw := a.table()
			for _, p := range posts {
				tags := ""
				if len(p.Tags) > 0 {
					tags = "#" + strings.Join(p.Tags, " #")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.CreatedAt.Local().Format(timeLayout), p.Title, tags)
			}
			return tw.Flush()
		},
	}
}

func (a *app) newPostCmd() *cobra.Command {
	var (
		title string
		text  string
		tags  []string
	)

	cmd := &cobra.Command{
		Use:   "post <book-id> --title <title> --text <text>",
		Short: "Start a forum thread about a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			post, err := a.api().CreatePost(cmd.Context(), args[0], dto.PostRequest{
				Title:    title,
				PostText: text,
				Tags:     tags,
			})
			if err != nil {
				return err
			}
			a.ok("Posted %q (%s)", post.Title, post.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Post title")
	cmd.Flags().StringVar(&text, "text", "", "Post body")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func (a *app) newCommentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "comments <post-id>",
		Short: "Show a post's comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comments, err := a.api().Comments(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(comments) == 0 {
				a.warn("No comments yet")
				return nil
			}
			a.printComments(comments)
			return nil
		},
	}
}

// printComments は返信を親コメントの下に字下げして表示する。
func (a *app) printComments(comments []dto.Comment) {
	replies := make(map[string][]dto.Comment)
	var roots []dto.Comment
	known := make(map[string]bool, len(comments))
	for _, c := range comments {
		known[c.ID] = true
	}
	for _, c := range comments {
		if c.ParentCommentID != "" && known[c.ParentCommentID] {
			replies[c.ParentCommentID] = append(replies[c.ParentCommentID], c)
			continue
		}
		roots = append(roots, c)
	}

	var walk func(c dto.Comment, depth int)
	walk = func(c dto.Comment, depth int) {
		indent := strings.Repeat("  ", depth)
		fmt.Fprintf(a.out, "%s%s %s\n", indent, color.HiBlackString("[%s]", c.ID), c.CommentText)
		for _, r := range replies[c.ID] {
			walk(r, depth+1)
		}
	}
	for _, c := range roots {
		walk(c, 0)
	}
}

func (a *app) newCommentCmd() *cobra.Command {
	var replyTo string

	cmd := &cobra.Command{
		Use:   "comment <post-id> <text>",
		Short: "Comment on a post, or reply to a comment with --reply-to",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			comment, err := a.api().CreateComment(cmd.Context(), args[0], dto.CommentRequest{
				CommentText:     strings.Join(args[1:], " "),
				ParentCommentID: replyTo,
			})
			if err != nil {
				return err
			}
			a.ok("Commented (%s)", comment.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&replyTo, "reply-to", "", "Comment ID to reply to")
	return cmd
}

func (a *app) newChatCmd() *cobra.Command {
	var send string

	cmd := &cobra.Command{
		Use:   "chat <book-id>",
		Short: "Read a book's chat, or send a message with --send",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if send != "" {
				msg, err := a.api().SendChat(ctx, args[0], send)
				if err != nil {
					return err
				}
				a.ok("Sent (%s)", msg.ID)
				return nil
			}

			messages, err := a.api().ChatMessages(ctx, args[0])
			if err != nil {
				return err
			}
			if len(messages) == 0 {
				a.warn("No messages yet")
				return nil
			}
			for _, m := range messages {
				name := m.Username
				if name == "" {
					name = m.UserID
				}
				fmt.Fprintf(a.out, "%s %s %s\n",
					color.HiBlackString(m.CreatedAt.Local().Format(timeLayout)),
					color.CyanString(name+":"),
					m.MessageText,
				)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&send, "send", "", "Message to send")
	return cmd
}
