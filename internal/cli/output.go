package cli

import (
	"bufio"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/hitoshi/shelfmate/internal/model"
)

// ok は緑のチェック付きで成功を表示する。
func (a *app) ok(format string, args ...any) {
	fmt.Fprintln(a.out, color.GreenString("✓"), fmt.Sprintf(format, args...))
}

// warn は黄色の警告をerrOutに表示する。
func (a *app) warn(format string, args ...any) {
	fmt.Fprintln(a.errOut, color.YellowString("!"), fmt.Sprintf(format, args...))
}

// header はシアンの見出しを表示する。
func (a *app) header(format string, args ...any) {
	fmt.Fprintln(a.out, color.CyanString(fmt.Sprintf(format, args...)))
}

func (a *app) table() *tabwriter.Writer {
	return tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
}

// confirm はプロンプトを表示してy/yesの入力があればtrueを返す。
// 入力がない場合はfalseとして扱う。
func (a *app) confirm(prompt string) bool {
	fmt.Fprintf(a.out, "%s [y/N] ", prompt)
	line, _ := bufio.NewReader(a.in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func statusLabel(s model.ShelfStatus) string {
	switch s {
	case model.StatusCurrentlyReading:
		return color.GreenString(string(s))
	case model.StatusRead:
		return color.BlueString(string(s))
	case model.StatusToRead:
		return color.YellowString(string(s))
	}
	return string(s)
}

func ratingLabel(r model.Rating) string {
	switch r {
	case model.RatingPositive:
		return color.GreenString("pos")
	case model.RatingNeutral:
		return "mid"
	case model.RatingNegative:
		return color.RedString("neg")
	}
	return "-"
}

func authorsOf(authors []string) string {
	if len(authors) == 0 {
		return "unknown author"
	}
	return strings.Join(authors, ", ")
}

func progressLine(page, pageCount, percent int) string {
	if pageCount <= 0 {
		return fmt.Sprintf("page %d", page)
	}
	return fmt.Sprintf("page %d/%d (%d%%)", page, pageCount, percent)
}
