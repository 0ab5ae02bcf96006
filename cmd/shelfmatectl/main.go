// Command shelfmatectl は本棚APIを操作するコマンドラインクライアント。
package main

import (
	"os"

	"github.com/hitoshi/shelfmate/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
