// Command assignman は課題管理APIサーバーを起動する。
//
// 使い方:
//
//	assignman [serve|migrate|healthcheck]
package main

import (
	"log/slog"
	"os"

	"github.com/hitoshi/assignman/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		slog.Error("assignman exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
