// Ensemble CLI — инструмент командной строки для запуска запросов
// и просмотра runs через HTTP API.
//
// Использование:
//
//	ensemble [--api-url URL] [--json] [--timeout D] <command> [flags]
//
// Команды:
//
//	orchestrate  Выполнить запрос
//	run          Просмотр runs
//	agent        Реестр агентов
package main

import (
	"fmt"
	"os"

	"github.com/shaiso/Ensemble/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	if err := cli.NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
