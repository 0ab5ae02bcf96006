package app

import (
	"fmt"
	"strconv"
	"strings"
)

// Command はshelfmateのサブコマンド。
type Command string

const (
	CommandServe       Command = "serve"
	CommandWorker      Command = "worker"
	CommandMigrate     Command = "migrate"
	CommandHealthcheck Command = "healthcheck"
)

// MigrateAction は migrate サブコマンドの操作。
type MigrateAction string

const (
	MigrateUp      MigrateAction = "up"
	MigrateDown    MigrateAction = "down"
	MigrateVersion MigrateAction = "version"
)

// Invocation は解析済みのコマンドライン。
type Invocation struct {
	Command Command

	// migrate のみ使用する
	Migrate MigrateAction
	Steps   int
}

const usage = "usage: shelfmate [serve | worker | migrate [up | down <steps> | version] | healthcheck]"

// ParseCommand はos.Args[1:]を解析する。引数がない場合はserve。
// 未知のサブコマンドや余分な引数はエラーにする。
func ParseCommand(args []string) (Invocation, error) {
	if len(args) == 0 {
		return Invocation{Command: CommandServe}, nil
	}

	name, rest := Command(args[0]), args[1:]
	switch name {
	case CommandServe, CommandWorker, CommandHealthcheck:
		if len(rest) > 0 {
			return Invocation{}, fmt.Errorf("%s takes no arguments, got %q\n%s", name, strings.Join(rest, " "), usage)
		}
		return Invocation{Command: name}, nil
	case CommandMigrate:
		return parseMigrate(rest)
	default:
		return Invocation{}, fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

func parseMigrate(args []string) (Invocation, error) {
	inv := Invocation{Command: CommandMigrate, Migrate: MigrateUp}
	if len(args) == 0 {
		return inv, nil
	}

	switch action := MigrateAction(args[0]); action {
	case MigrateUp, MigrateVersion:
		if len(args) > 1 {
			return Invocation{}, fmt.Errorf("migrate %s takes no arguments\n%s", action, usage)
		}
		inv.Migrate = action
	case MigrateDown:
		if len(args) != 2 {
			return Invocation{}, fmt.Errorf("migrate down requires a step count\n%s", usage)
		}
		steps, err := strconv.Atoi(args[1])
		if err != nil || steps <= 0 {
			return Invocation{}, fmt.Errorf("migrate down: step count must be a positive integer, got %q", args[1])
		}
		inv.Migrate = MigrateDown
		inv.Steps = steps
	default:
		return Invocation{}, fmt.Errorf("unknown migrate action %q\n%s", args[0], usage)
	}
	return inv, nil
}
