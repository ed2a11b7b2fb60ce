package app

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はワーカーモード（期限切れロックの掃除）で起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandMember は会員を作成し、トークンを発行する。
	CommandMember Command = "member"
	// CommandToken は既存会員のトークンを再発行する。
	CommandToken Command = "token"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	case "member":
		return CommandMember
	case "token":
		return CommandToken
	default:
		return CommandServe
	}
}

// Options はサブコマンドのフラグ値。
type Options struct {
	// migrate
	MigrateDown  bool
	MigrateSteps int

	// member
	MemberName string
	MemberRole string

	// token
	MemberID string
}

// ParseOptions はサブコマンド名に続くフラグを解析する。
// argsにはサブコマンド名を除いた引数を渡す。
func ParseOptions(cmd Command, args []string) (Options, error) {
	var opts Options

	fs := pflag.NewFlagSet(string(cmd), pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	switch cmd {
	case CommandMigrate:
		fs.BoolVar(&opts.MigrateDown, "down", false, "roll back migrations instead of applying them")
		fs.IntVar(&opts.MigrateSteps, "steps", 0, "number of migrations to roll back (0 = all)")
	case CommandMember:
		fs.StringVar(&opts.MemberName, "name", "", "display name of the member")
		fs.StringVar(&opts.MemberRole, "role", "USER", "member role (USER or ADMIN)")
	case CommandToken:
		fs.StringVar(&opts.MemberID, "member-id", "", "id of the member to issue a token for")
	}

	if err := fs.Parse(args); err != nil {
		return Options{}, fmt.Errorf("invalid %s flags: %w", cmd, err)
	}

	switch cmd {
	case CommandMigrate:
		if opts.MigrateSteps < 0 {
			return Options{}, fmt.Errorf("--steps must not be negative: %d", opts.MigrateSteps)
		}
		if opts.MigrateSteps > 0 && !opts.MigrateDown {
			return Options{}, fmt.Errorf("--steps requires --down")
		}
	case CommandMember:
		if strings.TrimSpace(opts.MemberName) == "" {
			return Options{}, fmt.Errorf("--name is required")
		}
		opts.MemberRole = strings.ToUpper(strings.TrimSpace(opts.MemberRole))
	case CommandToken:
		if opts.MemberID == "" {
			return Options{}, fmt.Errorf("--member-id is required")
		}
	}

	return opts, nil
}
