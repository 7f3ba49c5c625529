package app

// Command はinkpostの起動モードを表す。
type Command string

const (
	// CommandServe はブログのWebサーバーを起動する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションを掃除するワーカーを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はPostgreSQLのスキーマを最新にする。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中のサーバーの /health を確認する。
	// distrolessイメージにはcurlがないため、Dockerのヘルスチェックから呼ぶ。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand は先頭の引数からサブコマンドを決める。
// 引数なし、または未知のサブコマンドはserveとして扱う。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := commands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}
