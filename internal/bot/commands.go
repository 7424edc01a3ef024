package bot

// Command constants for Telegram bot commands.
const (
	CommandStart       = "/start"
	CommandResetWallet = "/resetwallet"
	CommandRecover     = "/recover"
	CommandTip         = "/tip"
	CommandBalance     = "/balance"
	CommandReceive     = "/receive"
	CommandFund        = "/fund"
	CommandLeaderboard = "/leaderboard"
	CommandStats       = "/stats"
	CommandCancel      = "/cancel"
	CommandHelp        = "/help"
)
