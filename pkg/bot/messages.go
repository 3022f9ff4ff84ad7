package bot

import "fmt"

// RepositoryURL is advertised in the bot's meta message.
const RepositoryURL = "https://github.com/lemonberrylabs/calcbot"

// WelcomeMessage greets users on /start and /ping.
const WelcomeMessage = "Hi! I'm a calculator bot!"

const defaultUsername = "easycalc_bot"

func helpMessage(username string) string {
	if username == "" {
		username = defaultUsername
	}
	return "I can solve simple math expressions, which consists of numbers, parentheses, and operators:\n" +
		"+, -, *, /, //, **\n" +
		"Example: 2 + 2 * 2 - (2 + 2) **2\n" +
		"\n" +
		"Also, I can solve expressions in inline mode\n" +
		"Example: @" + username + " 2+2*2\n"
}

func metaMessage(version string) string {
	return fmt.Sprintf("I'm built from repository %s\nMy current version: %s", RepositoryURL, version)
}

func pingText(version string) string {
	return WelcomeMessage + "\n\n" + metaMessage(version)
}

func startText(username, version string) string {
	return WelcomeMessage + "\n\n" + helpMessage(username) + "\n\n" + metaMessage(version)
}

func helpText(username, version string) string {
	return helpMessage(username) + "\n---\n" + metaMessage(version)
}
