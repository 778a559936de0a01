package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/AlecAivazis/survey/v2"
)

// strategyPrompt 询问要运行的回测，测试中可替换。
var strategyPrompt = askStrategy

func askStrategy(out io.Writer) (string, error) {
	fmt.Fprintln(out, "Which backtest would you like to run?")
	fmt.Fprintln(out, "1. Breakout Strategy")
	fmt.Fprintln(out, "2. Moving Average Crossover Strategy")
	var choice string
	prompt := &survey.Input{
		Message: "Enter 1 or 2:",
		Help:    "1 = Breakout, 2 = Moving Average Crossover",
	}
	if err := survey.AskOne(prompt, &choice); err != nil {
		return "", err
	}
	return strings.TrimSpace(choice), nil
}
