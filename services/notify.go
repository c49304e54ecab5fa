package services

import (
	"fmt"
	"log"
	"os"

	"github.com/slack-go/slack"
)

// NotifyPROpened はPRが開かれたことをSlackチャンネルに知らせる
// SLACK_BOT_TOKENとSLACK_CHANNELが未設定なら何もしない
// 通知の失敗はログに残すだけで、タスクの成否には影響させない
func NotifyPROpened(repo, prURL string) {
	token := os.Getenv("SLACK_BOT_TOKEN")
	channel := os.Getenv("SLACK_CHANNEL")
	if token == "" || channel == "" {
		return
	}

	api := slack.New(token)
	text := fmt.Sprintf("🤖 *Echo Agent opened a pull request*\n*Repository*: %s\n*Link*: <%s>", repo, prURL)

	_, _, err := api.PostMessage(channel, slack.MsgOptionBlocks(
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, text, false, false),
			nil, nil,
		),
	))
	if err != nil {
		log.Printf("slack notification error: %v", err)
		return
	}
	log.Printf("slack notification sent for %s", prURL)
}
