package services

import (
	"os"
	"strconv"
	"time"
)

// AgentConfig はエージェントパイプラインのチューニング項目
// すべて環境変数から読み込み、未設定ならデフォルト値を使う
type AgentConfig struct {
	ThresholdLikes     int           // 監視対象が処理対象になるいいね数の下限
	ThresholdComments  int           // 同コメント数の下限
	RecentCommentLimit int           // 1回のスイープで見る直近コメント数
	StaleAfter         time.Duration // この時間ハートビートがないprocessingタスクは放棄とみなす
	SweepInterval      time.Duration // バックグラウンドスイープの間隔
	RequireApproval    bool          // trueならタスクはpending_approvalで作られ人間の承認を待つ
	CodegenURL         string        // 外部コード生成サービスのURL（空ならローカル実装を使う）
	TopCommentURL      string        // トップコメント選定サービスのURL（空ならフォールバック）
}

// LoadAgentConfig は環境変数から設定を読み込む
func LoadAgentConfig() AgentConfig {
	return AgentConfig{
		ThresholdLikes:     envInt("AGENT_THRESHOLD_LIKES", 1),
		ThresholdComments:  envInt("AGENT_THRESHOLD_COMMENTS", 1),
		RecentCommentLimit: envInt("AGENT_RECENT_COMMENT_LIMIT", 20),
		StaleAfter:         time.Duration(envInt("AGENT_STALE_AFTER_MINUTES", 10)) * time.Minute,
		SweepInterval:      time.Duration(envInt("AGENT_SWEEP_INTERVAL_MINUTES", 5)) * time.Minute,
		RequireApproval:    os.Getenv("AGENT_REQUIRE_APPROVAL") == "true",
		CodegenURL:         os.Getenv("CODEGEN_URL"),
		TopCommentURL:      os.Getenv("TOP_COMMENT_URL"),
	}
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
