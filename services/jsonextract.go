package services

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonrepair"
)

// LLMの応答はJSONの前後に説明文やコードフェンスが混ざることがあるので、
// 応答全体をパースするのではなく最初の対応の取れた {...} / [...] 区間を
// 探してそこだけをデコードする。この「JSONの周りのゴミを許容する」挙動は
// 仕様であって実装の都合ではない

// ExtractJSONObject はテキストから最初のJSONオブジェクトを取り出してデコードする
func ExtractJSONObject(raw string, target interface{}) error {
	return extractBalanced(raw, '{', '}', target)
}

// ExtractJSONArray はテキストから最初のJSON配列を取り出してデコードする
func ExtractJSONArray(raw string, target interface{}) error {
	return extractBalanced(raw, '[', ']', target)
}

func extractBalanced(raw string, openCh, closeCh byte, target interface{}) error {
	span, err := balancedSpan(raw, openCh, closeCh)
	if err != nil {
		return err
	}

	if json.Unmarshal([]byte(span), target) == nil {
		return nil
	}

	// 壊れたJSONはjsonrepairで修復してから再試行する
	repaired, err := jsonrepair.JSONRepair(span)
	if err != nil {
		return fmt.Errorf("json repair failed: %v", err)
	}
	if err := json.Unmarshal([]byte(repaired), target); err != nil {
		return fmt.Errorf("invalid json even after repair: %v", err)
	}
	return nil
}

// balancedSpan は文字列リテラルとエスケープを考慮しつつ、
// 最初の開き括弧から対応する閉じ括弧までの区間を返す
func balancedSpan(raw string, openCh, closeCh byte) (string, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(raw); i++ {
		c := raw[i]

		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			if start >= 0 {
				inString = true
			}
		case openCh:
			if start < 0 {
				start = i
			}
			depth++
		case closeCh:
			if start >= 0 {
				depth--
				if depth == 0 {
					return raw[start : i+1], nil
				}
			}
		}
	}

	if start < 0 {
		return "", fmt.Errorf("no %c...%c span found in response", openCh, closeCh)
	}
	return "", fmt.Errorf("unbalanced %c...%c span in response", openCh, closeCh)
}
