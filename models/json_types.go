package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// sqliteにはJSON型がないので、リストやマップはTEXTカラムに
// JSONとして書き込む。Valuer/Scannerを実装した型で吸収する

// StringList はカンマ区切りではなくJSON配列で保存する文字列リスト
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	return string(b), err
}

func (l *StringList) Scan(value interface{}) error {
	return scanJSON(value, l)
}

// Vector は埋め込みベクトル
type Vector []float64

func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func (v *Vector) Scan(value interface{}) error {
	return scanJSON(value, v)
}

// JSONMap はタスクのresultペイロードなど自由形式のマップ
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func (m *JSONMap) Scan(value interface{}) error {
	return scanJSON(value, m)
}

// TaskLog はエージェントタスクの監査ログ1件分
type TaskLog struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Status    string    `json:"status,omitempty"`
}

// TaskLogs は追記専用のログリスト
type TaskLogs []TaskLog

func (l TaskLogs) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	return string(b), err
}

func (l *TaskLogs) Scan(value interface{}) error {
	return scanJSON(value, l)
}

func scanJSON(value interface{}, target interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, target)
	case string:
		return json.Unmarshal([]byte(v), target)
	default:
		return fmt.Errorf("cannot scan %T into %T", value, target)
	}
}
