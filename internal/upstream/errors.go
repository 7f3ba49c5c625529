package upstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Error は外部サービスが2xx以外のステータスを返した場合のエラー。
type Error struct {
	Operation string
	Status    int
	Code      string
	Message   string
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("upstream %s failed with status %d (%s): %s", e.Operation, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("upstream %s failed with status %d: %s", e.Operation, e.Status, e.Message)
}

// IsClientError はリクエスト内容に起因するエラー（4xx）かどうかを返す。
func (e *Error) IsClientError() bool {
	return e.Status >= 400 && e.Status < 500
}

// AsError はerrがupstream.Errorであれば取り出す。
func AsError(err error) (*Error, bool) {
	var upErr *Error
	if errors.As(err, &upErr) {
		return upErr, true
	}
	return nil, false
}

// errorBody は認証APIとREST APIが返すエラーボディの和集合。
// バージョンによってフィールド名が異なるため、すべて受け取ってから選ぶ。
type errorBody struct {
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	ErrorDescription string          `json:"error_description"`
	ErrorField       string          `json:"error"`
	ErrorCode        string          `json:"error_code"`
	Code             json.RawMessage `json:"code"`
}

// parseError はエラーレスポンスのボディから*Errorを組み立てる。
// JSONでない場合はステータステキストをメッセージとする。
func parseError(operation string, status int, raw []byte) *Error {
	e := &Error{Operation: operation, Status: status}

	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		e.Message = strings.TrimSpace(string(raw))
		if e.Message == "" {
			e.Message = http.StatusText(status)
		}
		return e
	}

	e.Message = firstNonEmpty(body.Msg, body.Message, body.ErrorDescription, body.ErrorField, http.StatusText(status))
	e.Code = firstNonEmpty(body.ErrorCode, rawCode(body.Code), body.ErrorField)
	return e
}

// rawCode は文字列・数値どちらでも返るcodeフィールドを文字列にする。
func rawCode(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.Itoa(n)
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
