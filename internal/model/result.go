package model

// Result はセッションコントローラの操作結果を表す統一フォーマット。
// 外部サービスのエラーはすべてErrorに人が読めるメッセージとして格納される。
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// OK は成功結果を返す。
func OK() Result {
	return Result{Success: true}
}

// Fail はエラーから失敗結果を生成する。
func Fail(err error) Result {
	if err == nil {
		return Result{Success: false, Error: "unknown error"}
	}
	return Result{Success: false, Error: err.Error()}
}

// FailMessage はメッセージから失敗結果を生成する。
func FailMessage(msg string) Result {
	return Result{Success: false, Error: msg}
}

// Notice はUIへ一時的に表示する通知（トースト）を表す。
type Notice struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Variant string `json:"variant,omitempty"` // "destructive" 等
}

// NoticeVariantDestructive はエラー通知の表示種別。
const NoticeVariantDestructive = "destructive"
