package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HTTPRecorder はリクエストの結果をメトリクスに記録するインターフェース。
type HTTPRecorder interface {
	RecordHTTPRequest(method string, statusCode int, duration time.Duration)
}

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// requestState はハンドラー側で判明した情報をロギングミドルウェアへ渡す。
type requestState struct {
	userID func() string
}

var requestStateKey = contextKey("request_state")

// noteUserID はログに出力するユーザーIDの取得関数を登録する。
func noteUserID(ctx context.Context, fn func() string) {
	if st, ok := ctx.Value(requestStateKey).(*requestState); ok {
		st.userID = fn
	}
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
// ログにはmethod、path、status、duration_ms、user_id（ログイン中の場合）を含む。
// recorderがnilでない場合はメトリクスにも記録する。
func NewLoggingMiddleware(logger *slog.Logger, recorder HTTPRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			st := &requestState{}

			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestStateKey, st)))

			duration := time.Since(start)
			if recorder != nil {
				recorder.RecordHTTPRequest(r.Method, rec.statusCode, duration)
			}

			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", float64(duration.Nanoseconds())/float64(time.Millisecond)),
			}
			if st.userID != nil {
				if userID := st.userID(); userID != "" {
					args = append(args, slog.String("user_id", userID))
				}
			}

			level := slog.LevelInfo
			if rec.statusCode >= 500 {
				level = slog.LevelError
			} else if rec.statusCode >= 400 {
				level = slog.LevelWarn
			}

			logger.Log(r.Context(), level, "http_request", args...)
		})
	}
}
