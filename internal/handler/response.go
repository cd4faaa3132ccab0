// Package handler はHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hitoshi/leetsync/internal/leetcode"
	"github.com/hitoshi/leetsync/internal/middleware"
	"github.com/hitoshi/leetsync/internal/model"
)

// validate はリクエスト構造体の検証に使う。フィールド名はJSONタグ名で報告する。
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationMessages はタグごとの日本語メッセージ。%sにはフィールド名が入る。
var validationMessages = map[string]string{
	"required":      "%sは必須です",
	"required_with": "%sは他の項目と合わせて指定してください",
	"max":           "%sが長すぎます",
	"min":           "%sが短すぎます",
	"oneof":         "%sの値が正しくありません",
	"gte":           "%sの値が小さすぎます",
	"lte":           "%sの値が大きすぎます",
}

// validateRequest はリクエストを検証し、失敗時は検証エラーを返す。
func validateRequest(req any) *model.APIError {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return model.NewValidationError(err.Error())
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		tmpl, ok := validationMessages[fe.Tag()]
		if !ok {
			tmpl = "%sが正しくありません"
		}
		msgs = append(msgs, fmt.Sprintf(tmpl, fe.Field()))
	}
	return model.NewValidationError(strings.Join(msgs, "、"))
}

// decodeJSON はリクエストボディを読み取り、検証する。
func decodeJSON(r *http.Request, dst any) *model.APIError {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return model.NewValidationError("リクエストボディの解析に失敗しました。正しいJSON形式で指定してください")
	}
	return validateRequest(dst)
}

// requireUserID はコンテキストから所有アカウントIDを取り出す。
// 取り出せない場合は401を書き込みfalseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	var upstreamErr *leetcode.Error
	if errors.As(err, &upstreamErr) {
		if upstreamErr.Kind == leetcode.KindRateLimited {
			middleware.WriteErrorResponse(w, http.StatusTooManyRequests, model.NewUpstreamRateLimitedError())
			return
		}
		slog.Warn("upstream request failed", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewUpstreamFailedError(upstreamErr.Error()))
		return
	}

	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}
