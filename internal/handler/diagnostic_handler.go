package handler

import (
	"context"
	"net/http"

	"github.com/jugueteria/tienda/internal/authstate"
	"github.com/jugueteria/tienda/internal/diagnostic"
	"github.com/jugueteria/tienda/internal/middleware"
	"github.com/jugueteria/tienda/internal/model"
)

// DiagnosticServiceInterface は権限診断ハンドラーが必要とするサービスインターフェース。
type DiagnosticServiceInterface interface {
	Run(ctx context.Context, snap authstate.Snapshot) *diagnostic.Report
}

// DiagnosticHandler は権限診断のHTTPハンドラー。
// adminが自身の権限状態（プロフィール整合・商品アクセス・外部サービス到達性）を
// 確認するためのビュー。認証済みであれば非adminも実行でき、
// その場合はレポートに問題として記録される。
type DiagnosticHandler struct {
	service DiagnosticServiceInterface
}

// NewDiagnosticHandler はDiagnosticHandlerを生成する。
func NewDiagnosticHandler(service DiagnosticServiceInterface) *DiagnosticHandler {
	return &DiagnosticHandler{service: service}
}

// RunDiagnostic は現在のセッションに対する権限診断を実行する。
// GET /api/admin/diagnostic
func (h *DiagnosticHandler) RunDiagnostic(w http.ResponseWriter, r *http.Request) {
	snap, ok := middleware.SnapshotFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	report := h.service.Run(r.Context(), snap)
	writeJSON(w, http.StatusOK, report)
}
