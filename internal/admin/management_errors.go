package admin

import (
	"errors"
	"net/http"

	"github.com/nuetzliches/brokeradmin/internal/control"
	"github.com/nuetzliches/brokeradmin/internal/management"
	"github.com/nuetzliches/brokeradmin/internal/view"
)

const (
	codeInvalidState      = "invalid_state"
	codeResourceNotFound  = "resource_not_found"
	codeForbidden         = "forbidden"
	codeInvalidOperation  = "invalid_operation"
	codeOperationFailed   = "operation_failed"
	codeUnsupportedEntity = "unsupported_entity"
)

// ClassifyError maps a gateway error to an HTTP status and error code.
func ClassifyError(err error) (status int, code string) {
	var paramErr *control.ParamError
	switch {
	case errors.Is(err, management.ErrInvalidState):
		return http.StatusConflict, codeInvalidState
	case errors.Is(err, management.ErrResourceNotFound):
		return http.StatusNotFound, codeResourceNotFound
	case errors.Is(err, management.ErrUnauthorized):
		return http.StatusForbidden, codeForbidden
	case errors.Is(err, view.ErrUnsupportedKind):
		return http.StatusNotFound, codeUnsupportedEntity
	case errors.As(err, &paramErr), errors.Is(err, control.ErrUnknownOperation):
		return http.StatusBadRequest, codeInvalidOperation
	default:
		return http.StatusInternalServerError, codeOperationFailed
	}
}

func writeGatewayError(w http.ResponseWriter, err error) {
	status, code := ClassifyError(err)
	writeManagementError(w, status, code, err.Error())
}
