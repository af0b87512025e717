package handler

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/lexgig/lexgig-backend/internal/common"
	"github.com/lexgig/lexgig-backend/pkg/ginutil"
)

// uintParam parses a positive numeric path parameter
func uintParam(c *gin.Context, name string) (uint64, error) {
	v, err := ginutil.ParamID(c, name)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, common.ErrInvalidInput)
	}
	return v, nil
}

func bindError(c *gin.Context, err error) {
	common.DomainErrorResponse(c, fmt.Errorf("%s: %w", err.Error(), common.ErrInvalidInput))
}
