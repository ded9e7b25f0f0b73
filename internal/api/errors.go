package api

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"google.golang.org/grpc/codes"

	"catalog-specs-service/internal/filterimport"
	"catalog-specs-service/internal/jobs"
	"catalog-specs-service/internal/matching"
	"catalog-specs-service/internal/store"
)

// classify maps an error to its HTTP status and gRPC code.
func classify(err error) (int, codes.Code) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs), errors.Is(err, ErrNoProducts):
		return http.StatusBadRequest, codes.InvalidArgument
	case errors.Is(err, store.ErrRunNotFound),
		errors.Is(err, store.ErrCategoryNotFound),
		errors.Is(err, store.ErrProductNotFound),
		errors.Is(err, store.ErrAttributeNotFound),
		errors.Is(err, store.ErrUnitNotFound):
		return http.StatusNotFound, codes.NotFound
	case errors.Is(err, store.ErrAttributeExists):
		return http.StatusConflict, codes.AlreadyExists
	case errors.Is(err, store.ErrStaleSnapshot):
		return http.StatusConflict, codes.Aborted
	case errors.Is(err, matching.ErrTargetCategoryNotLeaf), errors.Is(err, filterimport.ErrCategoryNotLeaf):
		return http.StatusUnprocessableEntity, codes.FailedPrecondition
	case errors.Is(err, jobs.ErrRunnerClosed):
		return http.StatusServiceUnavailable, codes.Unavailable
	default:
		return http.StatusInternalServerError, codes.Internal
	}
}
