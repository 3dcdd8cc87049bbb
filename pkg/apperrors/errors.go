package apperrors

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")

	ErrClassificationRequired = errors.New("classification is required before marking complete")
	ErrNoEntitySelected       = errors.New("no entity selected")
	ErrNoDialog               = errors.New("no annotation dialog is open")
	ErrNotClickable           = errors.New("feature is not clickable")

	ErrRasterRequired  = errors.New("exactly one raster file (.tif or .tiff) is required")
	ErrMultipleRasters = errors.New("only one raster file may be uploaded at a time")

	ErrNoAnnotatedData = errors.New("no annotated data")
)
