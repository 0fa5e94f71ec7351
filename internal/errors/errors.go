package errors

import "github.com/pkg/errors"

var (
	// ingestion errors
	ErrFileNotFound      = errors.New("file not found")
	ErrDuplicateDocument = errors.New("document already exists")
	ErrUnsupportedType   = errors.New("unsupported mime type")
	ErrAsnOutOfRange     = errors.New("archive serial number out of range")
	ErrAsnExists         = errors.New("archive serial number already exists")

	// mail errors
	ErrMailAuthentication = errors.New("mail account authentication failed")
	ErrMailFolderSelect   = errors.New("mail folder selection failed")
	ErrMailFetch          = errors.New("mail fetch failed")

	// storage errors
	ErrNotFound = errors.New("record not found")
)

// IsContentError reports whether the error is terminal for the request rather
// than transient infrastructure trouble. Content errors never create a
// document and are not retried.
func IsContentError(err error) bool {
	for _, sentinel := range []error{
		ErrFileNotFound,
		ErrDuplicateDocument,
		ErrUnsupportedType,
		ErrAsnOutOfRange,
		ErrAsnExists,
		ErrNotFound,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
